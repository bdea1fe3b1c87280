package scheduler

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	testingutil "github.com/McFlipperson/Island-Properties-APP-sub000/testing"
)

func TestExpiryWorkerRunOnce(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		sessionRepo := repository.NewVerificationSessionRepository(testDB.DB)
		codeRepo := repository.NewExtractedCodeRepository(testDB.DB)

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)
		phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
		require.NoError(t, err)

		staleSession, err := fixtures.CreateExpiredSession(expert.ID, phone.ID)
		require.NoError(t, err)
		freshSession, err := fixtures.CreateTestSession(expert.ID, phone.ID, "facebook")
		require.NoError(t, err)

		message, err := fixtures.CreateTestMessage(phone.ID, "Your code: 482913")
		require.NoError(t, err)
		staleCode, err := fixtures.CreateExpiredCode(message.ID, &expert.ID)
		require.NoError(t, err)
		freshCode, err := fixtures.CreateTestCode(message.ID, &expert.ID, "482913")
		require.NoError(t, err)

		worker := NewExpiryWorker(sessionRepo, codeRepo, time.Minute, log.New(io.Discard, "", 0))
		worker.runOnce(ctx)

		expiredSession, err := sessionRepo.ByID(ctx, staleSession.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusExpired, expiredSession.Status)

		liveSession, err := sessionRepo.ByID(ctx, freshSession.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusActive, liveSession.Status)

		expiredCode, err := codeRepo.ByID(ctx, staleCode.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CodeStatusExpired, expiredCode.CodeStatus)

		liveCode, err := codeRepo.ByID(ctx, freshCode.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CodeStatusActive, liveCode.CodeStatus)

		// Idempotent on a second pass.
		worker.runOnce(ctx)
		again, err := codeRepo.ByID(ctx, staleCode.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CodeStatusExpired, again.CodeStatus)
	})
}

func TestExpiryWorkerStartStop(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		worker := NewExpiryWorker(
			repository.NewVerificationSessionRepository(testDB.DB),
			repository.NewExtractedCodeRepository(testDB.DB),
			time.Hour,
			log.New(io.Discard, "", 0),
		)

		stop := worker.Start(context.Background())
		stop()
		// Stopping twice must be safe.
		stop()
	})
}
