package businessflow

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	testingutil "github.com/McFlipperson/Island-Properties-APP-sub000/testing"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
	"github.com/lib/pq"
)

func newVerificationFlow(testDB *testingutil.TestDB, deliverer services.CodeDeliverer) VerificationFlow {
	return NewVerificationFlow(
		repository.NewExpertPersonaRepository(testDB.DB),
		repository.NewPhoneNumberRepository(testDB.DB),
		repository.NewVerificationSessionRepository(testDB.DB),
		repository.NewInboundMessageRepository(testDB.DB),
		repository.NewExtractedCodeRepository(testDB.DB),
		NewCodeExtractor(),
		deliverer,
		testDB.DB,
	)
}

func webhookRequest(to, body string) *dto.InboundSMSRequest {
	return &dto.InboundSMSRequest{
		MessageSID: "SM" + uuid.New().String()[:16],
		From:       "+12025550123",
		To:         to,
		Body:       body,
	}
}

func TestCreateSession(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		metadata := NewClientMetadata("127.0.0.1", "test-agent")
		flow := newVerificationFlow(testDB, &services.MockCodeDeliverer{})

		t.Run("SuccessfulSession", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
			require.NoError(t, err)

			resp, err := flow.CreateSession(ctx, &dto.CreateSessionRequest{
				ExpertUUID: expert.UUID.String(),
				Platform:   "facebook",
				Action:     "registration",
			}, metadata)
			require.NoError(t, err)

			assert.Equal(t, models.SessionStatusActive, resp.Session.Status)
			assert.Equal(t, phone.Number, resp.Session.PhoneNumber)
			assert.Equal(t, "facebook", resp.Session.Platform)
			assert.Equal(t, utils.SessionMaxAttempts, resp.Session.AttemptsRemaining)
		})

		t.Run("NoActiveNumber", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			_, err = flow.CreateSession(ctx, &dto.CreateSessionRequest{
				ExpertUUID: expert.UUID.String(),
				Platform:   "google",
				Action:     "login",
			}, metadata)
			assert.True(t, IsNoActivePhoneNumber(err))
		})

		t.Run("NumberWithoutSMSCapability", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			phone := &models.PhoneNumber{
				UUID:             uuid.New(),
				ExpertID:         expert.ID,
				Number:           fmt.Sprintf("+6391%08d", rand.Intn(100000000)),
				ProviderSID:      "PN" + uuid.New().String()[:16],
				Status:           models.PhoneStatusActive,
				AssignmentStatus: models.PhoneAssigned,
				Capabilities:     pq.StringArray{models.CapabilityVoice},
			}
			require.NoError(t, testDB.DB.Create(phone).Error)

			_, err = flow.CreateSession(ctx, &dto.CreateSessionRequest{
				ExpertUUID: expert.UUID.String(),
				Platform:   "google",
				Action:     "login",
			}, metadata)
			require.Error(t, err)

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "NUMBER_NOT_SMS_CAPABLE", be.Code)
		})
	})
}

func TestProcessInboundMessage(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		messageRepo := repository.NewInboundMessageRepository(testDB.DB)
		sessionRepo := repository.NewVerificationSessionRepository(testDB.DB)
		codeRepo := repository.NewExtractedCodeRepository(testDB.DB)

		t.Run("CodeExtractedAndSessionCompleted", func(t *testing.T) {
			deliverer := &services.MockCodeDeliverer{}
			flow := newVerificationFlow(testDB, deliverer)

			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
			require.NoError(t, err)
			session, err := fixtures.CreateTestSession(expert.ID, phone.ID, "facebook")
			require.NoError(t, err)

			resp, err := flow.ProcessInboundMessage(ctx, webhookRequest(phone.Number, "94823 is your Facebook code"))
			require.NoError(t, err)

			assert.Equal(t, models.ProcessingStatusProcessed, resp.ProcessingStatus)
			require.NotNil(t, resp.Code)
			assert.Equal(t, "94823", *resp.Code)
			require.NotNil(t, resp.SessionUUID)
			assert.Equal(t, session.UUID.String(), *resp.SessionUUID)

			// Session closes, the code lands on the session's expert, and
			// the live stream got the push.
			updated, err := sessionRepo.ByID(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SessionStatusCompleted, updated.Status)
			assert.NotNil(t, updated.CompletedAt)

			codes, err := codeRepo.ListActiveByExpert(ctx, expert.ID)
			require.NoError(t, err)
			require.Len(t, codes, 1)
			assert.Equal(t, "94823", codes[0].Code)
			assert.True(t, codes[0].SentToDashboard)
			assert.NotNil(t, codes[0].DeliveredAt)

			assert.Equal(t, 1, deliverer.DeliveredCount())
			assert.Equal(t, "facebook", deliverer.Delivered[0].Platform)
		})

		t.Run("MessagePersistedBeforeExtraction", func(t *testing.T) {
			flow := newVerificationFlow(testDB, &services.MockCodeDeliverer{})

			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
			require.NoError(t, err)

			resp, err := flow.ProcessInboundMessage(ctx, webhookRequest(phone.Number, "Lunch at noon?"))
			require.NoError(t, err)
			assert.Equal(t, models.ProcessingStatusProcessed, resp.ProcessingStatus)
			assert.Nil(t, resp.Code)

			// Even a spam message leaves a durable record, processed with a
			// note rather than silently dropped.
			messages, err := messageRepo.ByFilter(ctx, models.InboundMessageFilter{PhoneNumberID: &phone.ID}, "", 10, 0)
			require.NoError(t, err)
			require.Len(t, messages, 1)
			assert.Equal(t, "Lunch at noon?", messages[0].Body)
			assert.Equal(t, models.ProcessingStatusProcessed, messages[0].ProcessingStatus)
			require.NotNil(t, messages[0].ProcessingNote)
			assert.Equal(t, "no code detected", *messages[0].ProcessingNote)
		})

		t.Run("SpamBurnsSessionAttempts", func(t *testing.T) {
			flow := newVerificationFlow(testDB, &services.MockCodeDeliverer{})

			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
			require.NoError(t, err)
			session, err := fixtures.CreateTestSession(expert.ID, phone.ID, "facebook")
			require.NoError(t, err)

			for i := 0; i < session.AttemptsRemaining-1; i++ {
				_, err := flow.ProcessInboundMessage(ctx, webhookRequest(phone.Number, "Huge sale this weekend only!"))
				require.NoError(t, err)
			}

			drained, err := sessionRepo.ByID(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, drained.AttemptsRemaining)
			assert.Equal(t, models.SessionStatusActive, drained.Status)

			// The last miss exhausts the session.
			_, err = flow.ProcessInboundMessage(ctx, webhookRequest(phone.Number, "Another offer you can't refuse"))
			require.NoError(t, err)

			failed, err := sessionRepo.ByID(ctx, session.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, failed.AttemptsRemaining)
			assert.Equal(t, models.SessionStatusFailed, failed.Status)
		})

		t.Run("UnknownRecipient", func(t *testing.T) {
			flow := newVerificationFlow(testDB, &services.MockCodeDeliverer{})

			_, err := flow.ProcessInboundMessage(ctx, webhookRequest("+19995550000", "Your code: 482913"))
			assert.True(t, IsUnknownRecipient(err))
		})

		t.Run("NoSessionFallsBackToPhoneOwner", func(t *testing.T) {
			deliverer := &services.MockCodeDeliverer{}
			flow := newVerificationFlow(testDB, deliverer)

			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
			require.NoError(t, err)

			resp, err := flow.ProcessInboundMessage(ctx, webhookRequest(phone.Number, "Your code: 482913"))
			require.NoError(t, err)
			assert.Equal(t, models.ProcessingStatusProcessed, resp.ProcessingStatus)
			assert.Nil(t, resp.SessionUUID)

			codes, err := codeRepo.ListActiveByExpert(ctx, expert.ID)
			require.NoError(t, err)
			require.Len(t, codes, 1)
			require.NotNil(t, codes[0].ExpertID)
			assert.Equal(t, expert.ID, *codes[0].ExpertID)
			assert.Nil(t, codes[0].SessionID)
		})

		t.Run("ExpiredSessionIsNotMatched", func(t *testing.T) {
			flow := newVerificationFlow(testDB, &services.MockCodeDeliverer{})

			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
			require.NoError(t, err)
			expired, err := fixtures.CreateExpiredSession(expert.ID, phone.ID)
			require.NoError(t, err)

			resp, err := flow.ProcessInboundMessage(ctx, webhookRequest(phone.Number, "Your code: 482913"))
			require.NoError(t, err)
			assert.Equal(t, models.ProcessingStatusProcessed, resp.ProcessingStatus)
			assert.Nil(t, resp.SessionUUID)

			// The stale session must not be closed by a message it never
			// owned.
			still, err := sessionRepo.ByID(ctx, expired.ID)
			require.NoError(t, err)
			assert.Equal(t, models.SessionStatusActive, still.Status)
		})
	})
}

func TestActiveCodes(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		flow := newVerificationFlow(testDB, &services.MockCodeDeliverer{})

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)
		phone, err := fixtures.CreateTestPhoneNumber(expert.ID)
		require.NoError(t, err)
		message, err := fixtures.CreateTestMessage(phone.ID, "Your code: 482913")
		require.NoError(t, err)

		code, err := fixtures.CreateTestCode(message.ID, &expert.ID, "482913")
		require.NoError(t, err)
		_, err = fixtures.CreateExpiredCode(message.ID, &expert.ID)
		require.NoError(t, err)

		t.Run("ExpiredCodesAreExcluded", func(t *testing.T) {
			resp, err := flow.GetActiveCodes(ctx, expert.UUID.String())
			require.NoError(t, err)
			require.Len(t, resp.Codes, 1)
			assert.Equal(t, "482913", resp.Codes[0].Code)
		})

		t.Run("MarkViewed", func(t *testing.T) {
			require.NoError(t, flow.MarkCodeViewed(ctx, expert.UUID.String(), code.UUID.String()))

			codeRepo := repository.NewExtractedCodeRepository(testDB.DB)
			updated, err := codeRepo.ByID(ctx, code.ID)
			require.NoError(t, err)
			assert.True(t, updated.ViewedByUser)
		})

		t.Run("MarkViewedWrongExpert", func(t *testing.T) {
			other, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			err = flow.MarkCodeViewed(ctx, other.UUID.String(), code.UUID.String())
			require.Error(t, err)

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "CODE_NOT_FOUND", be.Code)
		})
	})
}
