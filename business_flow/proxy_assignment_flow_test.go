package businessflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	testingutil "github.com/McFlipperson/Island-Properties-APP-sub000/testing"
)

// withFlowDB runs a test against a throwaway database, skipping when no
// PostgreSQL server is reachable
func withFlowDB(t *testing.T, fn func(t *testing.T, testDB *testingutil.TestDB)) {
	t.Helper()

	testDB, err := testingutil.SetupTestDB()
	if err != nil {
		t.Skipf("postgres unavailable, skipping: %v", err)
	}
	defer func() {
		if cleanupErr := testDB.TeardownTestDB(); cleanupErr != nil {
			t.Logf("teardown warning: %v", cleanupErr)
		}
	}()

	fn(t, testDB)
}

func newFlowVault(t *testing.T) services.CredentialVault {
	t.Helper()

	vault, err := services.NewCredentialVault(&config.VaultConfig{
		MasterKeyHex:   strings.Repeat("a1", 32),
		KDFIterations:  1000,
		KeyIDPrefix:    "expert_",
		DerivedKeySize: 32,
	})
	require.NoError(t, err)
	return vault
}

func defaultProviderConfig() config.ProxyProviderConfig {
	return config.ProxyProviderConfig{
		RequiredCountry:  "PH",
		DefaultLocations: []string{"Manila"},
	}
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxMonthlyCostUSD:   100,
		MaxProxiesPerExpert: 1,
		MaxPhonesPerExpert:  1,
	}
}

func newProxyFlow(t *testing.T, testDB *testingutil.TestDB, mock *services.MockProxyProviderClient, limits config.LimitsConfig) ProxyAssignmentFlow {
	t.Helper()

	return NewProxyAssignmentFlow(
		repository.NewExpertPersonaRepository(testDB.DB),
		repository.NewProxyAssignmentRepository(testDB.DB),
		mock,
		newFlowVault(t),
		NewLocalExpertLocker(),
		testDB.DB,
		defaultProviderConfig(),
		limits,
	)
}

// failingUpdateAssignmentRepo passes everything through except Update, which
// always fails. Lets tests hit the persistence-failure paths mid-assignment.
type failingUpdateAssignmentRepo struct {
	repository.ProxyAssignmentRepository
	updateErr error
}

func (r *failingUpdateAssignmentRepo) Update(ctx context.Context, a *models.ProxyAssignment) error {
	return r.updateErr
}

func TestAssignProxy(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		metadata := NewClientMetadata("127.0.0.1", "test-agent")
		assignmentRepo := repository.NewProxyAssignmentRepository(testDB.DB)

		t.Run("SuccessfulAssignment", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{}
			flow := newProxyFlow(t, testDB, mock, defaultLimits())

			resp, err := flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
				Location:   "Manila",
			}, metadata)
			require.NoError(t, err)

			assert.Equal(t, models.AssignmentStatusActive, resp.Assignment.Status)
			assert.True(t, resp.Assignment.IsPhilippinesVerified)
			require.NotNil(t, resp.Assignment.DetectedCountry)
			assert.Equal(t, "PH", *resp.Assignment.DetectedCountry)
			assert.Equal(t, 15.00, resp.Assignment.MonthlyCostUSD)
			assert.Equal(t, 1, mock.CreateCalls)
			assert.Equal(t, 1, mock.TestCalls)
			assert.Equal(t, 1, mock.GeoCalls)

			// Stored credentials must decrypt back to the provider's output.
			row, err := assignmentRepo.LiveByExpert(ctx, expert.ID)
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.True(t, row.HasCredentials())

			impl := flow.(*ProxyAssignmentFlowImpl)
			creds, err := impl.DecryptAssignmentCredentials(row)
			require.NoError(t, err)
			assert.Equal(t, "mockuser", creds.Username)
			assert.Equal(t, "203.0.113.10", creds.Host)

			// Second attempt on the same expert is rejected.
			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			assert.True(t, IsAlreadyAssigned(err))
		})

		t.Run("ProxyLimitExceeded", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			limits := defaultLimits()
			limits.MaxProxiesPerExpert = 0
			flow := newProxyFlow(t, testDB, &services.MockProxyProviderClient{}, limits)

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.Error(t, err)
			assert.True(t, IsProxyLimitExceeded(err))

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "PROXY_LIMIT_EXCEEDED", be.Code)
		})

		t.Run("BudgetExceeded", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			_, err = fixtures.CreateActiveAssignment(expert.ID)
			require.NoError(t, err)

			limits := defaultLimits()
			limits.MaxProxiesPerExpert = 2
			limits.MaxMonthlyCostUSD = 10
			flow := newProxyFlow(t, testDB, &services.MockProxyProviderClient{}, limits)

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			assert.True(t, IsBudgetExceeded(err))
		})

		t.Run("LocationMismatchFailsAssignment", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{
				GetGeolocationFunc: func(ctx context.Context, ip string) (*services.Geolocation, error) {
					return &services.Geolocation{IP: ip, CountryCode: "US", City: "Ashburn"}, nil
				},
			}
			flow := newProxyFlow(t, testDB, mock, defaultLimits())

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.Error(t, err)

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "LOCATION_MISMATCH", be.Code)

			// The row records the reason, and the provider proxy was torn
			// down so it stops billing.
			rows, err := assignmentRepo.ByFilter(ctx, models.ProxyAssignmentFilter{ExpertID: &expert.ID}, "", 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, models.AssignmentStatusFailed, rows[0].Status)
			require.NotNil(t, rows[0].StatusChangeReason)
			assert.Contains(t, *rows[0].StatusChangeReason, "location mismatch: expected PH")
			assert.Len(t, mock.DeletedProxies, 1)
		})

		t.Run("ConnectivityTestFailure", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{
				TestConnectionFunc: func(ctx context.Context, creds *services.ProxyCredentials) (*services.ConnectionTestResult, error) {
					return &services.ConnectionTestResult{Success: false, Err: "tunnel refused"}, nil
				},
			}
			flow := newProxyFlow(t, testDB, mock, defaultLimits())

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.Error(t, err)

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "PROXY_TEST_FAILED", be.Code)
			assert.Len(t, mock.DeletedProxies, 1)

			rows, err := assignmentRepo.ByFilter(ctx, models.ProxyAssignmentFilter{ExpertID: &expert.ID}, "", 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			require.NotNil(t, rows[0].StatusChangeReason)
			assert.Contains(t, *rows[0].StatusChangeReason, "connectivity test failed")
		})

		t.Run("CredentialPersistFailureMarksAssignmentFailed", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{}
			repo := &failingUpdateAssignmentRepo{
				ProxyAssignmentRepository: assignmentRepo,
				updateErr:                 errors.New("write refused"),
			}
			flow := NewProxyAssignmentFlow(
				repository.NewExpertPersonaRepository(testDB.DB),
				repo,
				mock,
				newFlowVault(t),
				NewLocalExpertLocker(),
				testDB.DB,
				defaultProviderConfig(),
				defaultLimits(),
			)

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.Error(t, err)

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "ASSIGN_PROXY_FAILED", be.Code)

			// The row moves to failed with the reason, and the provider
			// proxy is torn down so it stops billing.
			rows, err := assignmentRepo.ByFilter(ctx, models.ProxyAssignmentFilter{ExpertID: &expert.ID}, "", 10, 0)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, models.AssignmentStatusFailed, rows[0].Status)
			require.NotNil(t, rows[0].StatusChangeReason)
			assert.Contains(t, *rows[0].StatusChangeReason, "credential persistence failed")
			assert.Len(t, mock.DeletedProxies, 1)
		})

		t.Run("InactiveExpert", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusInactive)
			require.NoError(t, err)

			flow := newProxyFlow(t, testDB, &services.MockProxyProviderClient{}, defaultLimits())
			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			assert.True(t, IsExpertInactive(err))
		})

		t.Run("UnknownExpert", func(t *testing.T) {
			flow := newProxyFlow(t, testDB, &services.MockProxyProviderClient{}, defaultLimits())
			_, err := flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: uuid.New().String(),
			}, metadata)
			assert.True(t, IsExpertNotFound(err))
		})

		t.Run("LockBusy", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			locker := NewLocalExpertLocker()
			flow := NewProxyAssignmentFlow(
				repository.NewExpertPersonaRepository(testDB.DB),
				assignmentRepo,
				&services.MockProxyProviderClient{},
				newFlowVault(t),
				locker,
				testDB.DB,
				defaultProviderConfig(),
				defaultLimits(),
			)

			release, err := locker.Acquire(ctx, expert.UUID.String())
			require.NoError(t, err)
			defer release()

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.Error(t, err)

			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "ASSIGNMENT_IN_PROGRESS", be.Code)
		})
	})
}

func TestReleaseProxy(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		metadata := NewClientMetadata("127.0.0.1", "test-agent")
		assignmentRepo := repository.NewProxyAssignmentRepository(testDB.DB)

		t.Run("SuccessfulRelease", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{}
			flow := newProxyFlow(t, testDB, mock, defaultLimits())

			assigned, err := flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.NoError(t, err)

			released, err := flow.ReleaseProxy(ctx, &dto.ReleaseProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.NoError(t, err)
			assert.True(t, released.Released)
			assert.Equal(t, assigned.Assignment.UUID, released.AssignmentUUID)
			assert.Len(t, mock.DeletedProxies, 1)

			row, err := assignmentRepo.LiveByExpert(ctx, expert.ID)
			require.NoError(t, err)
			assert.Nil(t, row)

			// A second release has nothing to tear down.
			_, err = flow.ReleaseProxy(ctx, &dto.ReleaseProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.Error(t, err)
			assert.True(t, IsNoProxyAssigned(err))
			assert.Len(t, mock.DeletedProxies, 1)
		})

		t.Run("ProviderFailureStillRemovesRow", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{}
			flow := newProxyFlow(t, testDB, mock, defaultLimits())

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.NoError(t, err)

			mock.DeleteProxyFunc = func(ctx context.Context, providerProxyID string) error {
				return errors.New("provider unavailable")
			}

			released, err := flow.ReleaseProxy(ctx, &dto.ReleaseProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.NoError(t, err)
			assert.True(t, released.Released)

			row, err := assignmentRepo.LiveByExpert(ctx, expert.ID)
			require.NoError(t, err)
			assert.Nil(t, row)
		})
	})
}

func TestAssignProxyConcurrentRequests(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		metadata := NewClientMetadata("127.0.0.1", "test-agent")

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)

		mock := &services.MockProxyProviderClient{}
		flow := newProxyFlow(t, testDB, mock, defaultLimits())

		const workers = 8
		var wg sync.WaitGroup
		var successes int32
		errCh := make(chan error, workers)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := flow.AssignProxy(ctx, &dto.AssignProxyRequest{
					ExpertUUID: expert.UUID.String(),
				}, metadata)
				if err == nil {
					atomic.AddInt32(&successes, 1)
					return
				}
				errCh <- err
			}()
		}
		wg.Wait()
		close(errCh)

		// Exactly one request wins; the rest bounce off the lock or the
		// live-assignment check, and only one provider proxy is bought.
		assert.EqualValues(t, 1, successes)
		assert.Equal(t, 1, mock.CreateCalls)
		for err := range errCh {
			var be *BusinessError
			require.ErrorAs(t, err, &be)
			assert.Contains(t, []string{"ASSIGNMENT_IN_PROGRESS", "ALREADY_ASSIGNED"}, be.Code)
		}
	})
}

func TestGetAssignmentStatus(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)

		flow := newProxyFlow(t, testDB, &services.MockProxyProviderClient{}, defaultLimits())

		status, err := flow.GetAssignmentStatus(ctx, expert.UUID.String())
		require.NoError(t, err)
		assert.False(t, status.HasAssignment)
		assert.Nil(t, status.Assignment)

		_, err = fixtures.CreateActiveAssignment(expert.ID)
		require.NoError(t, err)

		status, err = flow.GetAssignmentStatus(ctx, expert.UUID.String())
		require.NoError(t, err)
		assert.True(t, status.HasAssignment)
		require.NotNil(t, status.Assignment)
		assert.Equal(t, models.AssignmentStatusActive, status.Assignment.Status)
		assert.True(t, status.Assignment.IsPhilippinesVerified)
	})
}

func TestRunHealthCheck(t *testing.T) {
	withFlowDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		metadata := NewClientMetadata("127.0.0.1", "test-agent")

		t.Run("FailuresEscalateToFailed", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			mock := &services.MockProxyProviderClient{}
			flow := newProxyFlow(t, testDB, mock, defaultLimits())

			_, err = flow.AssignProxy(ctx, &dto.AssignProxyRequest{
				ExpertUUID: expert.UUID.String(),
			}, metadata)
			require.NoError(t, err)

			mock.TestConnectionFunc = func(ctx context.Context, creds *services.ProxyCredentials) (*services.ConnectionTestResult, error) {
				return &services.ConnectionTestResult{Success: false, Err: "timeout"}, nil
			}

			first, err := flow.RunHealthCheck(ctx, expert.UUID.String())
			require.NoError(t, err)
			assert.False(t, first.Healthy)
			assert.Equal(t, models.HealthStatusDegraded, first.HealthCheckStatus)

			second, err := flow.RunHealthCheck(ctx, expert.UUID.String())
			require.NoError(t, err)
			assert.Equal(t, models.HealthStatusDegraded, second.HealthCheckStatus)

			third, err := flow.RunHealthCheck(ctx, expert.UUID.String())
			require.NoError(t, err)
			assert.Equal(t, models.HealthStatusFailed, third.HealthCheckStatus)

			// Recovery resets the failure streak.
			mock.TestConnectionFunc = nil
			recovered, err := flow.RunHealthCheck(ctx, expert.UUID.String())
			require.NoError(t, err)
			assert.True(t, recovered.Healthy)
			assert.Equal(t, models.HealthStatusHealthy, recovered.HealthCheckStatus)
		})

		t.Run("NoAssignment", func(t *testing.T) {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)

			flow := newProxyFlow(t, testDB, &services.MockProxyProviderClient{}, defaultLimits())
			_, err = flow.RunHealthCheck(ctx, expert.UUID.String())
			assert.True(t, IsNoProxyAssigned(err))
		})
	})
}
