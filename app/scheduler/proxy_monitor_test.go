package scheduler

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	testingutil "github.com/McFlipperson/Island-Properties-APP-sub000/testing"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

func withSchedulerDB(t *testing.T, fn func(t *testing.T, testDB *testingutil.TestDB)) {
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

// stubChecker replaces the assignment flow: designated assignments fail
// their connectivity check at the alert threshold, everything else is
// healthy. Like the real checker it only mutates; the monitor persists.
type stubChecker struct {
	failingIDs map[uint]bool
}

func (s *stubChecker) CheckAssignmentHealth(ctx context.Context, a *models.ProxyAssignment) (*dto.ProxyHealthCheckResponse, error) {
	now := utils.UTCNow()
	healthy := !s.failingIDs[a.ID]
	if healthy {
		a.ConsecutiveFailures = 0
		a.HealthCheckStatus = models.HealthStatusHealthy
	} else {
		a.ConsecutiveFailures = utils.HealthFailureAlertThreshold
		a.HealthCheckStatus = models.HealthStatusFailed
	}
	a.HealthCheckedAt = &now
	a.UpdatedAt = now

	return &dto.ProxyHealthCheckResponse{
		AssignmentUUID:    a.UUID.String(),
		Healthy:           healthy,
		ResponseTimeMs:    120,
		HealthCheckStatus: a.HealthCheckStatus,
	}, nil
}

func (s *stubChecker) DecryptAssignmentCredentials(a *models.ProxyAssignment) (*services.ProxyCredentials, error) {
	return &services.ProxyCredentials{
		Host:     "203.0.113.10",
		Port:     8080,
		Username: "mockuser",
		Password: "mockpass",
		Protocol: "http",
	}, nil
}

func monitorTestConfig() config.MonitorConfig {
	return config.MonitorConfig{
		SweepInterval:      time.Minute,
		ReputationInterval: time.Hour,
		GeoRecheckInterval: time.Hour,
	}
}

func newTestMonitor(testDB *testingutil.TestDB, checker AssignmentHealthChecker, mock *services.MockProxyProviderClient) *ProxyMonitor {
	return NewProxyMonitor(
		repository.NewProxyAssignmentRepository(testDB.DB),
		checker,
		mock,
		monitorTestConfig(),
		"PH",
		log.New(io.Discard, "", 0),
	)
}

func alertsOfType(alerts []dto.ProxyAlertDTO, alertType string) []dto.ProxyAlertDTO {
	var out []dto.ProxyAlertDTO
	for _, a := range alerts {
		if a.AlertType == alertType {
			out = append(out, a)
		}
	}
	return out
}

func TestMonitorSweepRollupAndAlerts(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		checker := &stubChecker{failingIDs: make(map[uint]bool)}
		for i := 0; i < 10; i++ {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			assignment, err := fixtures.CreateActiveAssignment(expert.ID)
			require.NoError(t, err)
			if i < 6 {
				checker.failingIDs[assignment.ID] = true
			}
		}

		mock := &services.MockProxyProviderClient{}
		monitor := newTestMonitor(testDB, checker, mock)

		monitor.RunSweep(ctx)

		summary := monitor.GetSummary()
		assert.Equal(t, SystemCritical, summary.SystemHealth)
		assert.Equal(t, 10, summary.TotalProxies)
		assert.Equal(t, 6, summary.FailedProxies)
		assert.Equal(t, 4, summary.HealthyProxies)
		assert.Equal(t, 0, summary.DegradedProxies)
		assert.NotEmpty(t, summary.LastSweepAt)

		healthAlerts := alertsOfType(monitor.RecentAlerts(), AlertTypeHealthFailure)
		require.Len(t, healthAlerts, 6)
		assert.Equal(t, SeverityCritical, healthAlerts[0].Severity)

		// A second sweep inside the cooldown window must not re-alert.
		monitor.RunSweep(ctx)
		assert.Len(t, alertsOfType(monitor.RecentAlerts(), AlertTypeHealthFailure), 6)

		// Default mock reputation and geolocation are clean, so nothing
		// else fired.
		assert.Empty(t, alertsOfType(monitor.RecentAlerts(), AlertTypeReputationLow))
		assert.Empty(t, alertsOfType(monitor.RecentAlerts(), AlertTypeLocationDrift))
		assert.Empty(t, alertsOfType(monitor.RecentAlerts(), AlertTypeNonResidential))
	})
}

func TestMonitorRollupBoundary(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		// Exactly 30% unhealthy sits on the degraded threshold and must
		// still report healthy; the ratio has to exceed it.
		checker := &stubChecker{failingIDs: make(map[uint]bool)}
		for i := 0; i < 10; i++ {
			expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
			require.NoError(t, err)
			assignment, err := fixtures.CreateActiveAssignment(expert.ID)
			require.NoError(t, err)
			if i < 3 {
				checker.failingIDs[assignment.ID] = true
			}
		}

		monitor := newTestMonitor(testDB, checker, &services.MockProxyProviderClient{})
		monitor.RunSweep(ctx)

		summary := monitor.GetSummary()
		assert.Equal(t, SystemHealthy, summary.SystemHealth)
		assert.Equal(t, 3, summary.FailedProxies)
		assert.Equal(t, 7, summary.HealthyProxies)
	})
}

func TestMonitorLocationDrift(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		assignmentRepo := repository.NewProxyAssignmentRepository(testDB.DB)

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)
		assignment, err := fixtures.CreateActiveAssignment(expert.ID)
		require.NoError(t, err)

		mock := &services.MockProxyProviderClient{
			GetGeolocationFunc: func(ctx context.Context, ip string) (*services.Geolocation, error) {
				return &services.Geolocation{IP: ip, CountryCode: "US", Region: "CA", City: "San Jose"}, nil
			},
		}
		checker := &stubChecker{failingIDs: make(map[uint]bool)}
		monitor := newTestMonitor(testDB, checker, mock)

		monitor.RunSweep(ctx)

		drifts := alertsOfType(monitor.RecentAlerts(), AlertTypeLocationDrift)
		require.Len(t, drifts, 1)
		assert.Equal(t, SeverityHigh, drifts[0].Severity)
		assert.Contains(t, drifts[0].Message, "US")

		updated, err := assignmentRepo.ByID(ctx, assignment.ID)
		require.NoError(t, err)
		assert.False(t, updated.IsPhilippinesVerified)
		require.NotNil(t, updated.DetectedCountry)
		assert.Equal(t, "US", *updated.DetectedCountry)
	})
}

func TestMonitorReputation(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()
		assignmentRepo := repository.NewProxyAssignmentRepository(testDB.DB)

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)
		assignment, err := fixtures.CreateActiveAssignment(expert.ID)
		require.NoError(t, err)

		mock := &services.MockProxyProviderClient{
			CheckReputationFunc: func(ctx context.Context, ip string) (*services.ReputationResult, error) {
				return &services.ReputationResult{
					IP:            ip,
					Score:         20,
					IsResidential: false,
					Blacklists:    []string{"dnsbl.example.org"},
				}, nil
			},
		}
		checker := &stubChecker{failingIDs: make(map[uint]bool)}
		monitor := newTestMonitor(testDB, checker, mock)

		monitor.RunSweep(ctx)

		lowRep := alertsOfType(monitor.RecentAlerts(), AlertTypeReputationLow)
		require.Len(t, lowRep, 1)
		assert.Equal(t, SeverityHigh, lowRep[0].Severity)

		blacklisted := alertsOfType(monitor.RecentAlerts(), AlertTypeBlacklisted)
		require.Len(t, blacklisted, 1)
		assert.Equal(t, SeverityHigh, blacklisted[0].Severity)
		assert.Contains(t, blacklisted[0].Message, "dnsbl.example.org")

		nonResidential := alertsOfType(monitor.RecentAlerts(), AlertTypeNonResidential)
		require.Len(t, nonResidential, 1)
		assert.Equal(t, SeverityMedium, nonResidential[0].Severity)

		updated, err := assignmentRepo.ByID(ctx, assignment.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BlacklistStatusFlagged, updated.BlacklistStatus)
		require.NotNil(t, updated.ReputationScore)
		assert.Equal(t, 20.0, *updated.ReputationScore)
		require.NotNil(t, updated.IsResidentialIP)
		assert.False(t, *updated.IsResidentialIP)
	})
}

func TestGetProxyMetrics(t *testing.T) {
	withSchedulerDB(t, func(t *testing.T, testDB *testingutil.TestDB) {
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		expert, err := fixtures.CreateTestExpert(models.ExpertStatusActive)
		require.NoError(t, err)
		assignment, err := fixtures.CreateActiveAssignment(expert.ID)
		require.NoError(t, err)

		checker := &stubChecker{failingIDs: make(map[uint]bool)}
		monitor := newTestMonitor(testDB, checker, &services.MockProxyProviderClient{})
		monitor.RunSweep(ctx)

		metrics, err := monitor.GetProxyMetrics(ctx, assignment.UUID.String())
		require.NoError(t, err)
		assert.Equal(t, assignment.UUID.String(), metrics.AssignmentUUID)
		assert.Equal(t, models.HealthStatusHealthy, metrics.HealthCheckStatus)
		assert.Equal(t, 0, metrics.ConsecutiveFailures)
		assert.True(t, metrics.IsPhilippinesVerified)
		assert.NotEmpty(t, metrics.LastHealthCheckAt)

		_, err = monitor.GetProxyMetrics(ctx, "not-a-uuid")
		assert.Error(t, err)

		_, err = monitor.GetProxyMetrics(ctx, "00000000-0000-0000-0000-000000000000")
		assert.Error(t, err)
	})
}
