// Package scheduler contains background workers that run on fixed intervals
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// Monitor alert types
const (
	AlertTypeHealthFailure  = "health_failure"
	AlertTypeSlowResponse   = "slow_response"
	AlertTypeReputationLow  = "reputation_low"
	AlertTypeBlacklisted    = "blacklisted"
	AlertTypeLocationDrift  = "location_drift"
	AlertTypeNonResidential = "non_residential"
)

// Alert severities
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// System health roll-up values
const (
	SystemHealthy  = "healthy"
	SystemDegraded = "degraded"
	SystemCritical = "critical"
)

const reputationAlertFloor = 50.0

var (
	monitorSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxy_monitor_sweeps_total",
		Help: "Completed monitor sweeps",
	})
	monitorAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_monitor_alerts_total",
		Help: "Alerts raised by the proxy monitor",
	}, []string{"alert_type"})
	monitorProxiesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proxy_monitor_proxies",
		Help: "Active proxies by health status",
	}, []string{"health_status"})
	monitorSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxy_monitor_sweep_duration_seconds",
		Help:    "Wall time of one monitor sweep",
		Buckets: prometheus.DefBuckets,
	})
)

// AssignmentHealthChecker is the slice of the assignment flow the monitor
// needs. Extracted as an interface so the monitor stays independent and
// easy to test.
type AssignmentHealthChecker interface {
	CheckAssignmentHealth(ctx context.Context, assignment *models.ProxyAssignment) (*dto.ProxyHealthCheckResponse, error)
	DecryptAssignmentCredentials(assignment *models.ProxyAssignment) (*services.ProxyCredentials, error)
}

type alertKey struct {
	proxyID   uint
	alertType string
}

// ProxyMonitor periodically sweeps active assignments: connectivity every
// sweep, reputation and geolocation on their own slower cadences. Alerts
// are deduplicated per (proxy, type) within a cooldown window.
type ProxyMonitor struct {
	assignmentRepo repository.ProxyAssignmentRepository
	checker        AssignmentHealthChecker
	proxyClient    services.ProxyProviderClient
	cfg            config.MonitorConfig

	requiredCountry string
	logger          *log.Logger

	mu           sync.Mutex
	started      bool
	lastAlerts   map[alertKey]time.Time
	recentAlerts []dto.ProxyAlertDTO
	summary      dto.MonitorSummaryDTO
	lastSweepAt  time.Time
}

// NewProxyMonitor creates a new proxy monitor
func NewProxyMonitor(
	assignmentRepo repository.ProxyAssignmentRepository,
	checker AssignmentHealthChecker,
	proxyClient services.ProxyProviderClient,
	cfg config.MonitorConfig,
	requiredCountry string,
	logger *log.Logger,
) *ProxyMonitor {
	if logger == nil {
		logger = log.New(os.Stdout, "monitor ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
	}

	return &ProxyMonitor{
		assignmentRepo:  assignmentRepo,
		checker:         checker,
		proxyClient:     proxyClient,
		cfg:             cfg,
		requiredCountry: requiredCountry,
		logger:          logger,
		lastAlerts:      make(map[alertKey]time.Time),
		summary:         dto.MonitorSummaryDTO{SystemHealth: SystemHealthy},
	}
}

// Start launches the sweep loop in a background goroutine and returns a
// stop function. Calling Start on a running monitor returns a no-op stop.
func (m *ProxyMonitor) Start(parent context.Context) func() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return func() {}
	}
	m.started = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		m.RunSweep(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RunSweep(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			m.mu.Lock()
			m.started = false
			m.mu.Unlock()
		})
	}
}

// RunSweep checks every active assignment concurrently, then recomputes the
// fleet roll-up. One slow or failing proxy never blocks the others; each
// task captures its own error.
func (m *ProxyMonitor) RunSweep(ctx context.Context) {
	start := time.Now()

	assignments, err := m.assignmentRepo.ListActive(ctx)
	if err != nil {
		m.logger.Printf("monitor: failed to list active assignments: %v", err)
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 8)
	for _, assignment := range assignments {
		wg.Add(1)
		sem <- struct{}{}
		go func(a *models.ProxyAssignment) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := m.checkAssignment(ctx, a); err != nil {
				m.logger.Printf("monitor: check failed for assignment %s: %v", a.UUID, err)
			}
		}(assignment)
	}
	wg.Wait()

	m.updateRollup(ctx)

	monitorSweepsTotal.Inc()
	monitorSweepDuration.Observe(time.Since(start).Seconds())
	m.logger.Printf("monitor: sweep finished, %d assignments in %s", len(assignments), time.Since(start).Round(time.Millisecond))
}

// checkAssignment runs the per-proxy checks that are due: connectivity on
// every sweep, reputation and geolocation only when stale
func (m *ProxyMonitor) checkAssignment(ctx context.Context, assignment *models.ProxyAssignment) error {
	health, err := m.checker.CheckAssignmentHealth(ctx, assignment)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}

	if !health.Healthy && assignment.ConsecutiveFailures >= utils.HealthFailureAlertThreshold {
		m.raiseAlert(assignment, AlertTypeHealthFailure, SeverityCritical,
			fmt.Sprintf("connectivity failed %d times in a row", assignment.ConsecutiveFailures))
	}
	if health.Healthy && time.Duration(health.ResponseTimeMs)*time.Millisecond > utils.ResponseTimeAlertThreshold {
		m.raiseAlert(assignment, AlertTypeSlowResponse, SeverityMedium,
			fmt.Sprintf("response time %dms exceeds threshold", health.ResponseTimeMs))
	}

	now := utils.UTCNow()

	if assignment.ReputationCheckedAt == nil || now.Sub(*assignment.ReputationCheckedAt) >= m.cfg.ReputationInterval {
		if err := m.checkReputation(ctx, assignment); err != nil {
			m.logger.Printf("monitor: reputation check failed for %s: %v", assignment.UUID, err)
		}
	}

	if assignment.LocationCheckedAt == nil || now.Sub(*assignment.LocationCheckedAt) >= m.cfg.GeoRecheckInterval {
		if err := m.checkLocation(ctx, assignment); err != nil {
			m.logger.Printf("monitor: location check failed for %s: %v", assignment.UUID, err)
		}
	}

	// Health, reputation and geolocation results land in one write.
	assignment.UpdatedAt = utils.UTCNow()
	if err := m.assignmentRepo.Update(ctx, assignment); err != nil {
		return fmt.Errorf("persist check results: %w", err)
	}

	return nil
}

// checkReputation refreshes the assignment's reputation fields in place; the
// caller persists
func (m *ProxyMonitor) checkReputation(ctx context.Context, assignment *models.ProxyAssignment) error {
	creds, err := m.checker.DecryptAssignmentCredentials(assignment)
	if err != nil {
		return err
	}

	rep, err := m.proxyClient.CheckReputation(ctx, creds.Host)
	if err != nil {
		return err
	}

	now := utils.UTCNow()
	assignment.ReputationScore = &rep.Score
	assignment.IsResidentialIP = &rep.IsResidential
	assignment.ReputationCheckedAt = &now
	if len(rep.Blacklists) > 0 {
		assignment.BlacklistStatus = models.BlacklistStatusFlagged
	} else {
		assignment.BlacklistStatus = models.BlacklistStatusClean
	}

	if rep.Score < reputationAlertFloor {
		m.raiseAlert(assignment, AlertTypeReputationLow, SeverityHigh,
			fmt.Sprintf("reputation score %.1f below %.0f", rep.Score, reputationAlertFloor))
	}
	if len(rep.Blacklists) > 0 {
		m.raiseAlert(assignment, AlertTypeBlacklisted, SeverityHigh,
			fmt.Sprintf("IP listed on: %s", strings.Join(rep.Blacklists, ", ")))
	}
	if !rep.IsResidential {
		m.raiseAlert(assignment, AlertTypeNonResidential, SeverityMedium,
			"exit IP is no longer classified as residential")
	}

	return nil
}

// checkLocation refreshes the assignment's geolocation fields in place; the
// caller persists
func (m *ProxyMonitor) checkLocation(ctx context.Context, assignment *models.ProxyAssignment) error {
	creds, err := m.checker.DecryptAssignmentCredentials(assignment)
	if err != nil {
		return err
	}

	testResult, err := m.proxyClient.TestConnection(ctx, creds)
	if err != nil {
		return err
	}
	if !testResult.Success || testResult.ExitIP == "" {
		// Connectivity problems are the health check's concern.
		return nil
	}

	geo, err := m.proxyClient.GetGeolocation(ctx, testResult.ExitIP)
	if err != nil {
		return err
	}

	now := utils.UTCNow()
	assignment.DetectedCountry = utils.ToPtr(strings.ToUpper(geo.CountryCode))
	assignment.DetectedCity = utils.ToPtr(geo.City)
	assignment.DetectedRegion = utils.ToPtr(geo.Region)
	assignment.IsPhilippinesVerified = strings.EqualFold(geo.CountryCode, "PH")
	assignment.LocationCheckedAt = &now

	if !strings.EqualFold(geo.CountryCode, m.requiredCountry) {
		m.raiseAlert(assignment, AlertTypeLocationDrift, SeverityHigh,
			fmt.Sprintf("exit IP drifted to %s, expected %s", strings.ToUpper(geo.CountryCode), m.requiredCountry))
	}

	return nil
}

// raiseAlert logs and counts an alert unless the same (proxy, type) pair
// alerted within the cooldown window
func (m *ProxyMonitor) raiseAlert(assignment *models.ProxyAssignment, alertType, severity, message string) {
	key := alertKey{proxyID: assignment.ID, alertType: alertType}
	now := utils.UTCNow()

	m.mu.Lock()
	if last, ok := m.lastAlerts[key]; ok && now.Sub(last) < utils.AlertCooldown {
		m.mu.Unlock()
		return
	}
	m.lastAlerts[key] = now

	alert := dto.ProxyAlertDTO{
		AssignmentUUID: assignment.UUID.String(),
		AlertType:      alertType,
		Severity:       severity,
		Message:        message,
		RaisedAt:       now.Format(time.RFC3339),
	}
	m.recentAlerts = append(m.recentAlerts, alert)
	if len(m.recentAlerts) > 100 {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-100:]
	}
	m.mu.Unlock()

	monitorAlertsTotal.WithLabelValues(alertType).Inc()
	m.logger.Printf("monitor: ALERT [%s/%s] assignment %s: %s", severity, alertType, assignment.UUID, message)
}

// updateRollup recomputes the fleet-wide health summary from current
// assignment health states
func (m *ProxyMonitor) updateRollup(ctx context.Context) {
	assignments, err := m.assignmentRepo.ListActive(ctx)
	if err != nil {
		m.logger.Printf("monitor: rollup skipped, failed to list assignments: %v", err)
		return
	}

	var healthy, degraded, failed int
	for _, a := range assignments {
		switch a.HealthCheckStatus {
		case models.HealthStatusFailed:
			failed++
		case models.HealthStatusDegraded:
			degraded++
		default:
			healthy++
		}
	}

	total := len(assignments)
	systemHealth := SystemHealthy
	if total > 0 {
		failedRatio := float64(failed) / float64(total)
		unhealthyRatio := float64(failed+degraded) / float64(total)
		switch {
		case failedRatio > utils.CriticalRollupRatio:
			systemHealth = SystemCritical
		case unhealthyRatio > utils.DegradedRollupRatio:
			systemHealth = SystemDegraded
		}
	}

	now := utils.UTCNow()
	m.mu.Lock()
	m.lastSweepAt = now
	m.summary = dto.MonitorSummaryDTO{
		SystemHealth:    systemHealth,
		TotalProxies:    total,
		HealthyProxies:  healthy,
		DegradedProxies: degraded,
		FailedProxies:   failed,
		LastSweepAt:     now.Format(time.RFC3339),
	}
	m.mu.Unlock()

	monitorProxiesGauge.WithLabelValues(models.HealthStatusHealthy).Set(float64(healthy))
	monitorProxiesGauge.WithLabelValues(models.HealthStatusDegraded).Set(float64(degraded))
	monitorProxiesGauge.WithLabelValues(models.HealthStatusFailed).Set(float64(failed))
}

// GetSummary returns the roll-up from the most recent sweep
func (m *ProxyMonitor) GetSummary() dto.MonitorSummaryDTO {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// RecentAlerts returns up to the last 100 alerts, oldest first
func (m *ProxyMonitor) RecentAlerts() []dto.ProxyAlertDTO {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dto.ProxyAlertDTO, len(m.recentAlerts))
	copy(out, m.recentAlerts)
	return out
}

// GetProxyMetrics returns the stored metrics snapshot for one assignment
func (m *ProxyMonitor) GetProxyMetrics(ctx context.Context, assignmentUUID string) (*dto.ProxyMetricsDTO, error) {
	parsed, err := uuid.Parse(assignmentUUID)
	if err != nil {
		return nil, fmt.Errorf("invalid assignment UUID: %w", err)
	}

	assignments, err := m.assignmentRepo.ByFilter(ctx, models.ProxyAssignmentFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("assignment %s not found", assignmentUUID)
	}

	a := assignments[0]
	metrics := &dto.ProxyMetricsDTO{
		AssignmentUUID:        a.UUID.String(),
		HealthCheckStatus:     a.HealthCheckStatus,
		ConsecutiveFailures:   a.ConsecutiveFailures,
		AverageResponseTimeMs: a.AverageResponseTimeMs,
		ReputationScore:       a.ReputationScore,
		BlacklistStatus:       a.BlacklistStatus,
		IsPhilippinesVerified: a.IsPhilippinesVerified,
	}
	if a.HealthCheckedAt != nil {
		metrics.LastHealthCheckAt = a.HealthCheckedAt.Format(time.RFC3339)
	}
	if a.ReputationCheckedAt != nil {
		metrics.LastReputationCheckAt = a.ReputationCheckedAt.Format(time.RFC3339)
	}
	if a.LocationCheckedAt != nil {
		metrics.LastLocationCheckAt = a.LocationCheckedAt.Format(time.RFC3339)
	}

	return metrics, nil
}
