package dto

// MonitorSummaryDTO is the fleet-wide health roll-up
type MonitorSummaryDTO struct {
	SystemHealth    string `json:"system_health"`
	TotalProxies    int    `json:"total_proxies"`
	HealthyProxies  int    `json:"healthy_proxies"`
	DegradedProxies int    `json:"degraded_proxies"`
	FailedProxies   int    `json:"failed_proxies"`
	LastSweepAt     string `json:"last_sweep_at,omitempty"`
}

// ProxyMetricsDTO is the per-proxy metrics snapshot
type ProxyMetricsDTO struct {
	AssignmentUUID        string   `json:"assignment_uuid"`
	HealthCheckStatus     string   `json:"health_check_status"`
	ConsecutiveFailures   int      `json:"consecutive_failures"`
	AverageResponseTimeMs *int64   `json:"average_response_time_ms,omitempty"`
	ReputationScore       *float64 `json:"reputation_score,omitempty"`
	BlacklistStatus       string   `json:"blacklist_status"`
	IsPhilippinesVerified bool     `json:"is_philippines_verified"`
	LastHealthCheckAt     string   `json:"last_health_check_at,omitempty"`
	LastReputationCheckAt string   `json:"last_reputation_check_at,omitempty"`
	LastLocationCheckAt   string   `json:"last_location_check_at,omitempty"`
}

// ProxyAlertDTO is one monitor alert
type ProxyAlertDTO struct {
	AssignmentUUID string `json:"assignment_uuid"`
	AlertType      string `json:"alert_type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	RaisedAt       string `json:"raised_at"`
}
