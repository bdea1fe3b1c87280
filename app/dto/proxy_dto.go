// Package dto contains data transfer objects for API requests and responses
package dto

// AssignProxyRequest is the request to acquire a proxy for an expert persona
type AssignProxyRequest struct {
	ExpertUUID string `json:"expert_uuid" validate:"required,uuid4"`
	Location   string `json:"location,omitempty" validate:"omitempty,max=128"`
}

// ReleaseProxyRequest is the request to tear down an expert's proxy
type ReleaseProxyRequest struct {
	ExpertUUID string `json:"expert_uuid" validate:"required,uuid4"`
}

// ProxyAssignmentDTO is the API representation of a proxy assignment.
// Credentials never appear here in any form.
type ProxyAssignmentDTO struct {
	UUID                  string   `json:"uuid"`
	ExpertUUID            string   `json:"expert_uuid"`
	Status                string   `json:"status"`
	ProxyLocation         string   `json:"proxy_location"`
	DetectedCountry       *string  `json:"detected_country,omitempty"`
	DetectedCity          *string  `json:"detected_city,omitempty"`
	IsPhilippinesVerified bool     `json:"is_philippines_verified"`
	HealthCheckStatus     string   `json:"health_check_status"`
	ConsecutiveFailures   int      `json:"consecutive_failures"`
	AverageResponseTimeMs *int64   `json:"average_response_time_ms,omitempty"`
	ReputationScore       *float64 `json:"reputation_score,omitempty"`
	IsResidentialIP       *bool    `json:"is_residential_ip,omitempty"`
	BlacklistStatus       string   `json:"blacklist_status"`
	MonthlyCostUSD        float64  `json:"monthly_cost_usd"`
	StatusChangeReason    *string  `json:"status_change_reason,omitempty"`
	ActivatedAt           *string  `json:"activated_at,omitempty"`
	CreatedAt             string   `json:"created_at"`
}

// AssignProxyResponse is returned after an assignment attempt
type AssignProxyResponse struct {
	Assignment ProxyAssignmentDTO `json:"assignment"`
}

// ReleaseProxyResponse is returned after a release attempt
type ReleaseProxyResponse struct {
	Released       bool   `json:"released"`
	AssignmentUUID string `json:"assignment_uuid,omitempty"`
}

// ProxyStatusResponse reports the expert's current assignment, if any
type ProxyStatusResponse struct {
	HasAssignment bool                `json:"has_assignment"`
	Assignment    *ProxyAssignmentDTO `json:"assignment,omitempty"`
}

// ProxyHealthCheckResponse is the outcome of an on-demand health check
type ProxyHealthCheckResponse struct {
	AssignmentUUID    string `json:"assignment_uuid"`
	Healthy           bool   `json:"healthy"`
	ResponseTimeMs    int    `json:"response_time_ms"`
	HealthCheckStatus string `json:"health_check_status"`
	Error             string `json:"error,omitempty"`
}
