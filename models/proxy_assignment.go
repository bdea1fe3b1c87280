package models

import (
	"time"

	"github.com/google/uuid"
)

// ProxyAssignment represents one expert persona's residential proxy.
// At most one live (requesting/testing/active) assignment may exist per
// expert; the partial unique index below backs the orchestrator's
// per-expert lock against concurrent assignment attempts.
// Credentials are stored only as an AES-GCM blob plus the vault key id;
// raw host/port/user/password never touch the table.
type ProxyAssignment struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_proxy_assignments_uuid" json:"uuid"`

	ExpertID        uint    `gorm:"not null;index:idx_proxy_assignments_expert_id;uniqueIndex:uk_proxy_assignments_live_expert,where:status IN ('requesting','testing','active')" json:"expert_id"`
	ProviderProxyID *string `gorm:"size:64;index:idx_proxy_assignments_provider_id" json:"provider_proxy_id,omitempty"`

	Status      string  `gorm:"type:assignment_status_enum;not null;default:requesting;index:idx_proxy_assignments_status" json:"status"`
	ProxyStatus *string `gorm:"size:32" json:"proxy_status,omitempty"`

	// Location claim vs location fact
	ProxyLocation         string  `gorm:"size:128;not null" json:"proxy_location"`
	DetectedCountry       *string `gorm:"size:8" json:"detected_country,omitempty"`
	DetectedCity          *string `gorm:"size:128" json:"detected_city,omitempty"`
	DetectedRegion        *string `gorm:"size:128" json:"detected_region,omitempty"`
	IsPhilippinesVerified bool    `gorm:"default:false" json:"is_philippines_verified"`

	// Encrypted credential blob, all fields base64
	EncryptedCredentials *string `gorm:"type:text" json:"-"`
	CredentialsIV        *string `gorm:"size:64" json:"-"`
	CredentialsAuthTag   *string `gorm:"size:64" json:"-"`
	CredentialsKeyID     *string `gorm:"size:128" json:"credentials_key_id,omitempty"`

	// Reputation
	ReputationScore     *float64   `gorm:"type:numeric(5,2)" json:"reputation_score,omitempty"`
	IsResidentialIP     *bool      `json:"is_residential_ip,omitempty"`
	BlacklistStatus     string     `gorm:"type:blacklist_status_enum;default:unknown" json:"blacklist_status"`
	ReputationCheckedAt *time.Time `json:"reputation_checked_at,omitempty"`

	// Health
	HealthCheckStatus     string     `gorm:"type:health_status_enum;default:healthy" json:"health_check_status"`
	ConsecutiveFailures   int        `gorm:"default:0" json:"consecutive_failures"`
	AverageResponseTimeMs *int64     `json:"average_response_time_ms,omitempty"`
	HealthCheckedAt       *time.Time `json:"health_checked_at,omitempty"`
	LocationCheckedAt     *time.Time `json:"location_checked_at,omitempty"`

	// Cost (read by the external cost-reporting collaborator)
	DailyCostUSD          float64    `gorm:"type:numeric(10,4);default:0" json:"daily_cost_usd"`
	MonthlyCostUSD        float64    `gorm:"type:numeric(10,4);default:0" json:"monthly_cost_usd"`
	CostTrackingStartedAt *time.Time `json:"cost_tracking_started_at,omitempty"`

	// Audit
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	LastStatusChange   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"last_status_change"`
	StatusChangeReason *string    `gorm:"type:text" json:"status_change_reason,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_proxy_assignments_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ProxyAssignment) TableName() string {
	return "proxy_assignments"
}

// Assignment lifecycle status constants
const (
	AssignmentStatusRequesting  = "requesting"
	AssignmentStatusTesting     = "testing"
	AssignmentStatusActive      = "active"
	AssignmentStatusFailed      = "failed"
	AssignmentStatusMaintenance = "maintenance"
)

// Blacklist status constants
const (
	BlacklistStatusClean   = "clean"
	BlacklistStatusFlagged = "flagged"
	BlacklistStatusUnknown = "unknown"
)

// Health check status constants
const (
	HealthStatusHealthy  = "healthy"
	HealthStatusDegraded = "degraded"
	HealthStatusFailed   = "failed"
)

func (p *ProxyAssignment) IsActive() bool {
	return p.Status == AssignmentStatusActive
}

// IsLive reports whether the assignment occupies the expert's single
// live-assignment slot (counted against budget and concurrency limits).
func (p *ProxyAssignment) IsLive() bool {
	switch p.Status {
	case AssignmentStatusRequesting, AssignmentStatusTesting, AssignmentStatusActive:
		return true
	}
	return false
}

func (p *ProxyAssignment) HasCredentials() bool {
	return p.EncryptedCredentials != nil && p.CredentialsIV != nil &&
		p.CredentialsAuthTag != nil && p.CredentialsKeyID != nil
}

// ProxyAssignmentFilter represents filter criteria for assignment queries
type ProxyAssignmentFilter struct {
	ID              *uint
	UUID            *uuid.UUID
	ExpertID        *uint
	ProviderProxyID *string
	Status          *string
	HealthStatus    *string
	BlacklistStatus *string
	CreatedAfter    *time.Time
	CreatedBefore   *time.Time
}
