package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PhoneNumber represents a telephony-provider number provisioned for an
// expert persona. Both the E.164 number string and the provider SID are
// globally unique.
type PhoneNumber struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_phone_numbers_uuid" json:"uuid"`

	ExpertID    uint   `gorm:"not null;index:idx_phone_numbers_expert_id" json:"expert_id"`
	Number      string `gorm:"size:20;not null;uniqueIndex:uk_phone_numbers_value" json:"number"`
	ProviderSID string `gorm:"size:64;not null;uniqueIndex:uk_phone_numbers_sid" json:"provider_sid"`

	Status           string `gorm:"type:phone_status_enum;not null;default:provisioning;index:idx_phone_numbers_status" json:"status"`
	AssignmentStatus string `gorm:"type:phone_assignment_enum;not null;default:unassigned" json:"assignment_status"`

	Capabilities   pq.StringArray `gorm:"type:text[]" json:"capabilities"`
	MonthlyCostUSD float64        `gorm:"type:numeric(10,4);default:0" json:"monthly_cost_usd"`

	HealthCheckStatus   string     `gorm:"type:health_status_enum;default:healthy" json:"health_check_status"`
	ConsecutiveFailures int        `gorm:"default:0" json:"consecutive_failures"`
	HealthCheckedAt     *time.Time `json:"health_checked_at,omitempty"`

	WebhookConfiguredAt *time.Time `json:"webhook_configured_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_phone_numbers_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (PhoneNumber) TableName() string {
	return "phone_numbers"
}

// Phone number status constants
const (
	PhoneStatusProvisioning = "provisioning"
	PhoneStatusActive       = "active"
	PhoneStatusSuspended    = "suspended"
	PhoneStatusFailed       = "failed"
)

// Phone assignment state constants
const (
	PhoneAssigned   = "assigned"
	PhoneUnassigned = "unassigned"
	PhoneReserved   = "reserved"
)

// Phone capability constants
const (
	CapabilityVoice = "voice"
	CapabilitySMS   = "sms"
	CapabilityMMS   = "mms"
)

// CanReceiveVerifications reports whether the number is usable for a new
// verification session.
func (p *PhoneNumber) CanReceiveVerifications() bool {
	return p.Status == PhoneStatusActive && p.AssignmentStatus == PhoneAssigned
}

func (p *PhoneNumber) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// PhoneNumberFilter represents filter criteria for phone number queries
type PhoneNumberFilter struct {
	ID               *uint
	UUID             *uuid.UUID
	ExpertID         *uint
	Number           *string
	ProviderSID      *string
	Status           *string
	AssignmentStatus *string
}
