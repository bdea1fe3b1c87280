package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationSession is a bounded-lifetime intent to receive one
// verification code for an (expert, phone number, platform, action) tuple.
// The extraction engine treats the most recently created active session on
// a phone number as authoritative when several are open at once.
type VerificationSession struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_verification_sessions_uuid" json:"uuid"`

	ExpertID      uint `gorm:"not null;index:idx_verification_sessions_expert_id" json:"expert_id"`
	PhoneNumberID uint `gorm:"not null;index:idx_verification_sessions_phone_id" json:"phone_number_id"`

	Platform string `gorm:"size:64;not null" json:"platform"`
	Action   string `gorm:"size:64;not null" json:"action"`

	Status              string  `gorm:"type:session_status_enum;not null;default:active;index:idx_verification_sessions_status" json:"status"`
	ExpectedCodePattern *string `gorm:"size:255" json:"expected_code_pattern,omitempty"`
	AttemptsRemaining   int     `gorm:"default:3" json:"attempts_remaining"`

	SessionExpiredAt time.Time  `gorm:"not null;index:idx_verification_sessions_expires_at" json:"session_expired_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_verification_sessions_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (VerificationSession) TableName() string {
	return "verification_sessions"
}

// Session status constants
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusExpired   = "expired"
	SessionStatusFailed    = "failed"
)

func (s *VerificationSession) IsExpired() bool {
	return time.Now().UTC().After(s.SessionExpiredAt)
}

// IsReceivable reports whether an inbound code may still be attributed to
// this session.
func (s *VerificationSession) IsReceivable() bool {
	return s.Status == SessionStatusActive && !s.IsExpired() && s.AttemptsRemaining > 0
}

// VerificationSessionFilter represents filter criteria for session queries
type VerificationSessionFilter struct {
	ID            *uint
	UUID          *uuid.UUID
	ExpertID      *uint
	PhoneNumberID *uint
	Platform      *string
	Status        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	IsActive      *bool // helper: active status and not yet past the deadline
}
