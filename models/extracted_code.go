package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractedCode is the validated output of SMS code extraction. Codes are
// stored uppercased, live for a short TTL, and are pushed to a live
// subscriber when one is connected; otherwise they remain retrievable by
// polling until they expire.
type ExtractedCode struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_extracted_codes_uuid" json:"uuid"`

	MessageID uint  `gorm:"not null;index:idx_extracted_codes_message_id" json:"message_id"`
	SessionID *uint `gorm:"index:idx_extracted_codes_session_id" json:"session_id,omitempty"`
	ExpertID  *uint `gorm:"index:idx_extracted_codes_expert_id" json:"expert_id,omitempty"`

	Code            string  `gorm:"size:16;not null" json:"code"`
	CodeType        string  `gorm:"type:code_type_enum;not null" json:"code_type"`
	CodeLength      int     `gorm:"not null" json:"code_length"`
	ValidationScore float64 `gorm:"type:numeric(4,3);not null" json:"validation_score"`

	CodeStatus      string     `gorm:"type:code_status_enum;not null;default:active;index:idx_extracted_codes_status" json:"code_status"`
	SentToDashboard bool       `gorm:"default:false" json:"sent_to_dashboard"`
	ViewedByUser    bool       `gorm:"default:false" json:"viewed_by_user"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`

	ExpiresAt time.Time `gorm:"not null;index:idx_extracted_codes_expires_at" json:"expires_at"`
	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_extracted_codes_created_at" json:"created_at"`
}

func (ExtractedCode) TableName() string {
	return "extracted_codes"
}

// Code type constants
const (
	CodeTypeNumeric      = "numeric"
	CodeTypeAlphanumeric = "alphanumeric"
	CodeTypeMixedCase    = "mixed_case"
)

// Code status constants
const (
	CodeStatusActive  = "active"
	CodeStatusUsed    = "used"
	CodeStatusExpired = "expired"
	CodeStatusInvalid = "invalid"
)

func (c *ExtractedCode) IsExpired() bool {
	return time.Now().UTC().After(c.ExpiresAt)
}

func (c *ExtractedCode) IsRetrievable() bool {
	return c.CodeStatus == CodeStatusActive && !c.IsExpired()
}

// ExtractedCodeFilter represents filter criteria for extracted code queries
type ExtractedCodeFilter struct {
	ID           *uint
	UUID         *uuid.UUID
	MessageID    *uint
	SessionID    *uint
	ExpertID     *uint
	CodeStatus   *string
	CreatedAfter *time.Time
	IsActive     *bool // helper: active status and not yet expired
}
