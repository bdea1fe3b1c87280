package models

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is an immutable record of one inbound SMS. The raw body is
// persisted before any extraction is attempted; extraction outputs are
// written back afterwards. A message may arrive with no matching active
// session, in which case SessionID stays null and extraction falls back to
// generic patterns.
type InboundMessage struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_inbound_messages_uuid" json:"uuid"`

	PhoneNumberID uint  `gorm:"not null;index:idx_inbound_messages_phone_id" json:"phone_number_id"`
	SessionID     *uint `gorm:"index:idx_inbound_messages_session_id" json:"session_id,omitempty"`

	FromNumber        string `gorm:"size:20;not null" json:"from_number"`
	ToNumber          string `gorm:"size:20;not null" json:"to_number"`
	Body              string `gorm:"type:text;not null" json:"body"`
	ProviderMessageID string `gorm:"size:64;index:idx_inbound_messages_provider_id" json:"provider_message_id"`

	// Extraction outputs
	VerificationCode *string  `gorm:"size:16" json:"verification_code,omitempty"`
	CodeConfidence   *float64 `gorm:"type:numeric(4,3)" json:"code_confidence,omitempty"`
	CodePattern      *string  `gorm:"size:255" json:"code_pattern,omitempty"`

	ProcessingStatus string     `gorm:"type:processing_status_enum;not null;default:pending;index:idx_inbound_messages_processing" json:"processing_status"`
	ProcessingNote   *string    `gorm:"type:text" json:"processing_note,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`

	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
	CreatedAt  time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_inbound_messages_created_at" json:"created_at"`
}

func (InboundMessage) TableName() string {
	return "inbound_messages"
}

// Processing status constants
const (
	ProcessingStatusPending   = "pending"
	ProcessingStatusProcessed = "processed"
	ProcessingStatusFailed    = "failed"
	ProcessingStatusIgnored   = "ignored"
)

// InboundMessageFilter represents filter criteria for inbound message queries
type InboundMessageFilter struct {
	ID               *uint
	UUID             *uuid.UUID
	PhoneNumberID    *uint
	SessionID        *uint
	ProcessingStatus *string
	CreatedAfter     *time.Time
	CreatedBefore    *time.Time
}
