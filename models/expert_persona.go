// Package models contains domain entities and business models for the proxy and verification core
package models

import (
	"time"

	"github.com/google/uuid"
)

// ExpertPersona is the read model for an expert persona account.
// Personas are created and mutated by the external persona-management
// service; this core only reads them to validate preconditions.
type ExpertPersona struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_expert_personas_uuid" json:"uuid"`

	PersonaName string `gorm:"size:255;not null" json:"persona_name"`
	Status      string `gorm:"type:expert_status_enum;default:active;index:idx_expert_personas_status" json:"status"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ExpertPersona) TableName() string {
	return "expert_personas"
}

// Expert persona status constants
const (
	ExpertStatusActive    = "active"
	ExpertStatusInactive  = "inactive"
	ExpertStatusSuspended = "suspended"
)

func (e *ExpertPersona) IsActive() bool {
	return e.Status == ExpertStatusActive
}

// ExpertPersonaFilter represents filter criteria for expert persona queries
type ExpertPersonaFilter struct {
	ID     *uint
	UUID   *uuid.UUID
	Status *string
}
