// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/google/uuid"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// ExpertPersonaRepository defines read operations for expert personas.
// Personas are owned by the external persona-management service; this core
// never creates or mutates them.
type ExpertPersonaRepository interface {
	ByID(ctx context.Context, id uint) (*models.ExpertPersona, error)
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.ExpertPersona, error)
}

// ProxyAssignmentRepository defines operations for proxy assignments
type ProxyAssignmentRepository interface {
	Repository[models.ProxyAssignment, models.ProxyAssignmentFilter]
	LiveByExpert(ctx context.Context, expertID uint) (*models.ProxyAssignment, error)
	ListActive(ctx context.Context) ([]*models.ProxyAssignment, error)
	CountLiveByExpert(ctx context.Context, expertID uint) (int64, error)
	SumActiveMonthlyCost(ctx context.Context, expertID uint) (float64, error)
	UpdateStatus(ctx context.Context, assignmentID uint, status, reason string) error
	Delete(ctx context.Context, assignmentID uint) error
}

// PhoneNumberRepository defines operations for phone numbers
type PhoneNumberRepository interface {
	Repository[models.PhoneNumber, models.PhoneNumberFilter]
	ByNumber(ctx context.Context, number string) (*models.PhoneNumber, error)
	ActiveAssignedByExpert(ctx context.Context, expertID uint) (*models.PhoneNumber, error)
	CountActiveByExpert(ctx context.Context, expertID uint) (int64, error)
}

// VerificationSessionRepository defines operations for verification sessions
type VerificationSessionRepository interface {
	Repository[models.VerificationSession, models.VerificationSessionFilter]
	LatestActiveByPhoneNumber(ctx context.Context, phoneNumberID uint) (*models.VerificationSession, error)
	ExpireStaleSessions(ctx context.Context) (int64, error)
}

// InboundMessageRepository defines operations for inbound messages
type InboundMessageRepository interface {
	Repository[models.InboundMessage, models.InboundMessageFilter]
}

// ExtractedCodeRepository defines operations for extracted codes
type ExtractedCodeRepository interface {
	Repository[models.ExtractedCode, models.ExtractedCodeFilter]
	ListActiveByExpert(ctx context.Context, expertID uint) ([]*models.ExtractedCode, error)
	ExpireStaleCodes(ctx context.Context) (int64, error)
}
