package repository

import (
	"context"
	"errors"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExpertPersonaRepositoryImpl implements ExpertPersonaRepository interface
type ExpertPersonaRepositoryImpl struct {
	db *gorm.DB
}

// NewExpertPersonaRepository creates a new expert persona repository
func NewExpertPersonaRepository(db *gorm.DB) ExpertPersonaRepository {
	return &ExpertPersonaRepositoryImpl{db: db}
}

func (r *ExpertPersonaRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db
}

// ByID retrieves an expert persona by its ID
func (r *ExpertPersonaRepositoryImpl) ByID(ctx context.Context, id uint) (*models.ExpertPersona, error) {
	db := r.getDB(ctx)

	var expert models.ExpertPersona
	err := db.Last(&expert, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &expert, nil
}

// ByUUID retrieves an expert persona by its UUID
func (r *ExpertPersonaRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.ExpertPersona, error) {
	db := r.getDB(ctx)

	var expert models.ExpertPersona
	err := db.Where("uuid = ?", id).Last(&expert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &expert, nil
}
