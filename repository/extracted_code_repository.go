package repository

import (
	"context"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
	"gorm.io/gorm"
)

// ExtractedCodeRepositoryImpl implements ExtractedCodeRepository interface
type ExtractedCodeRepositoryImpl struct {
	*BaseRepository[models.ExtractedCode, models.ExtractedCodeFilter]
}

// NewExtractedCodeRepository creates a new extracted code repository
func NewExtractedCodeRepository(db *gorm.DB) ExtractedCodeRepository {
	return &ExtractedCodeRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ExtractedCode, models.ExtractedCodeFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *ExtractedCodeRepositoryImpl) applyFilter(query *gorm.DB, filter models.ExtractedCodeFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.MessageID != nil {
		query = query.Where("message_id = ?", *filter.MessageID)
	}
	if filter.SessionID != nil {
		query = query.Where("session_id = ?", *filter.SessionID)
	}
	if filter.ExpertID != nil {
		query = query.Where("expert_id = ?", *filter.ExpertID)
	}
	if filter.CodeStatus != nil {
		query = query.Where("code_status = ?", *filter.CodeStatus)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.IsActive != nil && *filter.IsActive {
		query = query.Where("code_status = ? AND expires_at > ?",
			models.CodeStatusActive, utils.UTCNow())
	}
	return query
}

// ByFilter retrieves extracted codes based on filter criteria
func (r *ExtractedCodeRepositoryImpl) ByFilter(ctx context.Context, filter models.ExtractedCodeFilter, orderBy string, limit, offset int) ([]*models.ExtractedCode, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExtractedCode{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var codes []*models.ExtractedCode
	err := query.Find(&codes).Error
	if err != nil {
		return nil, err
	}

	return codes, nil
}

// Count returns the number of extracted codes matching the filter
func (r *ExtractedCodeRepositoryImpl) Count(ctx context.Context, filter models.ExtractedCodeFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ExtractedCode{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any extracted code matching the filter exists
func (r *ExtractedCodeRepositoryImpl) Exists(ctx context.Context, filter models.ExtractedCodeFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListActiveByExpert retrieves all retrievable codes for an expert, newest first
func (r *ExtractedCodeRepositoryImpl) ListActiveByExpert(ctx context.Context, expertID uint) ([]*models.ExtractedCode, error) {
	filter := models.ExtractedCodeFilter{
		ExpertID: &expertID,
		IsActive: utils.ToPtr(true),
	}
	return r.ByFilter(ctx, filter, "created_at DESC", 0, 0)
}

// ExpireStaleCodes marks active codes past their TTL as expired
func (r *ExtractedCodeRepositoryImpl) ExpireStaleCodes(ctx context.Context) (int64, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	result := db.Model(&models.ExtractedCode{}).
		Where("code_status = ? AND expires_at <= ?", models.CodeStatusActive, utils.UTCNow()).
		Update("code_status", models.CodeStatusExpired)
	if result.Error != nil {
		err = result.Error
		return 0, err
	}

	return result.RowsAffected, nil
}
