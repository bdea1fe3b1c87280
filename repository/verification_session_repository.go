package repository

import (
	"context"
	"errors"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
	"gorm.io/gorm"
)

// VerificationSessionRepositoryImpl implements VerificationSessionRepository interface
type VerificationSessionRepositoryImpl struct {
	*BaseRepository[models.VerificationSession, models.VerificationSessionFilter]
}

// NewVerificationSessionRepository creates a new verification session repository
func NewVerificationSessionRepository(db *gorm.DB) VerificationSessionRepository {
	return &VerificationSessionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.VerificationSession, models.VerificationSessionFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *VerificationSessionRepositoryImpl) applyFilter(query *gorm.DB, filter models.VerificationSessionFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.ExpertID != nil {
		query = query.Where("expert_id = ?", *filter.ExpertID)
	}
	if filter.PhoneNumberID != nil {
		query = query.Where("phone_number_id = ?", *filter.PhoneNumberID)
	}
	if filter.Platform != nil {
		query = query.Where("platform = ?", *filter.Platform)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.IsActive != nil && *filter.IsActive {
		query = query.Where("status = ? AND session_expired_at > ?",
			models.SessionStatusActive, utils.UTCNow())
	}
	return query
}

// ByFilter retrieves sessions based on filter criteria
func (r *VerificationSessionRepositoryImpl) ByFilter(ctx context.Context, filter models.VerificationSessionFilter, orderBy string, limit, offset int) ([]*models.VerificationSession, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.VerificationSession{}), filter)

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

	var sessions []*models.VerificationSession
	err := query.Find(&sessions).Error
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// Count returns the number of sessions matching the filter
func (r *VerificationSessionRepositoryImpl) Count(ctx context.Context, filter models.VerificationSessionFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.VerificationSession{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any session matching the filter exists
func (r *VerificationSessionRepositoryImpl) Exists(ctx context.Context, filter models.VerificationSessionFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LatestActiveByPhoneNumber retrieves the most recently created active,
// non-expired session bound to a phone number. When several sessions are
// concurrently open on one number the newest wins; older ones are left
// open, so overlapping verification flows on a single number can still
// attribute a code to the wrong platform. Known race, kept as observed
// behavior pending product clarification.
func (r *VerificationSessionRepositoryImpl) LatestActiveByPhoneNumber(ctx context.Context, phoneNumberID uint) (*models.VerificationSession, error) {
	db := r.getDB(ctx)

	var session models.VerificationSession
	err := db.Where("phone_number_id = ? AND status = ? AND session_expired_at > ?",
		phoneNumberID, models.SessionStatusActive, utils.UTCNow()).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &session, nil
}

// ExpireStaleSessions marks active sessions past their deadline as expired
func (r *VerificationSessionRepositoryImpl) ExpireStaleSessions(ctx context.Context) (int64, error) {
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

	result := db.Model(&models.VerificationSession{}).
		Where("status = ? AND session_expired_at <= ?", models.SessionStatusActive, utils.UTCNow()).
		Updates(map[string]any{
			"status":     models.SessionStatusExpired,
			"updated_at": utils.UTCNow(),
		})
	if result.Error != nil {
		err = result.Error
		return 0, err
	}

	return result.RowsAffected, nil
}
