package repository

import (
	"context"
	"errors"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"gorm.io/gorm"
)

// PhoneNumberRepositoryImpl implements PhoneNumberRepository interface
type PhoneNumberRepositoryImpl struct {
	*BaseRepository[models.PhoneNumber, models.PhoneNumberFilter]
}

// NewPhoneNumberRepository creates a new phone number repository
func NewPhoneNumberRepository(db *gorm.DB) PhoneNumberRepository {
	return &PhoneNumberRepositoryImpl{
		BaseRepository: NewBaseRepository[models.PhoneNumber, models.PhoneNumberFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *PhoneNumberRepositoryImpl) applyFilter(query *gorm.DB, filter models.PhoneNumberFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.ExpertID != nil {
		query = query.Where("expert_id = ?", *filter.ExpertID)
	}
	if filter.Number != nil {
		query = query.Where("number = ?", *filter.Number)
	}
	if filter.ProviderSID != nil {
		query = query.Where("provider_sid = ?", *filter.ProviderSID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.AssignmentStatus != nil {
		query = query.Where("assignment_status = ?", *filter.AssignmentStatus)
	}
	return query
}

// ByFilter retrieves phone numbers based on filter criteria
func (r *PhoneNumberRepositoryImpl) ByFilter(ctx context.Context, filter models.PhoneNumberFilter, orderBy string, limit, offset int) ([]*models.PhoneNumber, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.PhoneNumber{}), filter)

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

	var numbers []*models.PhoneNumber
	err := query.Find(&numbers).Error
	if err != nil {
		return nil, err
	}

	return numbers, nil
}

// Count returns the number of phone numbers matching the filter
func (r *PhoneNumberRepositoryImpl) Count(ctx context.Context, filter models.PhoneNumberFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.PhoneNumber{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any phone number matching the filter exists
func (r *PhoneNumberRepositoryImpl) Exists(ctx context.Context, filter models.PhoneNumberFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ByNumber resolves an inbound destination number to its local record
func (r *PhoneNumberRepositoryImpl) ByNumber(ctx context.Context, number string) (*models.PhoneNumber, error) {
	db := r.getDB(ctx)

	var phone models.PhoneNumber
	err := db.Where("number = ?", number).Last(&phone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &phone, nil
}

// ActiveAssignedByExpert retrieves the expert's usable verification number
func (r *PhoneNumberRepositoryImpl) ActiveAssignedByExpert(ctx context.Context, expertID uint) (*models.PhoneNumber, error) {
	db := r.getDB(ctx)

	var phone models.PhoneNumber
	err := db.Where("expert_id = ? AND status = ? AND assignment_status = ?",
		expertID, models.PhoneStatusActive, models.PhoneAssigned).
		Order("created_at DESC").
		Last(&phone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &phone, nil
}

// CountActiveByExpert counts non-failed numbers held by the expert
func (r *PhoneNumberRepositoryImpl) CountActiveByExpert(ctx context.Context, expertID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.PhoneNumber{}).
		Where("expert_id = ? AND status IN ?", expertID,
			[]string{models.PhoneStatusProvisioning, models.PhoneStatusActive}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}
