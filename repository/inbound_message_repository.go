package repository

import (
	"context"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"gorm.io/gorm"
)

// InboundMessageRepositoryImpl implements InboundMessageRepository interface
type InboundMessageRepositoryImpl struct {
	*BaseRepository[models.InboundMessage, models.InboundMessageFilter]
}

// NewInboundMessageRepository creates a new inbound message repository
func NewInboundMessageRepository(db *gorm.DB) InboundMessageRepository {
	return &InboundMessageRepositoryImpl{
		BaseRepository: NewBaseRepository[models.InboundMessage, models.InboundMessageFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *InboundMessageRepositoryImpl) applyFilter(query *gorm.DB, filter models.InboundMessageFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.PhoneNumberID != nil {
		query = query.Where("phone_number_id = ?", *filter.PhoneNumberID)
	}
	if filter.SessionID != nil {
		query = query.Where("session_id = ?", *filter.SessionID)
	}
	if filter.ProcessingStatus != nil {
		query = query.Where("processing_status = ?", *filter.ProcessingStatus)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves inbound messages based on filter criteria
func (r *InboundMessageRepositoryImpl) ByFilter(ctx context.Context, filter models.InboundMessageFilter, orderBy string, limit, offset int) ([]*models.InboundMessage, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.InboundMessage{}), filter)

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

	var messages []*models.InboundMessage
	err := query.Find(&messages).Error
	if err != nil {
		return nil, err
	}

	return messages, nil
}

// Count returns the number of inbound messages matching the filter
func (r *InboundMessageRepositoryImpl) Count(ctx context.Context, filter models.InboundMessageFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.InboundMessage{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any inbound message matching the filter exists
func (r *InboundMessageRepositoryImpl) Exists(ctx context.Context, filter models.InboundMessageFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
