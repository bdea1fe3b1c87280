package repository

import (
	"context"
	"errors"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
	"gorm.io/gorm"
)

// ProxyAssignmentRepositoryImpl implements ProxyAssignmentRepository interface
type ProxyAssignmentRepositoryImpl struct {
	*BaseRepository[models.ProxyAssignment, models.ProxyAssignmentFilter]
}

// NewProxyAssignmentRepository creates a new proxy assignment repository
func NewProxyAssignmentRepository(db *gorm.DB) ProxyAssignmentRepository {
	return &ProxyAssignmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ProxyAssignment, models.ProxyAssignmentFilter](db),
	}
}

// applyFilter applies filter criteria to a GORM query
func (r *ProxyAssignmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.ProxyAssignmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.ExpertID != nil {
		query = query.Where("expert_id = ?", *filter.ExpertID)
	}
	if filter.ProviderProxyID != nil {
		query = query.Where("provider_proxy_id = ?", *filter.ProviderProxyID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.HealthStatus != nil {
		query = query.Where("health_check_status = ?", *filter.HealthStatus)
	}
	if filter.BlacklistStatus != nil {
		query = query.Where("blacklist_status = ?", *filter.BlacklistStatus)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves assignments based on filter criteria
func (r *ProxyAssignmentRepositoryImpl) ByFilter(ctx context.Context, filter models.ProxyAssignmentFilter, orderBy string, limit, offset int) ([]*models.ProxyAssignment, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ProxyAssignment{}), filter)

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

	var assignments []*models.ProxyAssignment
	err := query.Find(&assignments).Error
	if err != nil {
		return nil, err
	}

	return assignments, nil
}

// Count returns the number of assignments matching the filter
func (r *ProxyAssignmentRepositoryImpl) Count(ctx context.Context, filter models.ProxyAssignmentFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ProxyAssignment{}), filter)

	var count int64
	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any assignment matching the filter exists
func (r *ProxyAssignmentRepositoryImpl) Exists(ctx context.Context, filter models.ProxyAssignmentFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LiveByExpert retrieves the expert's single live assignment
// (requesting, testing or active), or nil when the expert holds none.
func (r *ProxyAssignmentRepositoryImpl) LiveByExpert(ctx context.Context, expertID uint) (*models.ProxyAssignment, error) {
	db := r.getDB(ctx)

	var assignment models.ProxyAssignment
	err := db.Where("expert_id = ? AND status IN ?", expertID,
		[]string{models.AssignmentStatusRequesting, models.AssignmentStatusTesting, models.AssignmentStatusActive}).
		Order("created_at DESC").
		Last(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &assignment, nil
}

// ListActive retrieves all active assignments for the monitoring sweep
func (r *ProxyAssignmentRepositoryImpl) ListActive(ctx context.Context) ([]*models.ProxyAssignment, error) {
	filter := models.ProxyAssignmentFilter{
		Status: utils.ToPtr(models.AssignmentStatusActive),
	}
	return r.ByFilter(ctx, filter, "id ASC", 0, 0)
}

// CountLiveByExpert counts assignments occupying the expert's live slot
func (r *ProxyAssignmentRepositoryImpl) CountLiveByExpert(ctx context.Context, expertID uint) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Model(&models.ProxyAssignment{}).
		Where("expert_id = ? AND status IN ?", expertID,
			[]string{models.AssignmentStatusRequesting, models.AssignmentStatusTesting, models.AssignmentStatusActive}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// SumActiveMonthlyCost sums monthly cost over the expert's active assignments
func (r *ProxyAssignmentRepositoryImpl) SumActiveMonthlyCost(ctx context.Context, expertID uint) (float64, error) {
	db := r.getDB(ctx)

	var total float64
	err := db.Model(&models.ProxyAssignment{}).
		Where("expert_id = ? AND status = ?", expertID, models.AssignmentStatusActive).
		Select("COALESCE(SUM(monthly_cost_usd), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}

	return total, nil
}

// UpdateStatus transitions an assignment and stamps the audit fields.
// Every failure path of the orchestrator funnels through here so no
// requesting/testing row is ever left without a terminal status.
func (r *ProxyAssignmentRepositoryImpl) UpdateStatus(ctx context.Context, assignmentID uint, status, reason string) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
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

	err = db.Model(&models.ProxyAssignment{}).
		Where("id = ?", assignmentID).
		Updates(map[string]any{
			"status":               status,
			"status_change_reason": reason,
			"last_status_change":   utils.UTCNow(),
			"updated_at":           utils.UTCNow(),
		}).Error

	return err
}

// Delete removes an assignment row on explicit release
func (r *ProxyAssignmentRepositoryImpl) Delete(ctx context.Context, assignmentID uint) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
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

	err = db.Delete(&models.ProxyAssignment{}, assignmentID).Error
	return err
}
