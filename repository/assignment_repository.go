package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssignmentRepositoryImpl implements AssignmentRepository interface
type AssignmentRepositoryImpl struct {
	*BaseRepository[models.Assignment, models.AssignmentFilter]
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *gorm.DB) AssignmentRepository {
	return &AssignmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Assignment, models.AssignmentFilter](db),
	}
}

// ByNaturalKey retrieves the assignment produced for a claim document
func (r *AssignmentRepositoryImpl) ByNaturalKey(ctx context.Context, claimID, documentNumber string) (*models.Assignment, error) {
	var assignment models.Assignment
	err := r.getDB(ctx).
		Where("claim_id = ? AND document_number = ?", claimID, documentNumber).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find assignment by natural key: %w", err)
	}

	return &assignment, nil
}

// ByFilter retrieves assignments matching the filter
func (r *AssignmentRepositoryImpl) ByFilter(ctx context.Context, filter models.AssignmentFilter, orderBy string, limit, offset int) ([]*models.Assignment, error) {
	if orderBy == "" {
		orderBy = "created_at DESC"
	}

	query := r.applyFilter(r.getDB(ctx), filter).Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var assignments []*models.Assignment
	if err := query.Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("failed to find assignments by filter: %w", err)
	}

	return assignments, nil
}

// Count returns the number of assignments matching the filter
func (r *AssignmentRepositoryImpl) Count(ctx context.Context, filter models.AssignmentFilter) (int64, error) {
	var count int64
	err := r.applyFilter(r.getDB(ctx).Model(&models.Assignment{}), filter).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return count, nil
}

// CreateIfAbsent inserts the assignment with ON CONFLICT DO NOTHING on the natural key.
// When the key already exists the stored row is loaded and returned untouched.
func (r *AssignmentRepositoryImpl) CreateIfAbsent(ctx context.Context, a *models.Assignment) (*models.Assignment, bool, error) {
	var (
		stored  *models.Assignment
		created bool
	)

	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "claim_id"}, {Name: "document_number"}},
			DoNothing: true,
		}).Create(a)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to create assignment: %w", res.Error)
		}
		if res.Error == nil && res.RowsAffected == 1 {
			stored, created = a, true
			return nil
		}

		var existing models.Assignment
		err := db.Where("claim_id = ? AND document_number = ?", a.ClaimID, a.DocumentNumber).First(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to load existing assignment: %w", err)
		}
		stored = &existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return stored, created, nil
}

// UpdateState performs a compare-and-swap on (id, status, version)
func (r *AssignmentRepositoryImpl) UpdateState(ctx context.Context, id uint, status models.AssignmentStatus, version int64, changes models.AssignmentChanges) (bool, error) {
	var swapped bool

	err := r.write(ctx, func(db *gorm.DB) error {
		res := db.Model(&models.Assignment{}).
			Where("id = ? AND status = ? AND version = ?", id, status, version).
			Updates(map[string]any{
				"status":     changes.Status,
				"user_id":    changes.UserID,
				"end_date":   changes.EndDate,
				"version":    gorm.Expr("version + 1"),
				"updated_at": utils.UTCNow(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update assignment state: %w", res.Error)
		}
		swapped = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	return swapped, nil
}

// Delete physically removes an assignment
func (r *AssignmentRepositoryImpl) Delete(ctx context.Context, id uint) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Delete(&models.Assignment{}, id).Error; err != nil {
			return fmt.Errorf("failed to delete assignment: %w", err)
		}
		return nil
	})
}

// CountOpenByUsers returns the number of open assignments per user; users without any are absent
func (r *AssignmentRepositoryImpl) CountOpenByUsers(ctx context.Context, userIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(userIDs))
	if len(userIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		UserID uint
		Total  int64
	}
	err := r.getDB(ctx).Model(&models.Assignment{}).
		Select("user_id, COUNT(*) AS total").
		Where("user_id IN ? AND status IN ?", userIDs, models.OpenAssignmentStatuses).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count open assignments: %w", err)
	}

	for _, row := range rows {
		counts[row.UserID] = row.Total
	}
	return counts, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *AssignmentRepositoryImpl) applyFilter(db *gorm.DB, filter models.AssignmentFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.CompanyID != nil {
		db = db.Where("company_id = ?", *filter.CompanyID)
	}
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.ClaimID != nil {
		db = db.Where("claim_id = ?", *filter.ClaimID)
	}
	if filter.DocumentNumber != nil {
		db = db.Where("document_number = ?", *filter.DocumentNumber)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}
