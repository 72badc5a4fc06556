package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/claim-router/models"
	"gorm.io/gorm"
)

// RoleRepositoryImpl implements RoleRepository interface
type RoleRepositoryImpl struct {
	*BaseRepository[models.Role, struct{}]
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &RoleRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Role, struct{}](db),
	}
}

// ByIDs retrieves the roles with the given ids, ordered by id
func (r *RoleRepositoryImpl) ByIDs(ctx context.Context, ids []uint) ([]*models.Role, error) {
	if len(ids) == 0 {
		return []*models.Role{}, nil
	}

	var roles []*models.Role
	err := r.getDB(ctx).Where("id IN ?", ids).Order("id ASC").Find(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list roles by ids: %w", err)
	}

	return roles, nil
}

// ByCompany lists the roles defined by a company
func (r *RoleRepositoryImpl) ByCompany(ctx context.Context, companyID uint) ([]*models.Role, error) {
	var roles []*models.Role
	err := r.getDB(ctx).Where("company_id = ?", companyID).Order("name ASC").Find(&roles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list roles by company: %w", err)
	}

	return roles, nil
}
