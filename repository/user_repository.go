package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/claim-router/models"
	"gorm.io/gorm"
)

// UserRepositoryImpl implements UserRepository interface
type UserRepositoryImpl struct {
	*BaseRepository[models.User, struct{}]
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &UserRepositoryImpl{
		BaseRepository: NewBaseRepository[models.User, struct{}](db),
	}
}

// ActiveByRoleIDs resolves role bindings across all companies
func (r *UserRepositoryImpl) ActiveByRoleIDs(ctx context.Context, roleIDs []uint) ([]*models.User, error) {
	if len(roleIDs) == 0 {
		return []*models.User{}, nil
	}

	db := r.getDB(ctx)

	bound := db.Model(&models.UserRole{}).Select("user_id").Where("role_id IN ?", roleIDs)

	var users []*models.User
	err := db.Where("is_active = ? AND id IN (?)", true, bound).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active users by roles: %w", err)
	}

	return users, nil
}
