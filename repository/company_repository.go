package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/claim-router/models"
	"gorm.io/gorm"
)

// CompanyRepositoryImpl implements CompanyRepository interface
type CompanyRepositoryImpl struct {
	*BaseRepository[models.Company, models.CompanyFilter]
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &CompanyRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Company, models.CompanyFilter](db),
	}
}

// ByNIT retrieves a company by its tax id
func (r *CompanyRepositoryImpl) ByNIT(ctx context.Context, nit string) (*models.Company, error) {
	db := r.getDB(ctx)

	var company models.Company
	err := db.Where("nit = ?", strings.TrimSpace(nit)).First(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find company by nit: %w", err)
	}

	return &company, nil
}
