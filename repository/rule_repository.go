package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"gorm.io/gorm"
)

// RuleRepositoryImpl implements RuleRepository interface
type RuleRepositoryImpl struct {
	*BaseRepository[models.Rule, models.RuleFilter]
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &RuleRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Rule, models.RuleFilter](db),
	}
}

func preloadRoleLinks(db *gorm.DB) *gorm.DB {
	return db.Preload("RoleLinks", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// ByID retrieves a rule with its ordered role links
func (r *RuleRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Rule, error) {
	var rule models.Rule
	err := preloadRoleLinks(r.getDB(ctx)).First(&rule, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find rule by ID %d: %w", id, err)
	}

	return &rule, nil
}

// ByCompany lists the rules of a company ordered by id
func (r *RuleRepositoryImpl) ByCompany(ctx context.Context, companyID uint, activeOnly bool) ([]*models.Rule, error) {
	query := preloadRoleLinks(r.getDB(ctx)).Where("company_id = ?", companyID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var rules []*models.Rule
	if err := query.Order("id ASC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules by company: %w", err)
	}

	return rules, nil
}

// Save inserts a rule together with its role links
func (r *RuleRepositoryImpl) Save(ctx context.Context, rule *models.Rule) error {
	return r.write(ctx, func(db *gorm.DB) error {
		if err := db.Create(rule).Error; err != nil {
			return fmt.Errorf("failed to save rule: %w", err)
		}
		return nil
	})
}

// Update overwrites the rule's columns and replaces its role links
func (r *RuleRepositoryImpl) Update(ctx context.Context, rule *models.Rule) error {
	return r.write(ctx, func(db *gorm.DB) error {
		rule.UpdatedAt = utils.UTCNow()
		err := db.Model(&models.Rule{}).Where("id = ?", rule.ID).Updates(map[string]any{
			"name":                   rule.Name,
			"description":            rule.Description,
			"type":                   rule.Type,
			"minimum_amount":         rule.MinimumAmount,
			"maximum_amount":         rule.MaximumAmount,
			"nit_associated_company": rule.NITAssociatedCompany,
			"objection_code":         rule.ObjectionCode,
			"is_active":              rule.IsActive,
			"updated_at":             rule.UpdatedAt,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}

		if err := db.Where("rule_id = ?", rule.ID).Delete(&models.RuleRole{}).Error; err != nil {
			return fmt.Errorf("failed to clear rule roles: %w", err)
		}
		for i := range rule.RoleLinks {
			rule.RoleLinks[i].RuleID = rule.ID
		}
		if len(rule.RoleLinks) > 0 {
			if err := db.Create(&rule.RoleLinks).Error; err != nil {
				return fmt.Errorf("failed to save rule roles: %w", err)
			}
		}
		return nil
	})
}

// SetActive toggles a rule without touching anything else
func (r *RuleRepositoryImpl) SetActive(ctx context.Context, id uint, active bool) error {
	return r.write(ctx, func(db *gorm.DB) error {
		err := db.Model(&models.Rule{}).Where("id = ?", id).Updates(map[string]any{
			"is_active":  active,
			"updated_at": utils.UTCNow(),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to set rule activation: %w", err)
		}
		return nil
	})
}
