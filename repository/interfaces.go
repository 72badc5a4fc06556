// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"

	"github.com/amirphl/claim-router/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// Transactor runs fn inside one database transaction carried by the context
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// CompanyRepository defines read operations for companies
type CompanyRepository interface {
	ByID(ctx context.Context, id uint) (*models.Company, error)
	ByNIT(ctx context.Context, nit string) (*models.Company, error)
}

// UserRepository defines read operations for users
type UserRepository interface {
	ByID(ctx context.Context, id uint) (*models.User, error)
	// ActiveByRoleIDs returns active users holding any of the roles, deduplicated and ordered by id
	ActiveByRoleIDs(ctx context.Context, roleIDs []uint) ([]*models.User, error)
}

// RoleRepository defines read operations for roles
type RoleRepository interface {
	ByIDs(ctx context.Context, ids []uint) ([]*models.Role, error)
	ByCompany(ctx context.Context, companyID uint) ([]*models.Role, error)
}

// RuleRepository defines operations for routing rules
type RuleRepository interface {
	ByID(ctx context.Context, id uint) (*models.Rule, error)
	ByCompany(ctx context.Context, companyID uint, activeOnly bool) ([]*models.Rule, error)
	Save(ctx context.Context, rule *models.Rule) error
	Update(ctx context.Context, rule *models.Rule) error
	SetActive(ctx context.Context, id uint, active bool) error
}

// AssignmentRepository defines operations for assignments
type AssignmentRepository interface {
	ByID(ctx context.Context, id uint) (*models.Assignment, error)
	ByNaturalKey(ctx context.Context, claimID, documentNumber string) (*models.Assignment, error)
	ByFilter(ctx context.Context, filter models.AssignmentFilter, orderBy string, limit, offset int) ([]*models.Assignment, error)
	Count(ctx context.Context, filter models.AssignmentFilter) (int64, error)
	// CreateIfAbsent inserts a unless its natural key exists; it returns the stored row and whether it was inserted
	CreateIfAbsent(ctx context.Context, a *models.Assignment) (*models.Assignment, bool, error)
	// UpdateState applies changes only if the row still has the given status and version
	UpdateState(ctx context.Context, id uint, status models.AssignmentStatus, version int64, changes models.AssignmentChanges) (bool, error)
	Delete(ctx context.Context, id uint) error
	CountOpenByUsers(ctx context.Context, userIDs []uint) (map[uint]int64, error)
}

// AuditLogRepository defines operations for audit logs
type AuditLogRepository interface {
	Save(ctx context.Context, entry *models.AuditLog) error
	ByFilter(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLog, error)
}
