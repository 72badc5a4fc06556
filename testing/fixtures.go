package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"github.com/shopspring/decimal"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestCompany creates an active company with a random NIT
func (tf *TestFixtures) CreateTestCompany() (*models.Company, error) {
	company := &models.Company{
		NIT:      fmt.Sprintf("%09d", rand.Intn(900000000)+100000000),
		Name:     "Test Company Ltd",
		IsActive: utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(company).Error; err != nil {
		return nil, fmt.Errorf("failed to create test company: %w", err)
	}
	return company, nil
}

// CreateTestRole creates a role for the company
func (tf *TestFixtures) CreateTestRole(companyID uint, name string) (*models.Role, error) {
	role := &models.Role{
		CompanyID: companyID,
		Name:      name,
		IsActive:  utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(role).Error; err != nil {
		return nil, fmt.Errorf("failed to create test role %s: %w", name, err)
	}
	return role, nil
}

// CreateTestUser creates a user holding the given roles
func (tf *TestFixtures) CreateTestUser(active bool, roleIDs ...uint) (*models.User, error) {
	user := &models.User{
		DocumentType:   "CC",
		DocumentNumber: fmt.Sprintf("%010d", rand.Intn(900000000)+1000000000),
		FullName:       "Jane Reviewer",
		Email:          fmt.Sprintf("reviewer.%d@example.com", rand.Intn(1000000)),
		IsActive:       utils.ToPtr(active),
	}
	if err := tf.DB.DB.Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create test user: %w", err)
	}

	for _, roleID := range roleIDs {
		link := &models.UserRole{UserID: user.ID, RoleID: roleID}
		if err := tf.DB.DB.Create(link).Error; err != nil {
			return nil, fmt.Errorf("failed to bind user %d to role %d: %w", user.ID, roleID, err)
		}
	}
	return user, nil
}

// CreateTestRule creates an active COMPANY rule bound to the given roles in order
func (tf *TestFixtures) CreateTestRule(company *models.Company, roleIDs ...uint) (*models.Rule, error) {
	rule := &models.Rule{
		CompanyID:            company.ID,
		Name:                 "Company rule",
		Type:                 models.RuleTypeCompany,
		NITAssociatedCompany: utils.ToPtr(company.NIT),
		IsActive:             utils.ToPtr(true),
	}
	for i, roleID := range roleIDs {
		rule.RoleLinks = append(rule.RoleLinks, models.RuleRole{RoleID: roleID, Position: i})
	}
	if err := tf.DB.DB.Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create test rule: %w", err)
	}
	return rule, nil
}

// NewTestAssignment returns an unsaved assignment for the company
func NewTestAssignment(companyID uint, userID *uint, status models.AssignmentStatus) *models.Assignment {
	return &models.Assignment{
		UserID:         userID,
		CompanyID:      companyID,
		ClaimID:        fmt.Sprintf("CLM-%d", rand.Intn(100000000)),
		DocumentNumber: fmt.Sprintf("DOC-%d", rand.Intn(100000000)),
		Source:         "portal",
		ObjectionCode:  "OBJ-1",
		Value:          decimal.RequireFromString("1250.50"),
		ProcessID:      int64(rand.Intn(100000) + 1),
		Status:         status,
	}
}
