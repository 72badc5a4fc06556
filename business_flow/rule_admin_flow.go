package businessflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
	"github.com/shopspring/decimal"
)

// RuleAdminFlow manages the routing rules of a company
type RuleAdminFlow interface {
	Create(ctx context.Context, companyID uint, input RuleInput, metadata *ClientMetadata) (*models.Rule, error)
	Update(ctx context.Context, companyID, ruleID uint, input RuleInput, metadata *ClientMetadata) (*models.Rule, error)
	SetActive(ctx context.Context, companyID, ruleID uint, active bool, metadata *ClientMetadata) (*models.Rule, error)
	List(ctx context.Context, companyID uint, includeInactive bool) ([]*models.Rule, error)
}

// RuleInput is the writable part of a rule
type RuleInput struct {
	Name                 string           `json:"name"`
	Description          *string          `json:"description,omitempty"`
	Type                 models.RuleType  `json:"type"`
	MinimumAmount        *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount        *decimal.Decimal `json:"maximum_amount,omitempty"`
	NITAssociatedCompany *string          `json:"nit_associated_company,omitempty"`
	ObjectionCode        *string          `json:"objection_code,omitempty"`
	IsActive             *bool            `json:"is_active,omitempty"`
	RoleIDs              []uint           `json:"role_ids"`
}

// RuleAdminFlowImpl implements RuleAdminFlow
type RuleAdminFlowImpl struct {
	companyRepo repository.CompanyRepository
	ruleRepo    repository.RuleRepository
	roleRepo    repository.RoleRepository
	rules       RuleStore
	tx          repository.Transactor
	audit       *auditRecorder
	logger      *slog.Logger
}

// NewRuleAdminFlow creates the rule administration flow
func NewRuleAdminFlow(
	companyRepo repository.CompanyRepository,
	ruleRepo repository.RuleRepository,
	roleRepo repository.RoleRepository,
	rules RuleStore,
	auditRepo repository.AuditLogRepository,
	tx repository.Transactor,
	logger *slog.Logger,
) RuleAdminFlow {
	return &RuleAdminFlowImpl{
		companyRepo: companyRepo,
		ruleRepo:    ruleRepo,
		roleRepo:    roleRepo,
		rules:       rules,
		tx:          tx,
		audit:       newAuditRecorder(auditRepo, logger),
		logger:      logger,
	}
}

// Create validates and stores a new rule
func (f *RuleAdminFlowImpl) Create(ctx context.Context, companyID uint, input RuleInput, metadata *ClientMetadata) (*models.Rule, error) {
	metadata = metadataOrSystem(metadata)

	if err := f.requireCompany(ctx, companyID); err != nil {
		return nil, f.fail(ctx, companyID, err, input, metadata)
	}

	rule, err := f.buildRule(ctx, companyID, input)
	if err != nil {
		return nil, f.fail(ctx, companyID, err, input, metadata)
	}
	if rule.IsActive == nil {
		rule.IsActive = utils.ToPtr(true)
	}

	err = f.write(ctx, companyID, func(txCtx context.Context) error {
		if err := f.ruleRepo.Save(txCtx, rule); err != nil {
			return err
		}
		return f.audit.record(txCtx, auditEntry{
			Action:      models.AuditActionRuleCreated,
			CompanyID:   &companyID,
			Description: fmt.Sprintf("Rule %d created with type %s", rule.ID, rule.Type),
			Payload:     input,
		}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, companyID, transientError("RULE_SAVE_FAILED", "Failed to save rule", err), input, metadata)
	}

	return rule, nil
}

// Update replaces the writable fields and roles of a rule
func (f *RuleAdminFlowImpl) Update(ctx context.Context, companyID, ruleID uint, input RuleInput, metadata *ClientMetadata) (*models.Rule, error) {
	metadata = metadataOrSystem(metadata)

	existing, err := f.loadForCompany(ctx, companyID, ruleID)
	if err != nil {
		return nil, f.fail(ctx, companyID, err, input, metadata)
	}

	rule, err := f.buildRule(ctx, companyID, input)
	if err != nil {
		return nil, f.fail(ctx, companyID, err, input, metadata)
	}
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if rule.IsActive == nil {
		rule.IsActive = existing.IsActive
	}

	err = f.write(ctx, companyID, func(txCtx context.Context) error {
		if err := f.ruleRepo.Update(txCtx, rule); err != nil {
			return err
		}
		return f.audit.record(txCtx, auditEntry{
			Action:      models.AuditActionRuleUpdated,
			CompanyID:   &companyID,
			Description: fmt.Sprintf("Rule %d updated", rule.ID),
			Payload:     map[string]any{"before": existing, "after": input},
		}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, companyID, transientError("RULE_SAVE_FAILED", "Failed to update rule", err), input, metadata)
	}

	return rule, nil
}

// SetActive enables or disables a rule; rules are never deleted
func (f *RuleAdminFlowImpl) SetActive(ctx context.Context, companyID, ruleID uint, active bool, metadata *ClientMetadata) (*models.Rule, error) {
	metadata = metadataOrSystem(metadata)
	payload := map[string]any{"rule_id": ruleID, "is_active": active}

	rule, err := f.loadForCompany(ctx, companyID, ruleID)
	if err != nil {
		return nil, f.fail(ctx, companyID, err, payload, metadata)
	}
	if rule.Active() == active {
		return rule, nil
	}

	err = f.write(ctx, companyID, func(txCtx context.Context) error {
		if err := f.ruleRepo.SetActive(txCtx, ruleID, active); err != nil {
			return err
		}
		return f.audit.record(txCtx, auditEntry{
			Action:      models.AuditActionRuleActivationChanged,
			CompanyID:   &companyID,
			Description: fmt.Sprintf("Rule %d active=%t", ruleID, active),
			Payload:     payload,
		}, metadata)
	})
	if err != nil {
		return nil, f.fail(ctx, companyID, transientError("RULE_SAVE_FAILED", "Failed to change rule activation", err), payload, metadata)
	}

	rule.IsActive = utils.ToPtr(active)
	return rule, nil
}

// List returns the company's rules, optionally including disabled ones
func (f *RuleAdminFlowImpl) List(ctx context.Context, companyID uint, includeInactive bool) ([]*models.Rule, error) {
	if err := f.requireCompany(ctx, companyID); err != nil {
		return nil, err
	}
	rules, err := f.ruleRepo.ByCompany(ctx, companyID, !includeInactive)
	if err != nil {
		return nil, transientError("RULE_LIST_FAILED", "Failed to list rules", err)
	}
	return rules, nil
}

// write commits fn and invalidates the company's cached rules before and after,
// so a reader racing the commit cannot pin a stale rule set for a whole TTL.
func (f *RuleAdminFlowImpl) write(ctx context.Context, companyID uint, fn func(context.Context) error) error {
	f.rules.Invalidate(ctx, companyID)
	if err := f.tx.WithTransaction(ctx, fn); err != nil {
		return err
	}
	f.rules.Invalidate(ctx, companyID)
	return nil
}

func (f *RuleAdminFlowImpl) buildRule(ctx context.Context, companyID uint, input RuleInput) (*models.Rule, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, NewBusinessError("RULE_NAME_REQUIRED", "Rule name is required", ErrRuleNameRequired)
	}
	ruleType := models.RuleType(strings.ToUpper(strings.TrimSpace(string(input.Type))))
	if ruleType == "" {
		return nil, NewBusinessError("RULE_TYPE_REQUIRED", "Rule type is required", ErrInvalidRule)
	}

	roleIDs := dedupeIDs(input.RoleIDs)
	if len(roleIDs) == 0 {
		return nil, NewBusinessError("RULE_ROLES_REQUIRED", "Rule must authorize at least one role", ErrRuleRolesRequired)
	}
	roles, err := f.roleRepo.ByIDs(ctx, roleIDs)
	if err != nil {
		return nil, transientError("ROLE_LOOKUP_FAILED", "Failed to load roles", err)
	}
	if len(roles) != len(roleIDs) {
		return nil, NewBusinessError("RULE_ROLE_NOT_FOUND", "One or more roles do not exist", ErrRuleRoleNotFound)
	}

	rule := &models.Rule{
		CompanyID:            companyID,
		Name:                 name,
		Description:          input.Description,
		Type:                 ruleType,
		MinimumAmount:        input.MinimumAmount,
		MaximumAmount:        input.MaximumAmount,
		NITAssociatedCompany: trimmedOrNil(input.NITAssociatedCompany),
		ObjectionCode:        trimmedOrNil(input.ObjectionCode),
		IsActive:             input.IsActive,
	}
	normalizeRuleFields(rule)
	if err := ValidateRuleShape(rule); err != nil {
		return nil, NewBusinessError("RULE_INVALID", "Rule fields are inconsistent with its type", err)
	}

	for i, id := range roleIDs {
		rule.RoleLinks = append(rule.RoleLinks, models.RuleRole{RoleID: id, Position: i})
	}
	return rule, nil
}

func (f *RuleAdminFlowImpl) requireCompany(ctx context.Context, companyID uint) error {
	company, err := f.companyRepo.ByID(ctx, companyID)
	if err != nil {
		return transientError("COMPANY_LOOKUP_FAILED", "Failed to load company", err)
	}
	if company == nil {
		return NewBusinessErrorf("COMPANY_NOT_FOUND", "company %d not found", ErrCompanyNotFound, companyID)
	}
	return nil
}

func (f *RuleAdminFlowImpl) loadForCompany(ctx context.Context, companyID, ruleID uint) (*models.Rule, error) {
	rule, err := f.ruleRepo.ByID(ctx, ruleID)
	if err != nil {
		return nil, transientError("RULE_LOOKUP_FAILED", "Failed to load rule", err)
	}
	if rule == nil || rule.CompanyID != companyID {
		return nil, NewBusinessErrorf("RULE_NOT_FOUND", "rule %d not found in company %d", ErrRuleNotFound, ruleID, companyID)
	}
	return rule, nil
}

func (f *RuleAdminFlowImpl) fail(ctx context.Context, companyID uint, err error, payload any, metadata *ClientMetadata) error {
	f.audit.recordFailure(ctx, auditEntry{
		Action:      models.AuditActionRuleWriteFailed,
		CompanyID:   &companyID,
		Description: "Rule write failed",
		Payload:     payload,
		Err:         err,
	}, metadata)
	return err
}

func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
