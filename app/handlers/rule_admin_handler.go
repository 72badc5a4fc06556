package handlers

import (
	"log/slog"
	"strings"

	"github.com/amirphl/claim-router/app/dto"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/gofiber/fiber/v3"
)

// RuleAdminHandlerInterface defines the rule administration endpoints
type RuleAdminHandlerInterface interface {
	CreateRule(c fiber.Ctx) error
	UpdateRule(c fiber.Ctx) error
	ListRules(c fiber.Ctx) error
	SetRuleActive(c fiber.Ctx) error
}

// RuleAdminHandler manages the routing rules of a company
type RuleAdminHandler struct {
	base
	flow businessflow.RuleAdminFlow
}

func NewRuleAdminHandler(flow businessflow.RuleAdminFlow, auditor *businessflow.RequestAuditor, logger *slog.Logger) RuleAdminHandlerInterface {
	return &RuleAdminHandler{base: newBase(auditor, logger), flow: flow}
}

func toRuleInput(req dto.RuleRequest) businessflow.RuleInput {
	return businessflow.RuleInput{
		Name:                 req.Name,
		Description:          req.Description,
		Type:                 models.RuleType(strings.TrimSpace(req.Type)),
		MinimumAmount:        req.MinimumAmount,
		MaximumAmount:        req.MaximumAmount,
		NITAssociatedCompany: req.NITAssociatedCompany,
		ObjectionCode:        req.ObjectionCode,
		IsActive:             req.IsActive,
		RoleIDs:              req.RoleIDs,
	}
}

// CreateRule adds a routing rule to a company
// @Summary Create Rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param companyId path int true "Company ID"
// @Param request body dto.RuleRequest true "Rule"
// @Success 201 {object} dto.APIResponse{data=models.Rule}
// @Failure 400 {object} dto.APIResponse "Fields inconsistent with rule type"
// @Router /api/v1/companies/{companyId}/rules [post]
func (h *RuleAdminHandler) CreateRule(c fiber.Ctx) error {
	companyID, ok := pathID(c, "companyId")
	if !ok {
		return h.badRequest(c, "Invalid company id", "INVALID_COMPANY_ID", nil)
	}
	var req dto.RuleRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/companies/:companyId/rules")
	defer cancel()

	rule, err := h.flow.Create(ctx, companyID, toRuleInput(req), h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Create rule failed")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Rule created", rule)
}

// UpdateRule replaces a rule of a company
// @Summary Update Rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param companyId path int true "Company ID"
// @Param ruleId path int true "Rule ID"
// @Param request body dto.RuleRequest true "Rule"
// @Success 200 {object} dto.APIResponse{data=models.Rule}
// @Router /api/v1/companies/{companyId}/rules/{ruleId} [put]
func (h *RuleAdminHandler) UpdateRule(c fiber.Ctx) error {
	companyID, ok := pathID(c, "companyId")
	if !ok {
		return h.badRequest(c, "Invalid company id", "INVALID_COMPANY_ID", nil)
	}
	ruleID, ok := pathID(c, "ruleId")
	if !ok {
		return h.badRequest(c, "Invalid rule id", "INVALID_RULE_ID", nil)
	}
	var req dto.RuleRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/companies/:companyId/rules/:ruleId")
	defer cancel()

	rule, err := h.flow.Update(ctx, companyID, ruleID, toRuleInput(req), h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Update rule failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Rule updated", rule)
}

// ListRules lists a company's rules; inactive ones only with include_inactive=true
// @Summary List Rules
// @Tags Rules
// @Produce json
// @Param companyId path int true "Company ID"
// @Param include_inactive query bool false "Include disabled rules"
// @Success 200 {object} dto.APIResponse{data=[]models.Rule}
// @Router /api/v1/companies/{companyId}/rules [get]
func (h *RuleAdminHandler) ListRules(c fiber.Ctx) error {
	companyID, ok := pathID(c, "companyId")
	if !ok {
		return h.badRequest(c, "Invalid company id", "INVALID_COMPANY_ID", nil)
	}
	includeInactive := fiber.Query[bool](c, "include_inactive", false)

	ctx, cancel := h.requestContext(c, "/api/v1/companies/:companyId/rules")
	defer cancel()

	rules, err := h.flow.List(ctx, companyID, includeInactive)
	if err != nil {
		return h.FlowError(c, err, "List rules failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Rules retrieved", rules)
}

// SetRuleActive enables or disables a rule
// @Summary Toggle Rule
// @Tags Rules
// @Accept json
// @Produce json
// @Param companyId path int true "Company ID"
// @Param ruleId path int true "Rule ID"
// @Param request body dto.SetRuleActiveRequest true "Activation flag"
// @Success 200 {object} dto.APIResponse{data=models.Rule}
// @Router /api/v1/companies/{companyId}/rules/{ruleId}/active [post]
func (h *RuleAdminHandler) SetRuleActive(c fiber.Ctx) error {
	companyID, ok := pathID(c, "companyId")
	if !ok {
		return h.badRequest(c, "Invalid company id", "INVALID_COMPANY_ID", nil)
	}
	ruleID, ok := pathID(c, "ruleId")
	if !ok {
		return h.badRequest(c, "Invalid rule id", "INVALID_RULE_ID", nil)
	}
	var req dto.SetRuleActiveRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/companies/:companyId/rules/:ruleId/active")
	defer cancel()

	rule, err := h.flow.SetActive(ctx, companyID, ruleID, *req.IsActive, h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Update rule activation failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Rule activation updated", rule)
}
