package handlers

import (
	"context"
	"log/slog"

	"github.com/amirphl/claim-router/app/dto"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/utils"
	"github.com/gofiber/fiber/v3"
)

// AssignmentHandlerInterface defines the assignment endpoints
type AssignmentHandlerInterface interface {
	CreateAssignment(c fiber.Ctx) error
	GetAssignment(c fiber.Ctx) error
	ListCompanyAssignments(c fiber.Ctx) error
	ExportCompanyAssignments(c fiber.Ctx) error
	Activate(c fiber.Ctx) error
	Complete(c fiber.Ctx) error
	Cancel(c fiber.Ctx) error
	Unassign(c fiber.Ctx) error
	Reassign(c fiber.Ctx) error
	BulkReassign(c fiber.Ctx) error
	CompleteByNaturalKey(c fiber.Ctx) error
	ForceDelete(c fiber.Ctx) error
}

// AssignmentHandler exposes the assignment lifecycle over HTTP
type AssignmentHandler struct {
	base
	lifecycle businessflow.AssignmentLifecycle
	reports   businessflow.AssignmentReportFlow
}

func NewAssignmentHandler(lifecycle businessflow.AssignmentLifecycle, reports businessflow.AssignmentReportFlow, auditor *businessflow.RequestAuditor, logger *slog.Logger) AssignmentHandlerInterface {
	return &AssignmentHandler{
		base:      newBase(auditor, logger),
		lifecycle: lifecycle,
		reports:   reports,
	}
}

// CreateAssignment creates an assignment by hand
// @Summary Create Assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param request body dto.CreateAssignmentRequest true "Assignment"
// @Success 201 {object} dto.APIResponse{data=dto.CreateAssignmentResponse}
// @Success 200 {object} dto.APIResponse{data=dto.CreateAssignmentResponse} "Natural key already assigned"
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/assignments [post]
func (h *AssignmentHandler) CreateAssignment(c fiber.Ctx) error {
	var req dto.CreateAssignmentRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/assignments")
	defer cancel()

	res, err := h.lifecycle.CreateManual(ctx, businessflow.CreateAssignmentInput{
		CompanyID:      req.CompanyID,
		UserID:         req.UserID,
		MatchedRuleID:  req.MatchedRuleID,
		ClaimID:        req.ClaimID,
		DocumentNumber: req.DocumentNumber,
		Source:         req.Source,
		ObjectionCode:  req.ObjectionCode,
		Value:          *req.Value,
		ProcessID:      req.ProcessID,
		StartDate:      req.StartDate,
	}, h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Create assignment failed")
	}

	status, message := fiber.StatusCreated, "Assignment created"
	if !res.Created {
		status, message = fiber.StatusOK, "Assignment already exists for this claim and document"
	}
	return h.SuccessResponse(c, status, message, dto.CreateAssignmentResponse{Assignment: res.Assignment, Created: res.Created})
}

// GetAssignment returns one assignment
// @Summary Get Assignment
// @Tags Assignments
// @Produce json
// @Param id path int true "Assignment ID"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Failure 404 {object} dto.APIResponse "Not found"
// @Router /api/v1/assignments/{id} [get]
func (h *AssignmentHandler) GetAssignment(c fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.badRequest(c, "Invalid assignment id", "INVALID_ASSIGNMENT_ID", nil)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/assignments/:id")
	defer cancel()

	a, err := h.lifecycle.Get(ctx, id)
	if err != nil {
		return h.FlowError(c, err, "Get assignment failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Assignment retrieved", a)
}

// companyFilter reads the company id path parameter and the status/user_id query filters
func (h *AssignmentHandler) companyFilter(c fiber.Ctx) (models.AssignmentFilter, bool, error) {
	companyID, ok := pathID(c, "companyId")
	if !ok {
		return models.AssignmentFilter{}, false, h.badRequest(c, "Invalid company id", "INVALID_COMPANY_ID", nil)
	}
	filter := models.AssignmentFilter{CompanyID: &companyID}

	if raw := c.Query("status"); raw != "" {
		status := models.AssignmentStatus(raw)
		if !status.Valid() {
			return filter, false, h.badRequest(c, "Invalid status filter", "INVALID_STATUS", raw)
		}
		filter.Status = &status
	}
	if raw := c.Query("user_id"); raw != "" {
		userID, ok := utils.ParseUint(raw)
		if !ok {
			return filter, false, h.badRequest(c, "Invalid user filter", "INVALID_USER_ID", raw)
		}
		filter.UserID = &userID
	}
	return filter, true, nil
}

// ListCompanyAssignments lists the assignments of a company
// @Summary List Company Assignments
// @Tags Assignments
// @Produce json
// @Param companyId path int true "Company ID"
// @Param status query string false "Status filter"
// @Param user_id query int false "User filter"
// @Param limit query int false "Page size (max 500)"
// @Param offset query int false "Offset"
// @Success 200 {object} dto.APIResponse{data=dto.ListAssignmentsResponse}
// @Router /api/v1/assignments/company/{companyId} [get]
func (h *AssignmentHandler) ListCompanyAssignments(c fiber.Ctx) error {
	filter, ok, err := h.companyFilter(c)
	if !ok {
		return err
	}
	limit := queryInt(c, "limit", 50, 500)
	offset := queryInt(c, "offset", 0, 0)

	ctx, cancel := h.requestContext(c, "/api/v1/assignments/company/:companyId")
	defer cancel()

	items, total, err := h.lifecycle.List(ctx, filter, limit, offset)
	if err != nil {
		return h.FlowError(c, err, "List assignments failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Assignments retrieved", dto.ListAssignmentsResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// ExportCompanyAssignments streams the company's assignments as an XLSX workbook
// @Summary Export Company Assignments
// @Tags Assignments
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param companyId path int true "Company ID"
// @Param status query string false "Status filter"
// @Router /api/v1/assignments/company/{companyId}/export [get]
func (h *AssignmentHandler) ExportCompanyAssignments(c fiber.Ctx) error {
	filter, ok, err := h.companyFilter(c)
	if !ok {
		return err
	}
	ctx, cancel := h.requestContext(c, "/api/v1/assignments/company/:companyId/export")
	defer cancel()

	filename, content, err := h.reports.ExportCompany(ctx, *filter.CompanyID, filter.Status)
	if err != nil {
		return h.FlowError(c, err, "Export assignments failed")
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(content)
}

type transitionFunc func(ctx context.Context, id uint, metadata *businessflow.ClientMetadata) (*models.Assignment, error)

func (h *AssignmentHandler) transition(c fiber.Ctx, endpoint, done, failed string, fn transitionFunc) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.badRequest(c, "Invalid assignment id", "INVALID_ASSIGNMENT_ID", nil)
	}
	ctx, cancel := h.requestContext(c, endpoint)
	defer cancel()

	a, err := fn(ctx, id, h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, failed)
	}
	return h.SuccessResponse(c, fiber.StatusOK, done, a)
}

// Activate moves an assigned assignment to active
// @Summary Activate Assignment
// @Tags Assignments
// @Param id path int true "Assignment ID"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Failure 409 {object} dto.APIResponse "Invalid transition"
// @Router /api/v1/assignments/{id}/activate [post]
func (h *AssignmentHandler) Activate(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/assignments/:id/activate", "Assignment activated", "Activate assignment failed", h.lifecycle.Activate)
}

// Complete closes an assignment; completing a completed assignment is a no-op
// @Summary Complete Assignment
// @Tags Assignments
// @Param id path int true "Assignment ID"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Failure 409 {object} dto.APIResponse "Invalid transition"
// @Router /api/v1/assignments/{id}/complete [post]
func (h *AssignmentHandler) Complete(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/assignments/:id/complete", "Assignment completed", "Complete assignment failed", h.lifecycle.Complete)
}

// Cancel cancels an open assignment
// @Summary Cancel Assignment
// @Tags Assignments
// @Param id path int true "Assignment ID"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Failure 409 {object} dto.APIResponse "Invalid transition"
// @Router /api/v1/assignments/{id}/cancel [post]
func (h *AssignmentHandler) Cancel(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/assignments/:id/cancel", "Assignment cancelled", "Cancel assignment failed", h.lifecycle.Cancel)
}

// Unassign releases the owner of an assignment
// @Summary Unassign Assignment
// @Tags Assignments
// @Param id path int true "Assignment ID"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Router /api/v1/assignments/{id}/unassign [post]
func (h *AssignmentHandler) Unassign(c fiber.Ctx) error {
	return h.transition(c, "/api/v1/assignments/:id/unassign", "Assignment unassigned", "Unassign assignment failed", h.lifecycle.Unassign)
}

// Reassign moves an assignment to another active user
// @Summary Reassign Assignment
// @Tags Assignments
// @Accept json
// @Param id path int true "Assignment ID"
// @Param request body dto.ReassignRequest true "Target user"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Router /api/v1/assignments/{id}/reassign [post]
func (h *AssignmentHandler) Reassign(c fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.badRequest(c, "Invalid assignment id", "INVALID_ASSIGNMENT_ID", nil)
	}
	var req dto.ReassignRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/assignments/:id/reassign")
	defer cancel()

	a, err := h.lifecycle.Reassign(ctx, id, req.UserID, h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Reassign assignment failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Assignment reassigned", a)
}

// BulkReassign reassigns several assignments of a company; each item succeeds or fails on its own
// @Summary Bulk Reassign
// @Tags Assignments
// @Accept json
// @Param companyId path int true "Company ID"
// @Param request body dto.BulkReassignRequest true "Items"
// @Success 200 {object} dto.APIResponse{data=dto.BulkReassignResponse}
// @Router /api/v1/assignments/company/{companyId}/reassignment [post]
func (h *AssignmentHandler) BulkReassign(c fiber.Ctx) error {
	companyID, ok := pathID(c, "companyId")
	if !ok {
		return h.badRequest(c, "Invalid company id", "INVALID_COMPANY_ID", nil)
	}
	var req dto.BulkReassignRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	items := make([]businessflow.ReassignmentItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, businessflow.ReassignmentItem{AssignmentID: it.AssignmentID, UserID: it.UserID})
	}

	ctx, cancel := h.requestContext(c, "/api/v1/assignments/company/:companyId/reassignment")
	defer cancel()

	results, err := h.lifecycle.BulkReassign(ctx, companyID, items, h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Bulk reassignment failed")
	}

	resp := dto.BulkReassignResponse{Results: results}
	for _, r := range results {
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Bulk reassignment processed", resp)
}

// CompleteByNaturalKey completes the assignment of a claim/document pair
// @Summary Complete By Natural Key
// @Tags Assignments
// @Accept json
// @Param request body dto.CompleteByNaturalKeyRequest true "Natural key"
// @Success 200 {object} dto.APIResponse{data=models.Assignment}
// @Router /api/v1/assignments/complete [post]
func (h *AssignmentHandler) CompleteByNaturalKey(c fiber.Ctx) error {
	var req dto.CompleteByNaturalKeyRequest
	if ok, err := h.bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := h.requestContext(c, "/api/v1/assignments/complete")
	defer cancel()

	a, err := h.lifecycle.CompleteByNaturalKey(ctx, req.ClaimID, req.DocumentNumber, h.metadata(c))
	if err != nil {
		return h.FlowError(c, err, "Complete assignment failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Assignment completed", a)
}

// ForceDelete physically removes an assignment
// @Summary Force Delete Assignment
// @Tags Assignments
// @Param id path int true "Assignment ID"
// @Success 200 {object} dto.APIResponse
// @Router /api/v1/assignments/{id}/force [delete]
func (h *AssignmentHandler) ForceDelete(c fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return h.badRequest(c, "Invalid assignment id", "INVALID_ASSIGNMENT_ID", nil)
	}
	ctx, cancel := h.requestContext(c, "/api/v1/assignments/:id/force")
	defer cancel()

	if err := h.lifecycle.ForceDelete(ctx, id, h.metadata(c)); err != nil {
		return h.FlowError(c, err, "Delete assignment failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Assignment deleted", fiber.Map{"id": id, "deleted": true})
}
