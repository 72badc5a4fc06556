package handlers

import (
	"context"
	"log/slog"

	"github.com/amirphl/claim-router/app/bootstrap"
	"github.com/amirphl/claim-router/app/dto"
	"github.com/amirphl/claim-router/app/middleware"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/gofiber/fiber/v3"
)

// IngestionSupervisor controls the background claim consumer
type IngestionSupervisor interface {
	Start(ctx context.Context, actor string) error
	Stop(ctx context.Context, actor string) error
	Status(ctx context.Context) bootstrap.Status
}

// AutoAssignmentHandlerInterface defines the automatic routing endpoints
type AutoAssignmentHandlerInterface interface {
	ProcessManually(c fiber.Ctx) error
	ServiceStatus(c fiber.Ctx) error
	StartService(c fiber.Ctx) error
	StopService(c fiber.Ctx) error
}

// AutoAssignmentHandler runs the routing pipeline on demand and controls the consumer
type AutoAssignmentHandler struct {
	base
	pipeline   businessflow.IngestionPipeline
	supervisor IngestionSupervisor
}

func NewAutoAssignmentHandler(pipeline businessflow.IngestionPipeline, supervisor IngestionSupervisor, auditor *businessflow.RequestAuditor, logger *slog.Logger) AutoAssignmentHandlerInterface {
	return &AutoAssignmentHandler{
		base:       newBase(auditor, logger),
		pipeline:   pipeline,
		supervisor: supervisor,
	}
}

func toProcessResponse(res *businessflow.IngestionResult) dto.ProcessClaimResponse {
	out := dto.ProcessClaimResponse{
		Outcome:       string(res.Outcome),
		Created:       res.Created,
		CandidateIDs:  res.CandidateIDs,
		Misconfigured: res.Misconfigured,
	}
	if res.Assignment != nil {
		out.Assignment = res.Assignment
	}
	if res.MatchedRule != nil {
		out.MatchedRuleID = &res.MatchedRule.ID
	}
	if res.SelectedUser != nil {
		out.SelectedUser = &res.SelectedUser.ID
	}
	return out
}

// ProcessManually routes one claim synchronously, bypassing the queue
// @Summary Process Claim Manually
// @Tags Auto Assignments
// @Accept json
// @Produce json
// @Param request body models.Claim true "Claim message"
// @Success 201 {object} dto.APIResponse{data=dto.ProcessClaimResponse} "Assignment created"
// @Success 200 {object} dto.APIResponse{data=dto.ProcessClaimResponse} "Duplicate, or no rule applied (success=false)"
// @Failure 400 {object} dto.APIResponse "Malformed claim"
// @Failure 404 {object} dto.APIResponse "Unknown company"
// @Router /api/v1/auto-assignments/process-manually [post]
func (h *AutoAssignmentHandler) ProcessManually(c fiber.Ctx) error {
	var claim models.Claim
	if err := c.Bind().JSON(&claim); err != nil {
		return h.badRequest(c, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	ctx, cancel := h.requestContext(c, "/api/v1/auto-assignments/process-manually")
	defer cancel()

	res, err := h.pipeline.Process(ctx, &claim, h.metadata(c))
	if err != nil {
		if businessflow.IsNoRoute(err) && res != nil {
			return c.Status(fiber.StatusOK).JSON(dto.APIResponse{
				Success: false,
				Message: "No routing rule applies to this claim",
				Data:    toProcessResponse(res),
				Error:   dto.ErrorDetail{Code: "NO_ROUTE"},
			})
		}
		return h.FlowError(c, err, "Claim processing failed")
	}

	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return h.SuccessResponse(c, status, "Claim processed", toProcessResponse(res))
}

// ServiceStatus reports the consumer state
// @Summary Ingestion Service Status
// @Tags Auto Assignments
// @Produce json
// @Success 200 {object} dto.APIResponse{data=bootstrap.Status}
// @Router /api/v1/auto-assignments/service/status [get]
func (h *AutoAssignmentHandler) ServiceStatus(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/auto-assignments/service/status")
	defer cancel()
	return h.SuccessResponse(c, fiber.StatusOK, "Ingestion service status", h.supervisor.Status(ctx))
}

// StartService starts the consumer; starting a running consumer is a no-op
// @Summary Start Ingestion Service
// @Tags Auto Assignments
// @Produce json
// @Success 200 {object} dto.APIResponse{data=bootstrap.Status}
// @Failure 409 {object} dto.APIResponse "Service is changing state"
// @Failure 503 {object} dto.APIResponse "Queue unreachable after retries"
// @Router /api/v1/auto-assignments/service/start [post]
func (h *AutoAssignmentHandler) StartService(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/auto-assignments/service/start")
	defer cancel()

	if err := h.supervisor.Start(ctx, middleware.Operator(c)); err != nil {
		return h.FlowError(c, err, "Ingestion service start failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Ingestion service started", h.supervisor.Status(ctx))
}

// StopService drains and stops the consumer
// @Summary Stop Ingestion Service
// @Tags Auto Assignments
// @Produce json
// @Success 200 {object} dto.APIResponse{data=bootstrap.Status}
// @Router /api/v1/auto-assignments/service/stop [post]
func (h *AutoAssignmentHandler) StopService(c fiber.Ctx) error {
	ctx, cancel := h.requestContext(c, "/api/v1/auto-assignments/service/stop")
	defer cancel()

	if err := h.supervisor.Stop(ctx, middleware.Operator(c)); err != nil {
		return h.FlowError(c, err, "Ingestion service stop failed")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Ingestion service stopped", h.supervisor.Status(ctx))
}
