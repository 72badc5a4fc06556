// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/amirphl/claim-router/app/dto"
	"github.com/amirphl/claim-router/app/middleware"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must have at least " + err.Param() + " items or characters"
	case "max":
		return err.Field() + " must have at most " + err.Param() + " items or characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", err.Field(), err.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", err.Field(), err.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", err.Field(), err.Param())
	default:
		return err.Field() + " is invalid"
	}
}

func validationMessages(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		out = append(out, getValidationErrorMessage(e))
	}
	return out
}

// base carries what every handler needs
type base struct {
	validator *validator.Validate
	auditor   *businessflow.RequestAuditor
	logger    *slog.Logger
}

func newBase(auditor *businessflow.RequestAuditor, logger *slog.Logger) base {
	return base{validator: validator.New(), auditor: auditor, logger: logger}
}

func (h base) ErrorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: code, Details: details}})
}

func (h base) SuccessResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

// bindAndValidate decodes the JSON body into req and runs its validate tags.
// When ok is false the rejection is audited and the error response has already been written.
func (h base) bindAndValidate(c fiber.Ctx, req any) (ok bool, err error) {
	if err := c.Bind().JSON(req); err != nil {
		return false, h.badRequest(c, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validator.Struct(req); err != nil {
		return false, h.badRequest(c, "Validation failed", "VALIDATION_ERROR", validationMessages(err))
	}
	return true, nil
}

// badRequest audits a request rejected before any flow ran and answers 400
func (h base) badRequest(c fiber.Ctx, message, code string, details any) error {
	cause := fmt.Errorf("%s: %s", code, message)
	if details != nil {
		cause = fmt.Errorf("%s: %s: %v", code, message, details)
	}
	h.auditor.RecordRejected(c.Context(), c.Method()+" "+c.Path(), c.Body(), cause, h.metadata(c))
	return h.ErrorResponse(c, fiber.StatusBadRequest, message, code, details)
}

// FlowError maps a business flow error onto the HTTP status of its kind
func (h base) FlowError(c fiber.Ctx, err error, fallbackMessage string) error {
	kind := businessflow.ErrorKind(err)
	code := businessflow.ErrorCode(err)
	if code == "" {
		code = strings.ToUpper(kind)
	}

	message := fallbackMessage
	var be *businessflow.BusinessError
	if errors.As(err, &be) && be.Message != "" {
		message = be.Message
	}

	switch kind {
	case businessflow.KindValidation:
		return h.ErrorResponse(c, fiber.StatusBadRequest, message, code, err.Error())
	case businessflow.KindNotFound:
		return h.ErrorResponse(c, fiber.StatusNotFound, message, code, nil)
	case businessflow.KindInvalidTransition:
		return h.ErrorResponse(c, fiber.StatusConflict, message, "INVALID_TRANSITION", err.Error())
	case businessflow.KindConflict:
		return h.ErrorResponse(c, fiber.StatusConflict, message, code, nil)
	case businessflow.KindNoRoute:
		return h.ErrorResponse(c, fiber.StatusOK, message, code, nil)
	case businessflow.KindTransient:
		h.logger.Warn("Request failed on unavailable infrastructure", "path", c.Path(), "error", err)
		return h.ErrorResponse(c, fiber.StatusServiceUnavailable, "Service temporarily unavailable", code, nil)
	default:
		h.logger.Error("Request failed", "path", c.Path(), "error", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, fallbackMessage, "INTERNAL_ERROR", nil)
	}
}

// requestContext derives a bounded context carrying the request id, operator and endpoint
func (h base) requestContext(c fiber.Ctx, endpoint string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Context(), utils.DefaultRequestTimeout)
	ctx = context.WithValue(ctx, utils.RequestIDKey, middleware.RequestID(c))
	ctx = context.WithValue(ctx, utils.ActorKey, middleware.Operator(c))
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	return ctx, cancel
}

func (h base) metadata(c fiber.Ctx) *businessflow.ClientMetadata {
	md := businessflow.NewClientMetadata(c.IP(), c.Get(fiber.HeaderUserAgent))
	md.SetActor(middleware.Operator(c))
	md.SetRequestID(middleware.RequestID(c))
	return md
}

// pathID parses a positive numeric path parameter
func pathID(c fiber.Ctx, name string) (uint, bool) {
	return utils.ParseUint(c.Params(name))
}

func queryInt(c fiber.Ctx, name string, def, max int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}
