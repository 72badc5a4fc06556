// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"errors"
	"strings"

	"github.com/amirphl/claim-router/app/dto"
	"github.com/amirphl/claim-router/app/services"
	"github.com/gofiber/fiber/v3"
)

// Token scopes checked by the API
const (
	ScopeAssignmentsRead  = "assignments:read"
	ScopeAssignmentsWrite = "assignments:write"
	ScopeRulesWrite       = "rules:write"
	ScopeIngestionAdmin   = "ingestion:admin"
)

// Fiber locals set by Authenticate
const (
	LocalOperator = "operator"
	LocalClaims   = "operator_claims"
	LocalRequest  = "request_id"
)

// AuthMiddleware handles JWT token validation for protected endpoints
type AuthMiddleware struct {
	tokenService services.TokenService
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenService services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	authRejectionsTotal.WithLabelValues(code).Inc()
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error:   dto.ErrorDetail{Code: code},
	})
}

// Authenticate validates the bearer token and stores the operator for downstream handlers
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required", "MISSING_AUTHORIZATION_HEADER")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}

		claims, err := m.tokenService.Validate(token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				return unauthorized(c, "Access token has expired", "TOKEN_EXPIRED")
			case errors.Is(err, services.ErrTokenInvalid):
				return unauthorized(c, "Invalid access token", "TOKEN_INVALID")
			default:
				return unauthorized(c, "Token validation failed", "TOKEN_VALIDATION_FAILED")
			}
		}

		c.Locals(LocalOperator, claims.Operator)
		c.Locals(LocalClaims, claims)
		if requestID := RequestID(c); requestID != "" {
			c.Locals(LocalRequest, requestID)
		}

		return c.Next()
	}
}

// RequireScope rejects tokens that do not grant scope. It must run after Authenticate.
func (m *AuthMiddleware) RequireScope(scope string) fiber.Handler {
	return func(c fiber.Ctx) error {
		claims, ok := c.Locals(LocalClaims).(*services.OperatorClaims)
		if !ok || claims == nil {
			return unauthorized(c, "Authentication required", "AUTHENTICATION_REQUIRED")
		}
		if !claims.HasScope(scope) {
			authRejectionsTotal.WithLabelValues("INSUFFICIENT_SCOPE").Inc()
			return c.Status(fiber.StatusForbidden).JSON(dto.APIResponse{
				Success: false,
				Message: "Access token does not grant " + scope,
				Error:   dto.ErrorDetail{Code: "INSUFFICIENT_SCOPE", Details: fiber.Map{"required_scope": scope}},
			})
		}
		return c.Next()
	}
}

// Operator returns the authenticated operator name, or "" on public routes
func Operator(c fiber.Ctx) string {
	if op, ok := c.Locals(LocalOperator).(string); ok {
		return op
	}
	return ""
}

// RequestID returns the inbound request id or the one generated by the requestid middleware
func RequestID(c fiber.Ctx) string {
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
