// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/amirphl/claim-router/app/dto"
	"github.com/amirphl/claim-router/app/handlers"
	"github.com/amirphl/claim-router/app/middleware"
	"github.com/amirphl/claim-router/config"
	"github.com/amirphl/claim-router/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker func(ctx context.Context) error

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	Shutdown(ctx context.Context) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app               *fiber.App
	assignmentHandler handlers.AssignmentHandlerInterface
	autoHandler       handlers.AutoAssignmentHandlerInterface
	ruleHandler       handlers.RuleAdminHandlerInterface
	auth              *middleware.AuthMiddleware
	checks            map[string]HealthChecker
	cfg               *config.ProductionConfig
	logger            *slog.Logger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	assignmentHandler handlers.AssignmentHandlerInterface,
	autoHandler handlers.AutoAssignmentHandlerInterface,
	ruleHandler handlers.RuleAdminHandlerInterface,
	auth *middleware.AuthMiddleware,
	checks map[string]HealthChecker,
	cfg *config.ProductionConfig,
	logger *slog.Logger,
) Router {
	r := &FiberRouter{
		assignmentHandler: assignmentHandler,
		autoHandler:       autoHandler,
		ruleHandler:       ruleHandler,
		auth:              auth,
		checks:            checks,
		cfg:               cfg,
		logger:            logger.With("component", "http"),
	}

	r.app = fiber.New(fiber.Config{
		AppName:      "Claim Router API",
		ServerHeader: "claim-router",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")
	api.Get("/health", r.healthCheck)

	api.Use(limiter.New(limiter.Config{
		Max:        r.cfg.Security.GlobalRateLimit,
		Expiration: r.cfg.Security.RateLimitWindow,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	protected := api.Group("", r.auth.Authenticate())
	read := r.auth.RequireScope(middleware.ScopeAssignmentsRead)
	write := r.auth.RequireScope(middleware.ScopeAssignmentsWrite)
	rulesWrite := r.auth.RequireScope(middleware.ScopeRulesWrite)
	ingestion := r.auth.RequireScope(middleware.ScopeIngestionAdmin)

	assignments := protected.Group("/assignments")
	assignments.Post("/", write, r.assignmentHandler.CreateAssignment)
	assignments.Post("/complete", write, r.assignmentHandler.CompleteByNaturalKey)
	assignments.Get("/company/:companyId", read, r.assignmentHandler.ListCompanyAssignments)
	assignments.Get("/company/:companyId/export", read, r.assignmentHandler.ExportCompanyAssignments)
	assignments.Post("/company/:companyId/reassignment", write, r.assignmentHandler.BulkReassign)
	assignments.Get("/:id", read, r.assignmentHandler.GetAssignment)
	assignments.Post("/:id/activate", write, r.assignmentHandler.Activate)
	assignments.Post("/:id/complete", write, r.assignmentHandler.Complete)
	assignments.Post("/:id/cancel", write, r.assignmentHandler.Cancel)
	assignments.Post("/:id/unassign", write, r.assignmentHandler.Unassign)
	assignments.Post("/:id/reassign", write, r.assignmentHandler.Reassign)
	assignments.Delete("/:id/force", write, r.assignmentHandler.ForceDelete)

	auto := protected.Group("/auto-assignments")
	auto.Post("/process-manually", write, r.autoHandler.ProcessManually)
	auto.Get("/service/status", read, r.autoHandler.ServiceStatus)
	auto.Post("/service/start", ingestion, r.autoHandler.StartService)
	auto.Post("/service/stop", ingestion, r.autoHandler.StopService)

	rules := protected.Group("/companies/:companyId/rules")
	rules.Get("/", read, r.ruleHandler.ListRules)
	rules.Post("/", rulesWrite, r.ruleHandler.CreateRule)
	rules.Put("/:ruleId", rulesWrite, r.ruleHandler.UpdateRule)
	rules.Post("/:ruleId/active", rulesWrite, r.ruleHandler.SetRuleActive)

	r.app.Use(r.notFoundHandler)

	r.logger.Info("Routes configured")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: fiber.HeaderXRequestID,
		Generator: func() string {
			return uuid.NewString()
		},
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins: r.cfg.Security.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           utils.CORSMaxAge,
	}))

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${respHeader:X-Request-ID}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health" || c.Path() == r.cfg.Metrics.Path
		},
	}))

	if r.cfg.Metrics.Enabled {
		r.app.Use(middleware.Metrics(r.cfg.Metrics.Path, "/api/v1/health"))
	}

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.Error("Panic while serving request",
				"request_id", middleware.RequestID(c),
				"panic", e,
				"path", c.Path(),
				"method", c.Method(),
				"ip", c.IP(),
			)
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.Info("Starting server", "address", address)
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for active requests
func (r *FiberRouter) Shutdown(ctx context.Context) error {
	return r.app.ShutdownWithContext(ctx)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// healthCheck reports the reachability of every dependency; any failure answers 503
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	components := fiber.Map{}
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			components[name] = fiber.Map{"status": "down", "error": err.Error()}
			status = fiber.StatusServiceUnavailable
			continue
		}
		components[name] = fiber.Map{"status": "up"}
	}

	return c.Status(status).JSON(dto.APIResponse{
		Success: status == fiber.StatusOK,
		Message: "Service health",
		Data: fiber.Map{
			"timestamp":   utils.UTCNow().Unix(),
			"version":     r.cfg.Deployment.Version,
			"environment": r.cfg.Deployment.Environment,
			"service":     "claim-router",
			"components":  components,
		},
	})
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": middleware.RequestID(c),
			},
		},
	})
}

func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		r.logger.Error("Unhandled request error", "status", code, "path", c.Path(), "error", err)
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: "HTTP_ERROR",
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": middleware.RequestID(c),
			},
		},
	})
}
