package router

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/claim-router/app/middleware"
	"github.com/amirphl/claim-router/app/services"
	"github.com/amirphl/claim-router/config"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routerTestSecret = "router-test-secret-0123456789abcdef"

// recordingHandlers answers 200 on every endpoint and counts the calls per name
type recordingHandlers struct {
	mu    sync.Mutex
	calls map[string]int
}

func (h *recordingHandlers) hit(name string, c fiber.Ctx) error {
	h.mu.Lock()
	h.calls[name]++
	h.mu.Unlock()
	return c.SendStatus(fiber.StatusOK)
}

func (h *recordingHandlers) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func (h *recordingHandlers) CreateAssignment(c fiber.Ctx) error {
	return h.hit("create", c)
}

func (h *recordingHandlers) GetAssignment(c fiber.Ctx) error {
	return h.hit("get", c)
}

func (h *recordingHandlers) ListCompanyAssignments(c fiber.Ctx) error {
	return h.hit("list", c)
}

func (h *recordingHandlers) ExportCompanyAssignments(c fiber.Ctx) error {
	return h.hit("export", c)
}

func (h *recordingHandlers) Activate(c fiber.Ctx) error {
	return h.hit("activate", c)
}

func (h *recordingHandlers) Complete(c fiber.Ctx) error {
	return h.hit("complete", c)
}

func (h *recordingHandlers) Cancel(c fiber.Ctx) error {
	return h.hit("cancel", c)
}

func (h *recordingHandlers) Unassign(c fiber.Ctx) error {
	return h.hit("unassign", c)
}

func (h *recordingHandlers) Reassign(c fiber.Ctx) error {
	return h.hit("reassign", c)
}

func (h *recordingHandlers) BulkReassign(c fiber.Ctx) error {
	return h.hit("bulk", c)
}

func (h *recordingHandlers) CompleteByNaturalKey(c fiber.Ctx) error {
	return h.hit("complete-key", c)
}

func (h *recordingHandlers) ForceDelete(c fiber.Ctx) error {
	return h.hit("force", c)
}

func (h *recordingHandlers) ProcessManually(c fiber.Ctx) error {
	return h.hit("process", c)
}

func (h *recordingHandlers) ServiceStatus(c fiber.Ctx) error {
	return h.hit("status", c)
}

func (h *recordingHandlers) StartService(c fiber.Ctx) error {
	return h.hit("start", c)
}

func (h *recordingHandlers) StopService(c fiber.Ctx) error {
	return h.hit("stop", c)
}

func (h *recordingHandlers) CreateRule(c fiber.Ctx) error {
	return h.hit("rule-create", c)
}

func (h *recordingHandlers) UpdateRule(c fiber.Ctx) error {
	return h.hit("rule-update", c)
}

func (h *recordingHandlers) ListRules(c fiber.Ctx) error {
	return h.hit("rule-list", c)
}

func (h *recordingHandlers) SetRuleActive(c fiber.Ctx) error {
	return h.hit("rule-active", c)
}

func newTestRouter(t *testing.T) (*fiber.App, *recordingHandlers, services.TokenService) {
	t.Helper()
	tokens, err := services.NewTokenService(time.Hour, "claim-router", "claim-router-api", false, "", "", routerTestSecret)
	require.NoError(t, err)

	cfg := &config.ProductionConfig{
		Security: config.SecurityConfig{
			AllowedOrigins:  []string{"*"},
			GlobalRateLimit: 1000,
			RateLimitWindow: time.Minute,
		},
		Metrics: config.MetricsConfig{Enabled: false, Path: "/metrics"},
	}
	h := &recordingHandlers{calls: map[string]int{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := NewFiberRouter(h, h, h, middleware.NewAuthMiddleware(tokens), nil, cfg, logger)
	r.SetupRoutes()
	return r.GetApp(), h, tokens
}

func TestRoutes_EnforceScopes(t *testing.T) {
	app, h, tokens := newTestRouter(t)

	readOnly, err := tokens.Issue("viewer@example.com", []string{middleware.ScopeAssignmentsRead})
	require.NoError(t, err)
	writer, err := tokens.Issue("ops@example.com", []string{middleware.ScopeAssignmentsWrite})
	require.NoError(t, err)

	send := func(method, path, token string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	denied := []struct {
		method  string
		path    string
		handler string
	}{
		{http.MethodPost, "/api/v1/assignments/5/cancel", "cancel"},
		{http.MethodPost, "/api/v1/assignments/", "create"},
		{http.MethodDelete, "/api/v1/assignments/5/force", "force"},
		{http.MethodPost, "/api/v1/assignments/5/reassign", "reassign"},
		{http.MethodPost, "/api/v1/auto-assignments/process-manually", "process"},
		{http.MethodPost, "/api/v1/auto-assignments/service/stop", "stop"},
		{http.MethodPost, "/api/v1/companies/1/rules/", "rule-create"},
	}
	for _, tc := range denied {
		t.Run("read token denied "+tc.handler, func(t *testing.T) {
			assert.Equal(t, fiber.StatusForbidden, send(tc.method, tc.path, readOnly))
			assert.Zero(t, h.count(tc.handler))
		})
	}

	t.Run("read token allowed on reads", func(t *testing.T) {
		assert.Equal(t, fiber.StatusOK, send(http.MethodGet, "/api/v1/assignments/5", readOnly))
		assert.Equal(t, 1, h.count("get"))
	})

	t.Run("write token allowed on writes", func(t *testing.T) {
		assert.Equal(t, fiber.StatusOK, send(http.MethodPost, "/api/v1/assignments/5/cancel", writer))
		assert.Equal(t, 1, h.count("cancel"))
	})

	t.Run("write token cannot control ingestion", func(t *testing.T) {
		assert.Equal(t, fiber.StatusForbidden, send(http.MethodPost, "/api/v1/auto-assignments/service/stop", writer))
		assert.Zero(t, h.count("stop"))
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/assignments/5", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}
