// Package bootstrap supervises the lifecycle of the claim ingestion service
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
)

// State of the supervised service
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Service is a long-running component with an external connection
type Service interface {
	Connect(ctx context.Context) error
	// Run blocks until ctx is cancelled or the service fails
	Run(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
}

// Status is a snapshot of the supervisor
type Status struct {
	State             State      `json:"state"`
	Attempts          int        `json:"attempts"`
	LastError         string     `json:"last_error,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	QueueConnected    bool       `json:"queue_connected"`
	StoppedByOperator bool       `json:"stopped_by_operator"` // set by Stop, cleared by Start
}

// Options configures the supervisor
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	// Wait sleeps between connection attempts; it returns early with ctx.Err()
	Wait func(ctx context.Context, d time.Duration) error
}

// Supervisor starts the ingestion service with bounded retries and stops it on demand
type Supervisor struct {
	service   Service
	auditRepo repository.AuditLogRepository
	opts      Options
	logger    *slog.Logger

	mu        sync.Mutex
	state     State
	attempts  int
	lastErr   error
	startedAt *time.Time
	manual    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSupervisor creates a stopped supervisor
func NewSupervisor(service Service, auditRepo repository.AuditLogRepository, opts Options, logger *slog.Logger) *Supervisor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = utils.DefaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = utils.DefaultRetryDelay
	}
	if opts.Wait == nil {
		opts.Wait = sleepCtx
	}
	return &Supervisor{
		service:   service,
		auditRepo: auditRepo,
		opts:      opts,
		logger:    logger.With("component", "ingestion_supervisor"),
		state:     StateStopped,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start connects the service, retrying up to MaxRetries times, then runs it in the background.
// Starting a running service is a no-op.
func (s *Supervisor) Start(ctx context.Context, actor string) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		s.mu.Unlock()
		return businessflow.NewBusinessError("SUPERVISOR_BUSY", fmt.Sprintf("ingestion service is %s", s.state), businessflow.ErrSupervisorBusy)
	}
	s.state = StateStarting
	s.manual = false
	s.attempts = 0
	s.lastErr = nil
	s.mu.Unlock()

	var err error
	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		if err = s.service.Connect(ctx); err == nil {
			break
		}

		s.logger.Warn("Ingestion service connection failed", "attempt", attempt, "max_retries", s.opts.MaxRetries, "error", err)
		s.audit(ctx, models.AuditActionBootstrapFailed, actor, fmt.Sprintf("Connection attempt %d of %d failed", attempt, s.opts.MaxRetries), attempt, err)

		if attempt == s.opts.MaxRetries {
			break
		}
		if werr := s.opts.Wait(ctx, s.opts.RetryDelay); werr != nil {
			err = werr
			break
		}
	}

	if err != nil {
		_ = s.service.Close()
		s.mu.Lock()
		s.state = StateStopped
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("Ingestion service did not start", "attempts", s.attempts, "error", err)
		return businessflow.NewBusinessError("BOOTSTRAP_FAILED", "ingestion service could not connect to the queue", fmt.Errorf("%w: %w", businessflow.ErrQueueUnavailable, err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateRunning
	s.cancel = cancel
	s.done = done
	s.startedAt = utils.UTCNowPtr()
	attempts := s.attempts
	s.mu.Unlock()

	s.logger.Info("Ingestion service started", "attempts", attempts)
	s.audit(ctx, models.AuditActionBootstrapStarted, actor, "Ingestion service started", attempts, nil)

	go s.run(runCtx, done)
	return nil
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Ingestion service panicked", "panic", r, "stack", string(debug.Stack()))
			runErr = fmt.Errorf("ingestion service panicked: %v", r)
		}
		if err := s.service.Close(); err != nil {
			s.logger.Error("Failed to close ingestion service", "error", err)
		}

		s.mu.Lock()
		s.state = StateStopped
		s.cancel = nil
		s.done = nil
		s.startedAt = nil
		if runErr != nil {
			s.lastErr = runErr
		}
		s.mu.Unlock()

		if runErr != nil {
			s.audit(context.Background(), models.AuditActionBootstrapStopped, utils.SystemActor, "Ingestion service stopped on failure", 0, runErr)
		}
		close(done)
	}()

	runErr = s.service.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		s.logger.Error("Ingestion service stopped unexpectedly", "error", runErr)
	} else {
		runErr = nil
	}
}

// Stop cancels the running service and waits for in-flight work to drain.
// The service stays stopped until the next explicit Start.
// Stopping a stopped service is a no-op.
func (s *Supervisor) Stop(ctx context.Context, actor string) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped:
		s.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		s.mu.Unlock()
		return businessflow.NewBusinessError("SUPERVISOR_BUSY", fmt.Sprintf("ingestion service is %s", s.state), businessflow.ErrSupervisorBusy)
	}
	s.state = StateStopping
	s.manual = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for ingestion service to stop: %w", ctx.Err())
	}

	s.logger.Info("Ingestion service stopped", "actor", actor)
	s.audit(ctx, models.AuditActionBootstrapStopped, actor, "Ingestion service stopped", 0, nil)
	return nil
}

// Status reports the state and checks queue connectivity while running
func (s *Supervisor) Status(ctx context.Context) Status {
	s.mu.Lock()
	st := Status{
		State:             s.state,
		Attempts:          s.attempts,
		StartedAt:         s.startedAt,
		StoppedByOperator: s.manual,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	if st.State == StateRunning {
		st.QueueConnected = s.service.Ping(ctx) == nil
	}
	return st
}

// State returns the current state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) audit(ctx context.Context, action, actor, description string, attempt int, cause error) {
	if s.auditRepo == nil {
		return
	}
	if actor == "" {
		actor = utils.SystemActor
	}
	metadata, _ := json.Marshal(map[string]any{
		"attempt":     attempt,
		"max_retries": s.opts.MaxRetries,
	})
	entry := &models.AuditLog{
		Action:      action,
		Actor:       actor,
		Description: utils.ToPtr(description),
		Metadata:    metadata,
		Success:     utils.ToPtr(cause == nil),
		CreatedAt:   utils.UTCNow(),
	}
	if requestID, ok := ctx.Value(utils.RequestIDKey).(string); ok && requestID != "" {
		entry.RequestID = utils.ToPtr(requestID)
	}
	if cause != nil {
		entry.ErrorMessage = utils.ToPtr(cause.Error())
	}
	if err := s.auditRepo.Save(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Failed to persist bootstrap audit log", "action", action, "error", err)
	}
}
