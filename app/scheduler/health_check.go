// Package scheduler runs periodic maintenance jobs
package scheduler

import (
	"context"
	"log/slog"

	"github.com/amirphl/claim-router/app/bootstrap"
	"github.com/robfig/cron/v3"
)

// IngestionSupervisor is the part of the supervisor the health check drives
type IngestionSupervisor interface {
	Start(ctx context.Context, actor string) error
	Status(ctx context.Context) bootstrap.Status
}

// HealthCheck periodically verifies the ingestion service and restarts it when it stopped on its own
type HealthCheck struct {
	supervisor  IngestionSupervisor
	schedule    string
	autoRestart bool
	logger      *slog.Logger
}

const healthCheckActor = "scheduler"

// NewHealthCheck creates a health check job; schedule uses cron syntax or @every descriptors
func NewHealthCheck(supervisor IngestionSupervisor, schedule string, autoRestart bool, logger *slog.Logger) *HealthCheck {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &HealthCheck{
		supervisor:  supervisor,
		schedule:    schedule,
		autoRestart: autoRestart,
		logger:      logger.With("component", "health_check"),
	}
}

// Start schedules the job and returns a stop function that waits for a running check
func (h *HealthCheck) Start(ctx context.Context) (func(), error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger)))
	if _, err := c.AddFunc(h.schedule, func() { h.Check(ctx) }); err != nil {
		return nil, err
	}
	c.Start()
	h.logger.Info("Health check scheduled", "schedule", h.schedule, "auto_restart", h.autoRestart)

	return func() {
		<-c.Stop().Done()
	}, nil
}

// Check runs one health check
func (h *HealthCheck) Check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	st := h.supervisor.Status(ctx)

	switch st.State {
	case bootstrap.StateRunning:
		if !st.QueueConnected {
			h.logger.Warn("Ingestion service is running but the queue is unreachable")
		}
	case bootstrap.StateStopped:
		if st.StoppedByOperator {
			h.logger.Debug("Ingestion service was stopped by an operator, leaving it stopped")
			return
		}
		if !h.autoRestart {
			h.logger.Debug("Ingestion service is stopped, auto restart disabled")
			return
		}
		h.logger.Info("Restarting stopped ingestion service", "last_error", st.LastError)
		if err := h.supervisor.Start(ctx, healthCheckActor); err != nil {
			h.logger.Error("Ingestion service restart failed", "error", err)
		}
	}
}
