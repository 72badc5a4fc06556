// Package ingestion consumes claim messages from the queue and feeds them to the routing pipeline
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/amirphl/claim-router/app/queue"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/amirphl/claim-router/repository"
	"github.com/amirphl/claim-router/utils"
)

// Dead-letter reason kinds that do not come from the pipeline
const (
	reasonMalformed     = "malformed_payload"
	reasonMaxDeliveries = "max_deliveries"
	reasonPanic         = "panic"
)

// Options configures a Consumer
type Options struct {
	Prefetch       int
	MaxDeliveries  int64
	HandlerTimeout time.Duration
	// ReclaimEvery is how often pending messages of dead consumers are taken over
	ReclaimEvery time.Duration
}

// Consumer pulls claims from a ClaimQueue with at most Prefetch messages in flight.
// A message is acknowledged only after its assignment is committed.
type Consumer struct {
	queue     queue.ClaimQueue
	pipeline  businessflow.IngestionPipeline
	auditRepo repository.AuditLogRepository
	opts      Options
	logger    *slog.Logger

	inflight sync.WaitGroup
}

// NewConsumer creates a consumer
func NewConsumer(q queue.ClaimQueue, pipeline businessflow.IngestionPipeline, auditRepo repository.AuditLogRepository, opts Options, logger *slog.Logger) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = 5
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = utils.DefaultRequestTimeout
	}
	if opts.ReclaimEvery <= 0 {
		opts.ReclaimEvery = time.Minute
	}
	return &Consumer{
		queue:     q,
		pipeline:  pipeline,
		auditRepo: auditRepo,
		opts:      opts,
		logger:    logger.With("component", "ingestion_consumer"),
	}
}

func (c *Consumer) Connect(ctx context.Context) error {
	return c.queue.Connect(ctx)
}

func (c *Consumer) Ping(ctx context.Context) error {
	return c.queue.Ping(ctx)
}

func (c *Consumer) Close() error {
	return c.queue.Close()
}

// Run consumes until ctx is cancelled, then waits for in-flight messages.
// A queue failure ends the run with an error wrapping ErrQueueUnavailable.
func (c *Consumer) Run(ctx context.Context) error {
	sem := make(chan struct{}, c.opts.Prefetch)
	defer c.inflight.Wait()

	var lastReclaim time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		free := cap(sem) - len(sem) + 1

		var (
			batch []queue.Delivery
			err   error
		)
		if time.Since(lastReclaim) >= c.opts.ReclaimEvery {
			lastReclaim = time.Now()
			batch, err = c.queue.Reclaim(ctx, free)
			if err != nil {
				queueErrorsTotal.WithLabelValues("reclaim").Inc()
			} else if len(batch) > 0 {
				c.logger.Info("Reclaimed idle claim messages", "count", len(batch))
			}
		}
		if err == nil && len(batch) == 0 {
			batch, err = c.queue.Fetch(ctx, free)
			if err != nil {
				queueErrorsTotal.WithLabelValues("fetch").Inc()
			}
		}
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Claim queue read failed", "error", err)
			return fmt.Errorf("%w: %w", businessflow.ErrQueueUnavailable, err)
		}
		if len(batch) == 0 {
			<-sem
			continue
		}

		for i, d := range batch {
			if i > 0 {
				sem <- struct{}{}
			}
			c.inflight.Add(1)
			claimsInFlight.Inc()
			go func(d queue.Delivery) {
				defer func() {
					claimsInFlight.Dec()
					c.inflight.Done()
					<-sem
				}()
				c.handle(ctx, d)
			}(d)
		}
	}
}

// handle processes one delivery. It never returns an error: every outcome
// ends in an ack, a dead letter, or a deliberate redelivery.
func (c *Consumer) handle(ctx context.Context, d queue.Delivery) {
	start := time.Now()
	logger := c.logger.With("message_id", d.ID, "attempt", d.Attempt)

	// in-flight work survives Stop so it can be drained
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.HandlerTimeout)
	defer cancel()
	hctx = context.WithValue(hctx, utils.RequestIDKey, d.ID)

	disposition := businessflow.DispositionRetry
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while processing claim", "panic", r, "stack", string(debug.Stack()))
			disposition = businessflow.DispositionRetry
			if d.Attempt >= c.opts.MaxDeliveries {
				c.deadLetter(hctx, logger, d, reasonPanic, fmt.Sprintf("panic: %v", r))
				disposition = businessflow.DispositionDeadLetter
			}
		}
		claimProcessingDuration.WithLabelValues(disposition.String()).Observe(time.Since(start).Seconds())
	}()

	if d.Attempt > c.opts.MaxDeliveries {
		c.deadLetter(hctx, logger, d, reasonMaxDeliveries, fmt.Sprintf("delivered %d times", d.Attempt))
		disposition = businessflow.DispositionDeadLetter
		return
	}

	var claim models.Claim
	if err := json.Unmarshal(d.Payload, &claim); err != nil {
		c.deadLetter(hctx, logger, d, reasonMalformed, err.Error())
		disposition = businessflow.DispositionDeadLetter
		return
	}
	logger = logger.With("claim_id", claim.ClaimID, "document_number", claim.DocumentNumber)

	result, err := c.pipeline.Process(hctx, &claim, businessflow.SystemMetadata(d.ID))
	disposition = businessflow.ClassifyIngestionError(err)

	switch disposition {
	case businessflow.DispositionAck:
		if err := c.queue.Ack(hctx, d.ID); err != nil {
			queueErrorsTotal.WithLabelValues("ack").Inc()
			logger.Error("Failed to acknowledge claim message", "error", err)
		}
		if result != nil {
			claimsProcessedTotal.WithLabelValues(string(result.Outcome)).Inc()
		}
	case businessflow.DispositionDeadLetter:
		c.deadLetter(hctx, logger, d, businessflow.ErrorKind(err), err.Error())
	default:
		claimsRetriedTotal.Inc()
		claimsProcessedTotal.WithLabelValues(businessflow.ErrorKind(err)).Inc()
		if d.Attempt >= c.opts.MaxDeliveries {
			c.deadLetter(hctx, logger, d, reasonMaxDeliveries, err.Error())
			disposition = businessflow.DispositionDeadLetter
			return
		}
		logger.Warn("Claim processing failed, leaving message for redelivery", "error", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, logger *slog.Logger, d queue.Delivery, reason, detail string) {
	claimsDeadLetteredTotal.WithLabelValues(reason).Inc()
	logger.Warn("Moving claim message to dead-letter stream", "reason", reason, "detail", detail)

	if err := c.queue.DeadLetter(ctx, d, reason+": "+detail); err != nil {
		queueErrorsTotal.WithLabelValues("dead_letter").Inc()
		logger.Error("Failed to dead-letter claim message", "error", err)
	}

	metadata, _ := json.Marshal(map[string]any{
		"message_id": d.ID,
		"attempt":    d.Attempt,
		"reason":     reason,
		"payload":    string(d.Payload),
	})
	entry := &models.AuditLog{
		Action:       models.AuditActionClaimDeadLettered,
		Actor:        utils.SystemActor,
		Description:  utils.ToPtr("Claim message dead-lettered"),
		RequestID:    utils.ToPtr(d.ID),
		Metadata:     metadata,
		Success:      utils.ToPtr(false),
		ErrorMessage: utils.ToPtr(detail),
		CreatedAt:    utils.UTCNow(),
	}
	if err := c.auditRepo.Save(ctx, entry); err != nil {
		logger.Error("Failed to persist dead-letter audit log", "error", err)
	}
}
