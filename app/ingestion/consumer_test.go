package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/claim-router/app/queue"
	businessflow "github.com/amirphl/claim-router/business_flow"
	"github.com/amirphl/claim-router/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu         sync.Mutex
	incoming   chan queue.Delivery
	acked      []string
	deadLetter map[string]string
	fetchErr   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{incoming: make(chan queue.Delivery, 16), deadLetter: map[string]string{}}
}

func (q *fakeQueue) Connect(context.Context) error { return nil }
func (q *fakeQueue) Ping(context.Context) error    { return nil }
func (q *fakeQueue) Close() error                  { return nil }

func (q *fakeQueue) Fetch(ctx context.Context, max int) ([]queue.Delivery, error) {
	q.mu.Lock()
	err := q.fetchErr
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case d := <-q.incoming:
		return []queue.Delivery{d}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (q *fakeQueue) Reclaim(context.Context, int) ([]queue.Delivery, error) { return nil, nil }

func (q *fakeQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) DeadLetter(_ context.Context, d queue.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLetter[d.ID] = reason
	return nil
}

func (q *fakeQueue) Publish(_ context.Context, payload []byte) (string, error) {
	return "", nil
}

func (q *fakeQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type fakePipeline struct {
	mu    sync.Mutex
	calls int
	fn    func(claim *models.Claim) (*businessflow.IngestionResult, error)
}

func (p *fakePipeline) Process(_ context.Context, claim *models.Claim, _ *businessflow.ClientMetadata) (*businessflow.IngestionResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(claim)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *fakeAudit) Save(_ context.Context, entry *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) ByFilter(context.Context, models.AuditLogFilter, int, int) ([]*models.AuditLog, error) {
	return nil, nil
}

func assigned(*models.Claim) (*businessflow.IngestionResult, error) {
	return &businessflow.IngestionResult{Outcome: businessflow.OutcomeAssigned}, nil
}

func newTestConsumer(fn func(*models.Claim) (*businessflow.IngestionResult, error)) (*Consumer, *fakeQueue, *fakePipeline, *fakeAudit) {
	q := newFakeQueue()
	p := &fakePipeline{fn: fn}
	a := &fakeAudit{}
	c := NewConsumer(q, p, a, Options{Prefetch: 2, MaxDeliveries: 3, HandlerTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, q, p, a
}

func claimDelivery(t *testing.T, id string, attempt int64) queue.Delivery {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"ClaimId":        "CL-" + id,
		"DocumentNumber": "FV-" + id,
	})
	require.NoError(t, err)
	return queue.Delivery{ID: id, Payload: payload, Attempt: attempt}
}

func TestConsumer_AcksProcessedClaim(t *testing.T) {
	c, q, p, a := newTestConsumer(assigned)

	c.handle(context.Background(), claimDelivery(t, "1-0", 1))

	assert.Equal(t, []string{"1-0"}, q.ackedIDs())
	assert.Empty(t, q.deadLetter)
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, a.entries)
}

func TestConsumer_AcksNoRoute(t *testing.T) {
	c, q, _, _ := newTestConsumer(func(*models.Claim) (*businessflow.IngestionResult, error) {
		return &businessflow.IngestionResult{Outcome: businessflow.OutcomeNoRoute}, businessflow.NewBusinessError("NO_ROUTE", "no rule matched", businessflow.ErrNoRoute)
	})

	c.handle(context.Background(), claimDelivery(t, "1-0", 1))

	assert.Equal(t, []string{"1-0"}, q.ackedIDs())
	assert.Empty(t, q.deadLetter)
}

func TestConsumer_DeadLettersMalformedPayload(t *testing.T) {
	c, q, p, a := newTestConsumer(assigned)

	c.handle(context.Background(), queue.Delivery{ID: "2-0", Payload: []byte("{not json"), Attempt: 1})

	assert.Empty(t, q.ackedIDs())
	require.Contains(t, q.deadLetter, "2-0")
	assert.Contains(t, q.deadLetter["2-0"], reasonMalformed)
	assert.Equal(t, 0, p.calls)
	require.Len(t, a.entries, 1)
	assert.Equal(t, models.AuditActionClaimDeadLettered, a.entries[0].Action)
	assert.False(t, *a.entries[0].Success)
}

func TestConsumer_DeadLettersValidationFailure(t *testing.T) {
	c, q, _, _ := newTestConsumer(func(*models.Claim) (*businessflow.IngestionResult, error) {
		return nil, businessflow.NewBusinessError("CLAIM_INVALID", "claim id is required", businessflow.ErrClaimMalformed)
	})

	c.handle(context.Background(), claimDelivery(t, "3-0", 1))

	assert.Empty(t, q.ackedIDs())
	require.Contains(t, q.deadLetter, "3-0")
	assert.Contains(t, q.deadLetter["3-0"], "validation")
}

func TestConsumer_LeavesTransientFailureForRedelivery(t *testing.T) {
	c, q, _, a := newTestConsumer(func(*models.Claim) (*businessflow.IngestionResult, error) {
		return nil, errors.New("connection reset")
	})

	c.handle(context.Background(), claimDelivery(t, "4-0", 1))

	assert.Empty(t, q.ackedIDs())
	assert.Empty(t, q.deadLetter)
	assert.Empty(t, a.entries)
}

func TestConsumer_DeadLettersAfterMaxDeliveries(t *testing.T) {
	c, q, p, _ := newTestConsumer(func(*models.Claim) (*businessflow.IngestionResult, error) {
		return nil, errors.New("connection reset")
	})

	// last allowed attempt still fails
	c.handle(context.Background(), claimDelivery(t, "5-0", 3))
	require.Contains(t, q.deadLetter, "5-0")
	assert.Contains(t, q.deadLetter["5-0"], reasonMaxDeliveries)
	assert.Equal(t, 1, p.calls)

	// over the limit is never processed
	c.handle(context.Background(), claimDelivery(t, "6-0", 4))
	require.Contains(t, q.deadLetter, "6-0")
	assert.Equal(t, 1, p.calls)
}

func TestConsumer_RecoversFromPanic(t *testing.T) {
	c, q, _, _ := newTestConsumer(func(*models.Claim) (*businessflow.IngestionResult, error) {
		panic("boom")
	})

	assert.NotPanics(t, func() { c.handle(context.Background(), claimDelivery(t, "7-0", 1)) })
	assert.Empty(t, q.ackedIDs())
	assert.Empty(t, q.deadLetter)
}

func TestConsumer_RunDrainsInFlightOnCancel(t *testing.T) {
	release := make(chan struct{})
	c, q, _, _ := newTestConsumer(func(*models.Claim) (*businessflow.IngestionResult, error) {
		<-release
		return &businessflow.IngestionResult{Outcome: businessflow.OutcomeAssigned}, nil
	})

	q.incoming <- claimDelivery(t, "8-0", 1)
	q.incoming <- claimDelivery(t, "8-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(q.incoming) == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned before in-flight claims finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after drain")
	}
	assert.ElementsMatch(t, []string{"8-0", "8-1"}, q.ackedIDs())
}

func TestConsumer_RunStopsOnQueueFailure(t *testing.T) {
	c, q, _, _ := newTestConsumer(assigned)
	q.fetchErr = errors.New("dial tcp: connection refused")

	err := c.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, businessflow.ErrQueueUnavailable)
	assert.True(t, businessflow.IsTransient(err))
}
