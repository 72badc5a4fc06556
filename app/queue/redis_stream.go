// Package queue implements the claim message queue on Redis Streams consumer groups
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream field names
const (
	PayloadField  = "payload"
	ReasonField   = "reason"
	SourceIDField = "source_id"
	AttemptField  = "deliveries"
	FailedAtField = "failed_at"
)

// Delivery is one claim message handed to the consumer
type Delivery struct {
	ID      string
	Payload []byte
	// Attempt is the number of times the message has been delivered, this one included
	Attempt int64
}

// ClaimQueue is an at-least-once queue of raw claim payloads
type ClaimQueue interface {
	// Connect verifies connectivity and creates the consumer group if missing
	Connect(ctx context.Context) error
	// Fetch returns up to max new messages, blocking for at most the configured block timeout
	Fetch(ctx context.Context, max int) ([]Delivery, error)
	// Reclaim takes over up to max messages left unacknowledged longer than the claim idle time
	Reclaim(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, id string) error
	// DeadLetter copies the message to the dead-letter stream and acknowledges it
	DeadLetter(ctx context.Context, d Delivery, reason string) error
	Publish(ctx context.Context, payload []byte) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures a RedisStreamQueue
type Options struct {
	Stream           string
	Group            string
	Consumer         string
	DeadLetterStream string
	BlockTimeout     time.Duration
	ClaimIdle        time.Duration
}

// RedisStreamQueue implements ClaimQueue with XREADGROUP / XACK / XAUTOCLAIM
type RedisStreamQueue struct {
	rc   redis.UniversalClient
	opts Options

	reclaimCursor string
}

// NewRedisStreamQueue creates a queue bound to one stream and consumer group
func NewRedisStreamQueue(rc redis.UniversalClient, opts Options) *RedisStreamQueue {
	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = 5 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = time.Minute
	}
	return &RedisStreamQueue{rc: rc, opts: opts, reclaimCursor: "0-0"}
}

func (q *RedisStreamQueue) Connect(ctx context.Context) error {
	if err := q.rc.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	err := q.rc.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", q.opts.Group, q.opts.Stream, err)
	}
	return nil
}

func (q *RedisStreamQueue) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	streams, err := q.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    int64(max),
		Block:    q.opts.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var out []Delivery
	for _, s := range streams {
		for _, msg := range s.Messages {
			out = append(out, toDelivery(msg, 1))
		}
	}
	return out, nil
}

func (q *RedisStreamQueue) Reclaim(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		return nil, nil
	}
	msgs, next, err := q.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: q.opts.Consumer,
		MinIdle:  q.opts.ClaimIdle,
		Start:    q.reclaimCursor,
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	q.reclaimCursor = next
	if q.reclaimCursor == "" {
		q.reclaimCursor = "0-0"
	}

	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		attempt, err := q.deliveryCount(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, toDelivery(msg, attempt))
	}
	return out, nil
}

// deliveryCount reads the pending entry's delivery counter, already bumped by XAUTOCLAIM
func (q *RedisStreamQueue) deliveryCount(ctx context.Context, id string) (int64, error) {
	pending, err := q.rc.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	if len(pending) == 0 {
		return 1, nil
	}
	return pending[0].RetryCount, nil
}

func (q *RedisStreamQueue) Ack(ctx context.Context, id string) error {
	if err := q.rc.XAck(ctx, q.opts.Stream, q.opts.Group, id).Err(); err != nil {
		return fmt.Errorf("xack %s failed: %w", id, err)
	}
	return nil
}

func (q *RedisStreamQueue) DeadLetter(ctx context.Context, d Delivery, reason string) error {
	_, err := q.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.opts.DeadLetterStream,
			Values: map[string]any{
				PayloadField:  string(d.Payload),
				ReasonField:   reason,
				SourceIDField: d.ID,
				AttemptField:  strconv.FormatInt(d.Attempt, 10),
				FailedAtField: time.Now().UTC().Format(time.RFC3339),
			},
		})
		pipe.XAck(ctx, q.opts.Stream, q.opts.Group, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter of %s failed: %w", d.ID, err)
	}
	return nil
}

func (q *RedisStreamQueue) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := q.rc.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		Values: map[string]any{PayloadField: string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

func (q *RedisStreamQueue) Ping(ctx context.Context) error {
	return q.rc.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared and owned by the caller
func (q *RedisStreamQueue) Close() error {
	q.reclaimCursor = "0-0"
	return nil
}

func toDelivery(msg redis.XMessage, attempt int64) Delivery {
	d := Delivery{ID: msg.ID, Attempt: attempt}
	switch v := msg.Values[PayloadField].(type) {
	case string:
		d.Payload = []byte(v)
	case []byte:
		d.Payload = v
	}
	return d
}
