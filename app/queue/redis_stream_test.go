package queue

import (
	"context"
	"testing"
	"time"

	testingutil "github.com/amirphl/claim-router/testing"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDelivery(t *testing.T) {
	d := toDelivery(redis.XMessage{ID: "1-0", Values: map[string]any{PayloadField: `{"ClaimId":"CL-1"}`}}, 3)
	assert.Equal(t, "1-0", d.ID)
	assert.Equal(t, int64(3), d.Attempt)
	assert.JSONEq(t, `{"ClaimId":"CL-1"}`, string(d.Payload))

	empty := toDelivery(redis.XMessage{ID: "2-0", Values: map[string]any{"other": "x"}}, 1)
	assert.Empty(t, empty.Payload)
}

func TestNewRedisStreamQueue_Defaults(t *testing.T) {
	q := NewRedisStreamQueue(nil, Options{Stream: "claims", Group: "g"})
	assert.Equal(t, 5*time.Second, q.opts.BlockTimeout)
	assert.Equal(t, time.Minute, q.opts.ClaimIdle)
	assert.Equal(t, "0-0", q.reclaimCursor)
}

func newTestQueue(rc redis.UniversalClient, name string) *RedisStreamQueue {
	return NewRedisStreamQueue(rc, Options{
		Stream:           name,
		Group:            "claim-router-test",
		Consumer:         "consumer-a",
		DeadLetterStream: name + ":dead",
		BlockTimeout:     50 * time.Millisecond,
		ClaimIdle:        200 * time.Millisecond,
	})
}

func TestRedisStreamQueue(t *testing.T) {
	stream := "claim-router:test:claims:" + uuid.NewString()

	testingutil.TestWithRedis(t, func(rc *redis.Client) {
		ctx := context.Background()
		q := newTestQueue(rc, stream)

		t.Run("ConnectIsIdempotent", func(t *testing.T) {
			require.NoError(t, q.Connect(ctx))
			// The second call hits BUSYGROUP
			require.NoError(t, q.Connect(ctx))
			require.NoError(t, q.Ping(ctx))
		})

		t.Run("FetchAndAck", func(t *testing.T) {
			id, err := q.Publish(ctx, []byte(`{"ClaimId":"CL-1"}`))
			require.NoError(t, err)

			got, err := q.Fetch(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, id, got[0].ID)
			assert.Equal(t, int64(1), got[0].Attempt)
			assert.JSONEq(t, `{"ClaimId":"CL-1"}`, string(got[0].Payload))

			require.NoError(t, q.Ack(ctx, id))
			pending, err := rc.XPending(ctx, stream, "claim-router-test").Result()
			require.NoError(t, err)
			assert.Zero(t, pending.Count)
		})

		t.Run("FetchTimesOutEmpty", func(t *testing.T) {
			got, err := q.Fetch(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})

		t.Run("ReclaimCountsDeliveries", func(t *testing.T) {
			id, err := q.Publish(ctx, []byte(`{"ClaimId":"CL-2"}`))
			require.NoError(t, err)
			_, err = q.Fetch(ctx, 10)
			require.NoError(t, err)

			other := newTestQueue(rc, stream)
			other.opts.Consumer = "consumer-b"

			// Not idle long enough yet
			got, err := other.Reclaim(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, got)

			time.Sleep(300 * time.Millisecond)
			got, err = other.Reclaim(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, id, got[0].ID)
			assert.Equal(t, int64(2), got[0].Attempt)

			require.NoError(t, other.Close())
			time.Sleep(300 * time.Millisecond)
			got, err = other.Reclaim(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, int64(3), got[0].Attempt)

			require.NoError(t, other.Ack(ctx, id))
		})

		t.Run("DeadLetterCopiesAndAcks", func(t *testing.T) {
			_, err := q.Publish(ctx, []byte(`not json`))
			require.NoError(t, err)
			got, err := q.Fetch(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)

			require.NoError(t, q.DeadLetter(ctx, got[0], "claim is malformed"))

			dead, err := rc.XRange(ctx, stream+":dead", "-", "+").Result()
			require.NoError(t, err)
			require.Len(t, dead, 1)
			assert.Equal(t, "not json", dead[0].Values[PayloadField])
			assert.Equal(t, "claim is malformed", dead[0].Values[ReasonField])
			assert.Equal(t, got[0].ID, dead[0].Values[SourceIDField])
			assert.Equal(t, "1", dead[0].Values[AttemptField])

			pending, err := rc.XPending(ctx, stream, "claim-router-test").Result()
			require.NoError(t, err)
			assert.Zero(t, pending.Count)
		})
	}, stream, stream+":dead")
}
