package testing

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// GetTestRedisURL returns the Redis used by tests; database 15 keeps test keys away from local data
func GetTestRedisURL() string {
	return getEnv("TEST_REDIS_URL", "redis://localhost:6379/15")
}

// NewTestRedisClient connects to the test Redis, or returns an error when it does not answer
func NewTestRedisClient() (*redis.Client, error) {
	opt, err := redis.ParseURL(GetTestRedisURL())
	if err != nil {
		return nil, err
	}
	rc := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

// TestWithRedis runs the test function against the test Redis and deletes the given keys afterwards.
// The test is skipped when no Redis server is reachable.
func TestWithRedis(t *testing.T, testFunc func(rc *redis.Client), keys ...string) {
	t.Helper()

	rc, err := NewTestRedisClient()
	if err != nil {
		t.Skipf("Redis is not reachable (%v); set TEST_REDIS_URL to run Redis tests", err)
	}
	defer rc.Close()

	cleanup := func() {
		if len(keys) > 0 {
			_ = rc.Del(context.Background(), keys...).Err()
		}
	}
	cleanup()
	defer cleanup()

	testFunc(rc)
}
