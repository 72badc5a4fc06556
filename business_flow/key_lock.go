package businessflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/claim-router/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyLocker serializes work on one natural key
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisKeyLocker is a SETNX lock shared by every consumer replica
type RedisKeyLocker struct {
	rc    redis.Cmdable
	ttl   time.Duration
	retry time.Duration
}

// NewRedisKeyLocker creates a distributed key locker
func NewRedisKeyLocker(rc redis.Cmdable, ttl time.Duration) *RedisKeyLocker {
	if ttl <= 0 {
		ttl = utils.DefaultLockTTL
	}
	return &RedisKeyLocker{rc: rc, ttl: ttl, retry: 50 * time.Millisecond}
}

// Lock blocks until the key is acquired or ctx ends
func (l *RedisKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := utils.AssignmentLockPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rc.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, NewBusinessError("LOCK_FAILED", "Failed to acquire natural key lock", fmt.Errorf("%w: %w", ErrLockUnavailable, err))
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), l.rc, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, NewBusinessError("LOCK_TIMEOUT", "Timed out waiting for natural key lock", ErrLockUnavailable)
		case <-ticker.C:
		}
	}
}

// LocalKeyLocker is an in-process keyed mutex for single-replica deployments
type LocalKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalKeyLocker creates an in-process key locker
func NewLocalKeyLocker() *LocalKeyLocker {
	return &LocalKeyLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until the key is acquired or ctx ends
func (l *LocalKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl, false)
		return nil, NewBusinessError("LOCK_TIMEOUT", "Timed out waiting for natural key lock", ErrLockUnavailable)
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(key, kl, true) }) }, nil
}

func (l *LocalKeyLocker) release(key string, kl *keyLock, held bool) {
	if held {
		<-kl.ch
	}
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}
