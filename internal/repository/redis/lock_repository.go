package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

const (
	lockKeyPrefix   = "shortlink:lock:"
	rwWriteSuffix   = ":w"
	rwReadersSuffix = ":r"

	// lockTTL bounds how long a dead process can hold a lock.
	lockTTL = 30 * time.Second

	// lockRetryDelay is the spin interval for blocking acquires.
	lockRetryDelay = 50 * time.Millisecond
)

// unlockScript releases a plain lock only if the caller still owns it.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// readAcquireScript takes the read side unless a writer holds the key.
var readAcquireScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return 1
`)

// readReleaseScript drops one reader and cleans up the counter at zero.
var readReleaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
	redis.call('DEL', KEYS[1])
end
return n
`)

// writeAcquireScript takes the write side only when no writer and no readers
// are present.
var writeAcquireScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local readers = tonumber(redis.call('GET', KEYS[2]) or '0')
if readers > 0 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[1])
return 1
`)

// LockRepository implements per-key distributed locks on Redis. Plain locks
// are SET NX with an owner token; the read/write variant keeps a reader
// counter plus a writer key, both mutated only inside Lua scripts so each
// acquire is a single atomic server-side step.
type LockRepository struct {
	client *redis.Client
}

// NewLockRepository creates a new Redis lock repository
func NewLockRepository(client *redis.Client) interfaces.LockManager {
	return &LockRepository{client: client}
}

// Lock acquires the per-key mutex, blocking until it is held or ctx ends.
func (r *LockRepository) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := lockKeyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				unlockScript.Run(releaseCtx, r.client, []string{lockKey}, token)
			}, nil
		}
		if err := sleepCtx(ctx, lockRetryDelay); err != nil {
			return nil, err
		}
	}
}

// RLock acquires the read side of the per-key read/write lock.
func (r *LockRepository) RLock(ctx context.Context, key string) (func(), error) {
	writeKey := lockKeyPrefix + key + rwWriteSuffix
	readersKey := lockKeyPrefix + key + rwReadersSuffix

	for {
		ok, err := readAcquireScript.Run(ctx, r.client, []string{writeKey, readersKey}, lockTTL.Milliseconds()).Int()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire read lock %s: %w", key, err)
		}
		if ok == 1 {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				readReleaseScript.Run(releaseCtx, r.client, []string{readersKey})
			}, nil
		}
		if err := sleepCtx(ctx, lockRetryDelay); err != nil {
			return nil, err
		}
	}
}

// WLock acquires the write side of the per-key read/write lock.
func (r *LockRepository) WLock(ctx context.Context, key string) (func(), error) {
	writeKey := lockKeyPrefix + key + rwWriteSuffix
	readersKey := lockKeyPrefix + key + rwReadersSuffix
	token := uuid.NewString()

	for {
		ok, err := writeAcquireScript.Run(ctx, r.client, []string{writeKey, readersKey}, lockTTL.Milliseconds(), token).Int()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire write lock %s: %w", key, err)
		}
		if ok == 1 {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				unlockScript.Run(releaseCtx, r.client, []string{writeKey}, token)
			}, nil
		}
		if err := sleepCtx(ctx, lockRetryDelay); err != nil {
			return nil, err
		}
	}
}

// sleepCtx waits for the retry delay unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
