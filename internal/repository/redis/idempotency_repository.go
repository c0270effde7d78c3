package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

const (
	idempotencyKeyPrefix = "shortlink:stats:mid:"

	claimedValue = "0"
	doneValue    = "1"
)

// IdempotencyRepository implements the message idempotency guard on Redis.
// A record moves unclaimed -> in-progress -> done; the TTL bounds the
// in-flight window if a consumer dies without releasing.
type IdempotencyRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyRepository creates a new Redis idempotency repository
func NewIdempotencyRepository(client *redis.Client, ttl time.Duration) interfaces.IdempotencyStore {
	return &IdempotencyRepository{client: client, ttl: ttl}
}

// Claim atomically creates the record if absent; true means claimed now.
func (r *IdempotencyRepository) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+id, claimedValue, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim message %s: %w", id, err)
	}
	return ok, nil
}

// IsDone reports whether the message fully committed earlier.
func (r *IdempotencyRepository) IsDone(ctx context.Context, id string) (bool, error) {
	val, err := r.client.Get(ctx, idempotencyKeyPrefix+id).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to read message state %s: %w", id, err)
	}
	return val == doneValue, nil
}

// MarkDone marks the record as fully committed. The TTL restarts so the done
// marker outlives any in-flight redelivery of the same message.
func (r *IdempotencyRepository) MarkDone(ctx context.Context, id string) error {
	err := r.client.Set(ctx, idempotencyKeyPrefix+id, doneValue, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to mark message %s done: %w", id, err)
	}
	return nil
}

// Release drops an in-progress claim so redelivery can retry.
func (r *IdempotencyRepository) Release(ctx context.Context, id string) error {
	err := r.client.Del(ctx, idempotencyKeyPrefix+id).Err()
	if err != nil {
		return fmt.Errorf("failed to release message %s: %w", id, err)
	}
	return nil
}
