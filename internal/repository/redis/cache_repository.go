package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// CacheRepository implements the DistributedCache interface for Redis
type CacheRepository struct {
	client *redis.Client
}

// NewCacheRepository creates a new Redis cache repository
func NewCacheRepository(client *redis.Client) interfaces.DistributedCache {
	return &CacheRepository{client: client}
}

// Get retrieves a value from cache
func (r *CacheRepository) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", interfaces.ErrCacheMiss
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value in cache with expiration
func (r *CacheRepository) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	err := r.client.Set(ctx, key, value, expiration).Err()
	if err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes a value from cache
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	err := r.client.Del(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// SetAdd adds a member to a set
func (r *CacheRepository) SetAdd(ctx context.Context, key, member string) error {
	err := r.client.SAdd(ctx, key, member).Err()
	if err != nil {
		return fmt.Errorf("failed to add member to set %s: %w", key, err)
	}
	return nil
}

// SetContains checks whether member belongs to the set at key
func (r *CacheRepository) SetContains(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check membership in set %s: %w", key, err)
	}
	return ok, nil
}

// SequenceRepository implements the allocator's shared counter on a single
// Redis key. One INCRBY reserves a whole segment.
type SequenceRepository struct {
	client *redis.Client
	key    string
}

// NewSequenceRepository creates a sequence repository over the given counter key
func NewSequenceRepository(client *redis.Client, key string) *SequenceRepository {
	return &SequenceRepository{client: client, key: key}
}

// Next reserves step indices and returns the new counter value
func (r *SequenceRepository) Next(ctx context.Context, step int64) (int64, error) {
	val, err := r.client.IncrBy(ctx, r.key, step).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance counter %s: %w", r.key, err)
	}
	return val, nil
}
