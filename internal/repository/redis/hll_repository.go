package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// addAndDeltaScript performs the whole check-then-add as one server-side
// step: PFADD reports whether the estimated cardinality grew, the register's
// TTL is refreshed, and the owner is (re)registered in the parity's active
// set with the same TTL.
var addAndDeltaScript = redis.NewScript(`
local added = redis.call('PFADD', KEYS[1], ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
return added
`)

// HLLRepository implements the approximate distinct-count delta primitive on
// Redis HyperLogLog registers.
type HLLRepository struct {
	client *redis.Client
}

// NewHLLRepository creates a new Redis HLL repository
func NewHLLRepository(client *redis.Client) interfaces.HLLCounter {
	return &HLLRepository{client: client}
}

// AddAndDelta adds element to the register at registerKey and returns 1 the
// first time that element is seen within the register's lifetime, 0 after.
func (r *HLLRepository) AddAndDelta(ctx context.Context, registerKey, activeSetKey, element, ownerID string, ttl time.Duration) (int64, error) {
	delta, err := addAndDeltaScript.Run(
		ctx, r.client,
		[]string{registerKey, activeSetKey},
		element, ttl.Milliseconds(), ownerID,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to update register %s: %w", registerKey, err)
	}
	return delta, nil
}
