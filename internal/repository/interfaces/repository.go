package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/Merryfling/shortlink/internal/models"
)

// ErrCacheMiss signals that a key is absent from the distributed cache, as
// opposed to the cache being unreachable.
var ErrCacheMiss = errors.New("cache miss")

// LinkRepository defines the persistence operations for link records
type LinkRepository interface {
	// Create inserts a new link record
	Create(ctx context.Context, link *models.Link) error

	// GetByShortCode retrieves a link by its short code
	GetByShortCode(ctx context.Context, shortURL string) (*models.Link, error)

	// UpdateGroup reassigns a link to another group
	UpdateGroup(ctx context.Context, shortURL, gid string) error

	// Delete soft deletes a link
	Delete(ctx context.Context, shortURL string) error

	// IncrementRollup applies pv/uv/uip deltas to the link's rollup counters
	IncrementRollup(ctx context.Context, gid, shortURL string, dPV, dUV, dUIP int64) error
}

// StatsRepository defines the aggregate upserts applied by the stats consumer.
// Every increment uses insert-or-increment-on-conflict semantics.
type StatsRepository interface {
	// UpsertDailyStats increments the per (shortUrl, date, hour) aggregate
	UpsertDailyStats(ctx context.Context, stats *models.DailyStats) error

	// UpsertLocaleStats increments the per-locale counter
	UpsertLocaleStats(ctx context.Context, shortURL string, date time.Time, country, province, city string, delta int64) error

	// UpsertOSStats increments the per-OS counter
	UpsertOSStats(ctx context.Context, shortURL string, date time.Time, os string, delta int64) error

	// UpsertBrowserStats increments the per-browser counter
	UpsertBrowserStats(ctx context.Context, shortURL string, date time.Time, browser string, delta int64) error

	// UpsertDeviceStats increments the per-device counter
	UpsertDeviceStats(ctx context.Context, shortURL string, date time.Time, device string, delta int64) error

	// UpsertNetworkStats increments the per-network counter
	UpsertNetworkStats(ctx context.Context, shortURL string, date time.Time, network string, delta int64) error

	// RecordAccessLog determines first-visit under a transactional existence
	// check and inserts the access-log row carrying that flag
	RecordAccessLog(ctx context.Context, log *models.AccessLog) (firstVisit bool, err error)
}

// DistributedCache defines the string and set operations used by the resolver
type DistributedCache interface {
	// Get retrieves a value; returns ErrCacheMiss when absent
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with expiration
	Set(ctx context.Context, key string, value string, expiration time.Duration) error

	// Delete removes a key
	Delete(ctx context.Context, key string) error

	// SetAdd adds a member to a set
	SetAdd(ctx context.Context, key, member string) error

	// SetContains checks set membership
	SetContains(ctx context.Context, key, member string) (bool, error)
}

// LockManager provides per-key distributed mutual exclusion. Acquires block
// until the lock is held; the returned function releases it.
type LockManager interface {
	// Lock acquires the plain per-key mutex
	Lock(ctx context.Context, key string) (release func(), err error)

	// RLock acquires the read side of the per-key read/write lock
	RLock(ctx context.Context, key string) (release func(), err error)

	// WLock acquires the write side of the per-key read/write lock
	WLock(ctx context.Context, key string) (release func(), err error)
}

// Message is one durable queue entry wrapping an access event.
type Message struct {
	ID     string
	Values map[string]interface{}
}

// PendingEntry describes a message delivered to the consumer group but not
// yet acknowledged.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	RetryCount int64
}

// EventQueue is the durable append-only queue with consumer-group semantics
type EventQueue interface {
	// Append adds an event payload to the queue and returns its message id
	Append(ctx context.Context, values map[string]interface{}) (string, error)

	// EnsureGroup creates the consumer group if it does not exist yet
	EnsureGroup(ctx context.Context) error

	// ReadBatch pulls up to count undelivered messages, blocking at most
	// the given poll timeout
	ReadBatch(ctx context.Context, count int64, block time.Duration) ([]Message, error)

	// Ack acknowledges and removes messages from the queue
	Ack(ctx context.Context, ids ...string) error

	// PendingEntries lists delivered-but-unacked entries idle for at least
	// minIdle
	PendingEntries(ctx context.Context, minIdle time.Duration, count int64) ([]PendingEntry, error)

	// Claim transfers ownership of pending messages to this consumer
	Claim(ctx context.Context, minIdle time.Duration, ids []string) ([]Message, error)

	// OldestPendingID returns the id of the oldest pending entry, if any
	OldestPendingID(ctx context.Context) (string, bool, error)

	// LastDeliveredID returns the group's last delivered message id
	LastDeliveredID(ctx context.Context) (string, error)

	// RangeBackward walks entry ids from fromID towards the queue head,
	// newest first, returning at most count ids
	RangeBackward(ctx context.Context, fromID string, count int64) ([]string, error)

	// TrimBefore drops every entry older than id and reports how many were
	// removed
	TrimBefore(ctx context.Context, id string) (int64, error)
}

// IdempotencyStore is the at-most-once-per-attempt marker store
type IdempotencyStore interface {
	// Claim atomically creates the record if absent; true means claimed now
	Claim(ctx context.Context, id string) (bool, error)

	// IsDone reports whether the message fully committed earlier
	IsDone(ctx context.Context, id string) (bool, error)

	// MarkDone marks the record as fully committed
	MarkDone(ctx context.Context, id string) error

	// Release drops an in-progress claim so redelivery can retry
	Release(ctx context.Context, id string) error
}

// HLLCounter is the atomic approximate distinct-count primitive
type HLLCounter interface {
	// AddAndDelta adds element to the register and returns 1 when the
	// estimated cardinality grew, 0 otherwise. It also refreshes ownerID's
	// membership in the parity's active set. The whole operation is atomic
	// on the server side.
	AddAndDelta(ctx context.Context, registerKey, activeSetKey, element, ownerID string, ttl time.Duration) (int64, error)
}

// AccessEventSink receives one event per successful redirect. Emission must
// never block or fail the redirect path.
type AccessEventSink interface {
	Emit(ctx context.Context, event *models.AccessEvent)
}
