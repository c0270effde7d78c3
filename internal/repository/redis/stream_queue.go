package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// StreamQueue implements the durable access-event queue on a Redis Stream
// with one consumer group.
type StreamQueue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewStreamQueue creates a new stream-backed event queue
func NewStreamQueue(client *redis.Client, stream, group, consumer string) interfaces.EventQueue {
	return &StreamQueue{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// Append adds an event payload to the stream and returns its message id
func (q *StreamQueue) Append(ctx context.Context, values map[string]interface{}) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", q.stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group if it does not exist yet
func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", q.group, err)
	}
	return nil
}

// ReadBatch pulls up to count undelivered messages with a bounded block
func (q *StreamQueue) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]interfaces.Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			// Poll timeout with nothing to read.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %s: %w", q.stream, err)
	}

	var messages []interfaces.Message
	for _, s := range streams {
		for _, m := range s.Messages {
			messages = append(messages, interfaces.Message{ID: m.ID, Values: m.Values})
		}
	}
	return messages, nil
}

// Ack acknowledges messages for the group and deletes them from the stream
func (q *StreamQueue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.stream, q.group, ids...).Err(); err != nil {
		return fmt.Errorf("failed to ack messages on %s: %w", q.stream, err)
	}
	if err := q.client.XDel(ctx, q.stream, ids...).Err(); err != nil {
		return fmt.Errorf("failed to delete messages on %s: %w", q.stream, err)
	}
	return nil
}

// PendingEntries lists delivered-but-unacked entries idle for at least minIdle
func (q *StreamQueue) PendingEntries(ctx context.Context, minIdle time.Duration, count int64) ([]interfaces.PendingEntry, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries on %s: %w", q.stream, err)
	}

	entries := make([]interfaces.PendingEntry, 0, len(pending))
	for _, p := range pending {
		entries = append(entries, interfaces.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			RetryCount: p.RetryCount,
		})
	}
	return entries, nil
}

// Claim transfers ownership of pending messages to this consumer. An empty id
// batch is a no-op: XCLAIM with an empty id array is rejected by the client.
func (q *StreamQueue) Claim(ctx context.Context, minIdle time.Duration, ids []string) ([]interfaces.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to claim messages on %s: %w", q.stream, err)
	}

	messages := make([]interfaces.Message, 0, len(claimed))
	for _, m := range claimed {
		messages = append(messages, interfaces.Message{ID: m.ID, Values: m.Values})
	}
	return messages, nil
}

// OldestPendingID returns the id of the oldest pending entry, if any
func (q *StreamQueue) OldestPendingID(ctx context.Context) (string, bool, error) {
	summary, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		if err == redis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read pending summary on %s: %w", q.stream, err)
	}
	if summary.Count == 0 {
		return "", false, nil
	}
	return summary.Lower, true, nil
}

// LastDeliveredID returns the group's last delivered message id
func (q *StreamQueue) LastDeliveredID(ctx context.Context) (string, error) {
	groups, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return "", fmt.Errorf("failed to inspect groups on %s: %w", q.stream, err)
	}
	for _, g := range groups {
		if g.Name == q.group {
			return g.LastDeliveredID, nil
		}
	}
	return "", fmt.Errorf("consumer group %s not found on %s", q.group, q.stream)
}

// RangeBackward walks entry ids from fromID towards the head, newest first
func (q *StreamQueue) RangeBackward(ctx context.Context, fromID string, count int64) ([]string, error) {
	entries, err := q.client.XRevRangeN(ctx, q.stream, fromID, "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range stream %s: %w", q.stream, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// TrimBefore drops every entry older than id
func (q *StreamQueue) TrimBefore(ctx context.Context, id string) (int64, error) {
	removed, err := q.client.XTrimMinID(ctx, q.stream, id).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim stream %s: %w", q.stream, err)
	}
	return removed, nil
}
