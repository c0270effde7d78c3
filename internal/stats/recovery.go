package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// recoveryBatch caps how many stuck entries one sweep reclaims.
const recoveryBatch = 64

// RecoveryTask reclaims messages that were delivered but never acknowledged,
// typically because a consumer crashed mid-message. Reclaimed messages go
// through the same consumer entrypoint as live deliveries; the idempotency
// guard prevents double side effects.
type RecoveryTask struct {
	queue    interfaces.EventQueue
	consumer *Consumer
	logger   *zap.Logger
	interval time.Duration
	minIdle  time.Duration
}

// NewRecoveryTask creates a new pending-entry recovery task
func NewRecoveryTask(queue interfaces.EventQueue, consumer *Consumer, interval, minIdle time.Duration, logger *zap.Logger) *RecoveryTask {
	return &RecoveryTask{
		queue:    queue,
		consumer: consumer,
		logger:   logger,
		interval: interval,
		minIdle:  minIdle,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (t *RecoveryTask) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep claims entries idle beyond the threshold and reprocesses them.
func (t *RecoveryTask) sweep(ctx context.Context) {
	entries, err := t.queue.PendingEntries(ctx, t.minIdle, recoveryBatch)
	if err != nil {
		t.logger.Error("failed to list pending entries", zap.Error(err))
		return
	}

	// Filter malformed entries before touching the claim primitive: the
	// client library rejects claim calls with an empty id array.
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) == 0 {
		return
	}

	messages, err := t.queue.Claim(ctx, t.minIdle, ids)
	if err != nil {
		t.logger.Error("failed to claim stuck entries", zap.Error(err))
		return
	}

	for _, msg := range messages {
		if err := t.consumer.Process(ctx, msg); err != nil {
			t.logger.Error("failed to recover access event",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}
