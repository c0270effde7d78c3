package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// RetentionTask bounds queue storage growth. It never deletes anything a
// consumer might still need: with pending entries present, everything from
// the oldest pending entry onward survives; with none, a fixed-size buffer
// behind the last-delivered offset is kept for limited reprocessing.
type RetentionTask struct {
	queue    interfaces.EventQueue
	logger   *zap.Logger
	interval time.Duration
	buffer   int64
}

// NewRetentionTask creates a new queue retention task
func NewRetentionTask(queue interfaces.EventQueue, interval time.Duration, buffer int64, logger *zap.Logger) *RetentionTask {
	return &RetentionTask{
		queue:    queue,
		logger:   logger,
		interval: interval,
		buffer:   buffer,
	}
}

// Run trims on a fixed interval until ctx is cancelled.
func (t *RetentionTask) Run(ctx context.Context) {
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

func (t *RetentionTask) sweep(ctx context.Context) {
	oldest, hasPending, err := t.queue.OldestPendingID(ctx)
	if err != nil {
		t.logger.Error("failed to inspect pending entries", zap.Error(err))
		return
	}

	if hasPending {
		removed, err := t.queue.TrimBefore(ctx, oldest)
		if err != nil {
			t.logger.Error("failed to trim queue", zap.Error(err))
			return
		}
		if removed > 0 {
			t.logger.Info("trimmed acked queue entries", zap.Int64("removed", removed))
		}
		return
	}

	lastDelivered, err := t.queue.LastDeliveredID(ctx)
	if err != nil {
		t.logger.Error("failed to read last delivered id", zap.Error(err))
		return
	}

	// Walk back from the last-delivered entry; everything older than the
	// buffer's tail is expendable.
	ids, err := t.queue.RangeBackward(ctx, lastDelivered, t.buffer+1)
	if err != nil {
		t.logger.Error("failed to range queue", zap.Error(err))
		return
	}
	if int64(len(ids)) <= t.buffer {
		return
	}

	removed, err := t.queue.TrimBefore(ctx, ids[len(ids)-1])
	if err != nil {
		t.logger.Error("failed to trim queue", zap.Error(err))
		return
	}
	if removed > 0 {
		t.logger.Info("trimmed queue behind delivery buffer", zap.Int64("removed", removed))
	}
}
