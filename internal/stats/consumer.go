package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/config"
	"github.com/Merryfling/shortlink/internal/geo"
	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// ErrRetryLater signals that another consumer currently holds the message's
// idempotency claim; the message stays pending and is retried by the
// recovery sweep instead of racing the in-flight attempt.
var ErrRetryLater = errors.New("message is in progress, retry later")

const (
	uvRegisterPrefix  = "shortlink:stats:uv:"
	uipRegisterPrefix = "shortlink:stats:uip:"
	uvActivePrefix    = "shortlink:stats:uv-keys:"
	uipActivePrefix   = "shortlink:stats:uip-keys:"
)

// Consumer batch-pulls queue entries and applies the aggregate updates. Each
// message commits at most once per attempt window through the idempotency
// guard; a failure after the claim releases it and leaves the message
// unacked so the queue redelivers.
type Consumer struct {
	queue     interfaces.EventQueue
	idem      interfaces.IdempotencyStore
	hll       interfaces.HLLCounter
	linkRepo  interfaces.LinkRepository
	statsRepo interfaces.StatsRepository
	locks     interfaces.LockManager
	locator   geo.Locator
	logger    *zap.Logger
	cfg       config.StatsConfig
	loc       *time.Location
}

// NewConsumer creates a new stats consumer
func NewConsumer(
	queue interfaces.EventQueue,
	idem interfaces.IdempotencyStore,
	hll interfaces.HLLCounter,
	linkRepo interfaces.LinkRepository,
	statsRepo interfaces.StatsRepository,
	locks interfaces.LockManager,
	locator geo.Locator,
	cfg config.StatsConfig,
	logger *zap.Logger,
) (*Consumer, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid stats timezone %q: %w", cfg.Timezone, err)
	}

	return &Consumer{
		queue:     queue,
		idem:      idem,
		hll:       hll,
		linkRepo:  linkRepo,
		statsRepo: statsRepo,
		locks:     locks,
		locator:   locator,
		logger:    logger,
		cfg:       cfg,
		loc:       loc,
	}, nil
}

// Run drains the queue in batches until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.queue.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to prepare consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		messages, err := c.queue.ReadBatch(ctx, c.cfg.BatchSize, c.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read stats batch", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			if err := c.Process(ctx, msg); err != nil {
				// Not acked: the queue keeps the message pending and the
				// recovery sweep redelivers it.
				c.logger.Error("failed to process access event",
					zap.String("message_id", msg.ID),
					zap.Error(err))
			}
		}
	}
}

// Process handles one message end to end: claim, apply, ack, mark done.
func (c *Consumer) Process(ctx context.Context, msg interfaces.Message) error {
	claimed, err := c.idem.Claim(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("failed to claim message %s: %w", msg.ID, err)
	}

	if !claimed {
		done, err := c.idem.IsDone(ctx, msg.ID)
		if err != nil {
			return fmt.Errorf("failed to read message state %s: %w", msg.ID, err)
		}
		if done {
			// Duplicate delivery of a fully committed message: drop it.
			return c.queue.Ack(ctx, msg.ID)
		}
		return ErrRetryLater
	}

	if err := c.apply(ctx, msg); err != nil {
		if releaseErr := c.idem.Release(ctx, msg.ID); releaseErr != nil {
			c.logger.Error("failed to release idempotency claim",
				zap.String("message_id", msg.ID),
				zap.Error(releaseErr))
		}
		return err
	}

	if err := c.queue.Ack(ctx, msg.ID); err != nil {
		if releaseErr := c.idem.Release(ctx, msg.ID); releaseErr != nil {
			c.logger.Error("failed to release idempotency claim",
				zap.String("message_id", msg.ID),
				zap.Error(releaseErr))
		}
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}

	if err := c.idem.MarkDone(ctx, msg.ID); err != nil {
		// The message is already acked; the claim's TTL bounds the window
		// in which a redelivered duplicate could reprocess it.
		c.logger.Error("failed to mark message done",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}

	return nil
}

// apply commits the business side effects of one access event.
func (c *Consumer) apply(ctx context.Context, msg interfaces.Message) error {
	event := models.AccessEventFromValues(msg.Values)
	if event.ShortURL == "" {
		c.logger.Warn("dropping malformed access event", zap.String("message_id", msg.ID))
		return nil
	}

	// Stats take the read side; group reassignment takes the write side.
	release, err := c.locks.RLock(ctx, "link:"+event.ShortURL)
	if err != nil {
		return fmt.Errorf("failed to acquire stats lock for %s: %w", event.ShortURL, err)
	}
	defer release()

	link, err := c.linkRepo.GetByShortCode(ctx, event.ShortURL)
	if err != nil {
		if errors.Is(err, models.ErrLinkNotFound) {
			// No owning group: skip the business update, keep the batch
			// moving, and let the message be acked.
			c.logger.Warn("access event for unknown short url",
				zap.String("short_url", event.ShortURL))
			return nil
		}
		return fmt.Errorf("failed to resolve owning group for %s: %w", event.ShortURL, err)
	}

	eventTime := event.EventTime.In(c.loc)
	date := time.Date(eventTime.Year(), eventTime.Month(), eventTime.Day(), 0, 0, 0, 0, c.loc)
	parity := (eventTime.Unix() / 86400) % 2

	visitor := event.Visitor
	if visitor == "" {
		visitor = event.IP
	}

	uvDelta, err := c.hll.AddAndDelta(ctx,
		registerKey(uvRegisterPrefix, parity, event.ShortURL),
		activeSetKey(uvActivePrefix, parity),
		visitor, event.ShortURL, c.cfg.RegisterTTL)
	if err != nil {
		return fmt.Errorf("failed to compute uv delta for %s: %w", event.ShortURL, err)
	}

	uipDelta, err := c.hll.AddAndDelta(ctx,
		registerKey(uipRegisterPrefix, parity, event.ShortURL),
		activeSetKey(uipActivePrefix, parity),
		event.IP, event.ShortURL, c.cfg.RegisterTTL)
	if err != nil {
		return fmt.Errorf("failed to compute uip delta for %s: %w", event.ShortURL, err)
	}

	location := c.locator.Lookup(ctx, event.IP)

	if err := c.statsRepo.UpsertDailyStats(ctx, &models.DailyStats{
		ShortURL: event.ShortURL,
		Date:     date,
		Hour:     eventTime.Hour(),
		Weekday:  isoWeekday(eventTime),
		PV:       1,
		UV:       uvDelta,
		UIP:      uipDelta,
	}); err != nil {
		return err
	}

	if err := c.statsRepo.UpsertLocaleStats(ctx, event.ShortURL, date,
		location.Country, location.Province, location.City, 1); err != nil {
		return err
	}
	if err := c.statsRepo.UpsertOSStats(ctx, event.ShortURL, date, event.OS, 1); err != nil {
		return err
	}
	if err := c.statsRepo.UpsertBrowserStats(ctx, event.ShortURL, date, event.Browser, 1); err != nil {
		return err
	}
	if err := c.statsRepo.UpsertDeviceStats(ctx, event.ShortURL, date, event.Device, 1); err != nil {
		return err
	}
	if err := c.statsRepo.UpsertNetworkStats(ctx, event.ShortURL, date, location.ISP, 1); err != nil {
		return err
	}

	if _, err := c.statsRepo.RecordAccessLog(ctx, &models.AccessLog{
		ID:         uuid.NewString(),
		ShortURL:   event.ShortURL,
		Visitor:    visitor,
		IP:         event.IP,
		OS:         event.OS,
		Browser:    event.Browser,
		Device:     event.Device,
		Network:    location.ISP,
		Locale:     location.Country,
		AccessedAt: event.EventTime,
	}); err != nil {
		return err
	}

	if err := c.linkRepo.IncrementRollup(ctx, link.GroupID, event.ShortURL, 1, uvDelta, uipDelta); err != nil {
		return err
	}

	return nil
}

func registerKey(prefix string, parity int64, shortURL string) string {
	return fmt.Sprintf("%s%d:%s", prefix, parity, shortURL)
}

func activeSetKey(prefix string, parity int64) string {
	return fmt.Sprintf("%s%d", prefix, parity)
}

// isoWeekday maps Go's Sunday-first weekday to ISO numbering (Mon=1..Sun=7).
func isoWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}
