package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

const (
	// emitTimeout bounds each append so a stalled queue cannot wedge the
	// worker indefinitely.
	emitTimeout = 3 * time.Second

	// emitBuffer bounds how many events can wait for the append worker.
	// When it is full new events are dropped, never queued elsewhere.
	emitBuffer = 1024
)

// Producer appends access events to the durable queue. It is strictly
// fire-and-forget: a single worker drains a bounded buffer, failures are
// logged and swallowed, and a full buffer sheds events so the redirect path's
// latency and availability are never affected by analytics.
type Producer struct {
	queue  interfaces.EventQueue
	logger *zap.Logger
	events chan *models.AccessEvent
}

// NewProducer creates a new access-event producer
func NewProducer(queue interfaces.EventQueue, logger *zap.Logger) *Producer {
	return &Producer{
		queue:  queue,
		logger: logger,
		events: make(chan *models.AccessEvent, emitBuffer),
	}
}

// Emit hands one event to the append worker without blocking the caller.
func (p *Producer) Emit(_ context.Context, event *models.AccessEvent) {
	if event == nil {
		return
	}

	select {
	case p.events <- event:
	default:
		p.logger.Warn("dropping access event, emit buffer full",
			zap.String("short_url", event.ShortURL))
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what remains.
func (p *Producer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case event := <-p.events:
			p.append(event)
		}
	}
}

// flush appends every event still buffered at shutdown.
func (p *Producer) flush() {
	for {
		select {
		case event := <-p.events:
			p.append(event)
		default:
			return
		}
	}
}

func (p *Producer) append(event *models.AccessEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	if _, err := p.queue.Append(ctx, event.Values()); err != nil {
		p.logger.Error("failed to append access event",
			zap.String("short_url", event.ShortURL),
			zap.Error(err))
	}
}
