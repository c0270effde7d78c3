package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/config"
	"github.com/Merryfling/shortlink/internal/geo"
	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
)

// Mock repositories for testing
type MockEventQueue struct {
	mock.Mock
}

func (m *MockEventQueue) Append(ctx context.Context, values map[string]interface{}) (string, error) {
	args := m.Called(ctx, values)
	return args.String(0), args.Error(1)
}

func (m *MockEventQueue) EnsureGroup(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEventQueue) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]interfaces.Message, error) {
	args := m.Called(ctx, count, block)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Message), args.Error(1)
}

func (m *MockEventQueue) Ack(ctx context.Context, ids ...string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockEventQueue) PendingEntries(ctx context.Context, minIdle time.Duration, count int64) ([]interfaces.PendingEntry, error) {
	args := m.Called(ctx, minIdle, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.PendingEntry), args.Error(1)
}

func (m *MockEventQueue) Claim(ctx context.Context, minIdle time.Duration, ids []string) ([]interfaces.Message, error) {
	args := m.Called(ctx, minIdle, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]interfaces.Message), args.Error(1)
}

func (m *MockEventQueue) OldestPendingID(ctx context.Context) (string, bool, error) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockEventQueue) LastDeliveredID(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockEventQueue) RangeBackward(ctx context.Context, fromID string, count int64) ([]string, error) {
	args := m.Called(ctx, fromID, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockEventQueue) TrimBefore(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Claim(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsDone(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) MarkDone(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockHLLCounter struct {
	mock.Mock
}

func (m *MockHLLCounter) AddAndDelta(ctx context.Context, registerKey, activeSetKey, element, ownerID string, ttl time.Duration) (int64, error) {
	args := m.Called(ctx, registerKey, activeSetKey, element, ownerID, ttl)
	return args.Get(0).(int64), args.Error(1)
}

type MockLinkRepository struct {
	mock.Mock
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.Link) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockLinkRepository) GetByShortCode(ctx context.Context, shortURL string) (*models.Link, error) {
	args := m.Called(ctx, shortURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Link), args.Error(1)
}

func (m *MockLinkRepository) UpdateGroup(ctx context.Context, shortURL, gid string) error {
	args := m.Called(ctx, shortURL, gid)
	return args.Error(0)
}

func (m *MockLinkRepository) Delete(ctx context.Context, shortURL string) error {
	args := m.Called(ctx, shortURL)
	return args.Error(0)
}

func (m *MockLinkRepository) IncrementRollup(ctx context.Context, gid, shortURL string, dPV, dUV, dUIP int64) error {
	args := m.Called(ctx, gid, shortURL, dPV, dUV, dUIP)
	return args.Error(0)
}

type MockStatsRepository struct {
	mock.Mock
}

func (m *MockStatsRepository) UpsertDailyStats(ctx context.Context, stats *models.DailyStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}

func (m *MockStatsRepository) UpsertLocaleStats(ctx context.Context, shortURL string, date time.Time, country, province, city string, delta int64) error {
	args := m.Called(ctx, shortURL, date, country, province, city, delta)
	return args.Error(0)
}

func (m *MockStatsRepository) UpsertOSStats(ctx context.Context, shortURL string, date time.Time, os string, delta int64) error {
	args := m.Called(ctx, shortURL, date, os, delta)
	return args.Error(0)
}

func (m *MockStatsRepository) UpsertBrowserStats(ctx context.Context, shortURL string, date time.Time, browser string, delta int64) error {
	args := m.Called(ctx, shortURL, date, browser, delta)
	return args.Error(0)
}

func (m *MockStatsRepository) UpsertDeviceStats(ctx context.Context, shortURL string, date time.Time, device string, delta int64) error {
	args := m.Called(ctx, shortURL, date, device, delta)
	return args.Error(0)
}

func (m *MockStatsRepository) UpsertNetworkStats(ctx context.Context, shortURL string, date time.Time, network string, delta int64) error {
	args := m.Called(ctx, shortURL, date, network, delta)
	return args.Error(0)
}

func (m *MockStatsRepository) RecordAccessLog(ctx context.Context, log *models.AccessLog) (bool, error) {
	args := m.Called(ctx, log)
	return args.Bool(0), args.Error(1)
}

// fakeLockManager hands out no-op releases and records acquired keys.
type fakeLockManager struct {
	rlocked []string
}

func (f *fakeLockManager) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

func (f *fakeLockManager) RLock(ctx context.Context, key string) (func(), error) {
	f.rlocked = append(f.rlocked, key)
	return func() {}, nil
}

func (f *fakeLockManager) WLock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}

// fakeLocator always answers with a fixed location.
type fakeLocator struct {
	loc geo.Location
}

func (f *fakeLocator) Lookup(ctx context.Context, ip string) geo.Location {
	return f.loc
}

func testStatsConfig() config.StatsConfig {
	return config.StatsConfig{
		Stream:         "test:stream",
		Group:          "test-group",
		Consumer:       "test-consumer",
		BatchSize:      32,
		PollTimeout:    time.Second,
		IdempotencyTTL: 2 * time.Minute,
		RegisterTTL:    24 * time.Hour,
		Timezone:       "UTC",
	}
}

func testMessage(shortURL string) interfaces.Message {
	event := &models.AccessEvent{
		ShortURL:  shortURL,
		Visitor:   "visitor-1",
		IP:        "203.0.113.9",
		OS:        "macOS",
		Browser:   "Chrome",
		Device:    "Desktop",
		EventTime: time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC),
	}
	return interfaces.Message{ID: "1718447400000-0", Values: event.Values()}
}

func newTestConsumer(t *testing.T, queue *MockEventQueue, idem *MockIdempotencyStore, hll *MockHLLCounter, linkRepo *MockLinkRepository, statsRepo *MockStatsRepository, locks *fakeLockManager) *Consumer {
	t.Helper()

	consumer, err := NewConsumer(
		queue, idem, hll, linkRepo, statsRepo, locks,
		&fakeLocator{loc: geo.Location{Country: "US", Province: "CA", City: "SF", ISP: "TestNet"}},
		testStatsConfig(), zap.NewNop(),
	)
	require.NoError(t, err)
	return consumer
}

func TestConsumer_Process_Success(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)
	hll := new(MockHLLCounter)
	linkRepo := new(MockLinkRepository)
	statsRepo := new(MockStatsRepository)
	locks := &fakeLockManager{}

	consumer := newTestConsumer(t, queue, idem, hll, linkRepo, statsRepo, locks)
	msg := testMessage("abc123")

	idem.On("Claim", mock.Anything, msg.ID).Return(true, nil)
	linkRepo.On("GetByShortCode", mock.Anything, "abc123").Return(&models.Link{
		ID: 1, GroupID: "g-1", ShortURL: "abc123", OriginURL: "https://example.com", Enabled: true,
	}, nil)
	hll.On("AddAndDelta", mock.Anything, mock.Anything, mock.Anything, "visitor-1", "abc123", mock.Anything).Return(int64(1), nil)
	hll.On("AddAndDelta", mock.Anything, mock.Anything, mock.Anything, "203.0.113.9", "abc123", mock.Anything).Return(int64(1), nil)
	statsRepo.On("UpsertDailyStats", mock.Anything, mock.MatchedBy(func(s *models.DailyStats) bool {
		return s.ShortURL == "abc123" && s.PV == 1 && s.UV == 1 && s.UIP == 1 && s.Hour == 10
	})).Return(nil)
	statsRepo.On("UpsertLocaleStats", mock.Anything, "abc123", mock.Anything, "US", "CA", "SF", int64(1)).Return(nil)
	statsRepo.On("UpsertOSStats", mock.Anything, "abc123", mock.Anything, "macOS", int64(1)).Return(nil)
	statsRepo.On("UpsertBrowserStats", mock.Anything, "abc123", mock.Anything, "Chrome", int64(1)).Return(nil)
	statsRepo.On("UpsertDeviceStats", mock.Anything, "abc123", mock.Anything, "Desktop", int64(1)).Return(nil)
	statsRepo.On("UpsertNetworkStats", mock.Anything, "abc123", mock.Anything, "TestNet", int64(1)).Return(nil)
	statsRepo.On("RecordAccessLog", mock.Anything, mock.MatchedBy(func(l *models.AccessLog) bool {
		return l.ShortURL == "abc123" && l.Visitor == "visitor-1"
	})).Return(true, nil)
	linkRepo.On("IncrementRollup", mock.Anything, "g-1", "abc123", int64(1), int64(1), int64(1)).Return(nil)
	queue.On("Ack", mock.Anything, []string{msg.ID}).Return(nil)
	idem.On("MarkDone", mock.Anything, msg.ID).Return(nil)

	err := consumer.Process(context.Background(), msg)

	assert.NoError(t, err)
	assert.Equal(t, []string{"link:abc123"}, locks.rlocked)
	queue.AssertExpectations(t)
	idem.AssertExpectations(t)
	statsRepo.AssertExpectations(t)
	linkRepo.AssertExpectations(t)
}

func TestConsumer_Process_DuplicateDone(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)
	linkRepo := new(MockLinkRepository)
	statsRepo := new(MockStatsRepository)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), linkRepo, statsRepo, &fakeLockManager{})
	msg := testMessage("abc123")

	idem.On("Claim", mock.Anything, msg.ID).Return(false, nil)
	idem.On("IsDone", mock.Anything, msg.ID).Return(true, nil)
	queue.On("Ack", mock.Anything, []string{msg.ID}).Return(nil)

	err := consumer.Process(context.Background(), msg)

	assert.NoError(t, err)
	// Already committed: acked without touching the aggregates.
	linkRepo.AssertNotCalled(t, "GetByShortCode", mock.Anything, mock.Anything)
	statsRepo.AssertNotCalled(t, "UpsertDailyStats", mock.Anything, mock.Anything)
	queue.AssertExpectations(t)
}

func TestConsumer_Process_InProgress(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), new(MockLinkRepository), new(MockStatsRepository), &fakeLockManager{})
	msg := testMessage("abc123")

	idem.On("Claim", mock.Anything, msg.ID).Return(false, nil)
	idem.On("IsDone", mock.Anything, msg.ID).Return(false, nil)

	err := consumer.Process(context.Background(), msg)

	assert.ErrorIs(t, err, ErrRetryLater)
	// Another consumer holds the claim: leave the message pending.
	queue.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
}

func TestConsumer_Process_UnknownLink(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)
	linkRepo := new(MockLinkRepository)
	statsRepo := new(MockStatsRepository)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), linkRepo, statsRepo, &fakeLockManager{})
	msg := testMessage("gone99")

	idem.On("Claim", mock.Anything, msg.ID).Return(true, nil)
	linkRepo.On("GetByShortCode", mock.Anything, "gone99").Return(nil, models.ErrLinkNotFound)
	queue.On("Ack", mock.Anything, []string{msg.ID}).Return(nil)
	idem.On("MarkDone", mock.Anything, msg.ID).Return(nil)

	err := consumer.Process(context.Background(), msg)

	// Event for a deleted link is dropped, not retried forever.
	assert.NoError(t, err)
	statsRepo.AssertNotCalled(t, "UpsertDailyStats", mock.Anything, mock.Anything)
	queue.AssertExpectations(t)
	idem.AssertExpectations(t)
}

func TestConsumer_Process_ApplyFailureReleasesClaim(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)
	linkRepo := new(MockLinkRepository)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), linkRepo, new(MockStatsRepository), &fakeLockManager{})
	msg := testMessage("abc123")

	idem.On("Claim", mock.Anything, msg.ID).Return(true, nil)
	linkRepo.On("GetByShortCode", mock.Anything, "abc123").Return(nil, errors.New("connection refused"))
	idem.On("Release", mock.Anything, msg.ID).Return(nil)

	err := consumer.Process(context.Background(), msg)

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetryLater)
	// The claim is released and the message stays pending for redelivery.
	idem.AssertCalled(t, "Release", mock.Anything, msg.ID)
	queue.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
	idem.AssertNotCalled(t, "MarkDone", mock.Anything, mock.Anything)
}

func TestConsumer_Process_MalformedEventAcked(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)
	statsRepo := new(MockStatsRepository)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), new(MockLinkRepository), statsRepo, &fakeLockManager{})
	msg := interfaces.Message{ID: "1718447400000-1", Values: map[string]interface{}{"garbage": "x"}}

	idem.On("Claim", mock.Anything, msg.ID).Return(true, nil)
	queue.On("Ack", mock.Anything, []string{msg.ID}).Return(nil)
	idem.On("MarkDone", mock.Anything, msg.ID).Return(nil)

	err := consumer.Process(context.Background(), msg)

	assert.NoError(t, err)
	statsRepo.AssertNotCalled(t, "UpsertDailyStats", mock.Anything, mock.Anything)
}

func TestRecoveryTask_FiltersEmptyIDs(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), new(MockLinkRepository), new(MockStatsRepository), &fakeLockManager{})
	task := NewRecoveryTask(queue, consumer, time.Minute, 5*time.Minute, zap.NewNop())

	queue.On("PendingEntries", mock.Anything, 5*time.Minute, int64(recoveryBatch)).Return([]interfaces.PendingEntry{
		{ID: ""},
	}, nil)

	task.sweep(context.Background())

	// Only empty ids came back: the claim call must be skipped entirely.
	queue.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecoveryTask_ReprocessesClaimed(t *testing.T) {
	queue := new(MockEventQueue)
	idem := new(MockIdempotencyStore)

	consumer := newTestConsumer(t, queue, idem, new(MockHLLCounter), new(MockLinkRepository), new(MockStatsRepository), &fakeLockManager{})
	task := NewRecoveryTask(queue, consumer, time.Minute, 5*time.Minute, zap.NewNop())

	msg := testMessage("abc123")
	queue.On("PendingEntries", mock.Anything, 5*time.Minute, int64(recoveryBatch)).Return([]interfaces.PendingEntry{
		{ID: msg.ID, Consumer: "dead-consumer", Idle: 10 * time.Minute},
	}, nil)
	queue.On("Claim", mock.Anything, 5*time.Minute, []string{msg.ID}).Return([]interfaces.Message{msg}, nil)

	// Fully committed earlier: the reclaimed duplicate is just acked.
	idem.On("Claim", mock.Anything, msg.ID).Return(false, nil)
	idem.On("IsDone", mock.Anything, msg.ID).Return(true, nil)
	queue.On("Ack", mock.Anything, []string{msg.ID}).Return(nil)

	task.sweep(context.Background())

	queue.AssertExpectations(t)
	idem.AssertExpectations(t)
}

func TestRetentionTask_TrimsBehindOldestPending(t *testing.T) {
	queue := new(MockEventQueue)
	task := NewRetentionTask(queue, time.Minute, 1024, zap.NewNop())

	queue.On("OldestPendingID", mock.Anything).Return("1718447000000-0", true, nil)
	queue.On("TrimBefore", mock.Anything, "1718447000000-0").Return(int64(12), nil)

	task.sweep(context.Background())

	queue.AssertExpectations(t)
}

func TestRetentionTask_KeepsBufferWithoutPending(t *testing.T) {
	queue := new(MockEventQueue)
	task := NewRetentionTask(queue, time.Minute, 2, zap.NewNop())

	queue.On("OldestPendingID", mock.Anything).Return("", false, nil)
	queue.On("LastDeliveredID", mock.Anything).Return("1718447400000-5", nil)
	queue.On("RangeBackward", mock.Anything, "1718447400000-5", int64(3)).Return([]string{
		"1718447400000-5", "1718447400000-4", "1718447400000-3",
	}, nil)
	queue.On("TrimBefore", mock.Anything, "1718447400000-3").Return(int64(7), nil)

	task.sweep(context.Background())

	queue.AssertExpectations(t)
}

func TestRetentionTask_ShortQueueNotTrimmed(t *testing.T) {
	queue := new(MockEventQueue)
	task := NewRetentionTask(queue, time.Minute, 1024, zap.NewNop())

	queue.On("OldestPendingID", mock.Anything).Return("", false, nil)
	queue.On("LastDeliveredID", mock.Anything).Return("1718447400000-5", nil)
	queue.On("RangeBackward", mock.Anything, "1718447400000-5", int64(1025)).Return([]string{
		"1718447400000-5", "1718447400000-4",
	}, nil)

	task.sweep(context.Background())

	queue.AssertNotCalled(t, "TrimBefore", mock.Anything, mock.Anything)
}

func TestIsoWeekday(t *testing.T) {
	// 2025-06-16 is a Monday, 2025-06-15 a Sunday.
	assert.Equal(t, 1, isoWeekday(time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 7, isoWeekday(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)))
}
