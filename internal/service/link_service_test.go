package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/config"
	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
	"github.com/Merryfling/shortlink/pkg/codegen"
)

// memCache is an in-memory stand-in for the distributed cache.
type memCache struct {
	mu   sync.Mutex
	kv   map[string]string
	sets map[string]map[string]bool
}

func newMemCache() *memCache {
	return &memCache{kv: make(map[string]string), sets: make(map[string]map[string]bool)}
}

func (c *memCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.kv[key]; ok {
		return v, nil
	}
	return "", interfaces.ErrCacheMiss
}

func (c *memCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kv[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *memCache) SetAdd(ctx context.Context, key, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets[key] == nil {
		c.sets[key] = make(map[string]bool)
	}
	c.sets[key][member] = true
	return nil
}

func (c *memCache) SetContains(ctx context.Context, key, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets[key][member], nil
}

// memLocks implements LockManager over per-key in-process mutexes.
type memLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newMemLocks() *memLocks {
	return &memLocks{locks: make(map[string]*sync.RWMutex)}
}

func (l *memLocks) get(key string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] == nil {
		l.locks[key] = &sync.RWMutex{}
	}
	return l.locks[key]
}

func (l *memLocks) Lock(ctx context.Context, key string) (func(), error) {
	m := l.get(key)
	m.Lock()
	return m.Unlock, nil
}

func (l *memLocks) RLock(ctx context.Context, key string) (func(), error) {
	m := l.get(key)
	m.RLock()
	return m.RUnlock, nil
}

func (l *memLocks) WLock(ctx context.Context, key string) (func(), error) {
	m := l.get(key)
	m.Lock()
	return m.Unlock, nil
}

// memLinkRepo stores links in a map and counts reads.
type memLinkRepo struct {
	mu    sync.Mutex
	links map[string]*models.Link
	reads atomic.Int64
}

func newMemLinkRepo() *memLinkRepo {
	return &memLinkRepo{links: make(map[string]*models.Link)}
}

func (r *memLinkRepo) Create(ctx context.Context, link *models.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[link.ShortURL]; ok {
		return models.ErrCodeCollision
	}
	cp := *link
	r.links[link.ShortURL] = &cp
	return nil
}

func (r *memLinkRepo) GetByShortCode(ctx context.Context, shortURL string) (*models.Link, error) {
	r.reads.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[shortURL]
	if !ok || !link.Enabled {
		return nil, models.ErrLinkNotFound
	}
	cp := *link
	return &cp, nil
}

func (r *memLinkRepo) UpdateGroup(ctx context.Context, shortURL, gid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[shortURL]
	if !ok {
		return models.ErrLinkNotFound
	}
	link.GroupID = gid
	return nil
}

func (r *memLinkRepo) Delete(ctx context.Context, shortURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[shortURL]
	if !ok {
		return models.ErrLinkNotFound
	}
	link.Enabled = false
	return nil
}

func (r *memLinkRepo) IncrementRollup(ctx context.Context, gid, shortURL string, dPV, dUV, dUIP int64) error {
	return nil
}

// countingSink counts emitted events.
type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(ctx context.Context, event *models.AccessEvent) {
	s.count.Add(1)
}

// localSequencer backs the allocator with an in-process counter.
type localSequencer struct {
	counter atomic.Int64
}

func (s *localSequencer) Next(ctx context.Context, step int64) (int64, error) {
	return s.counter.Add(step), nil
}

type serviceFixture struct {
	service *LinkService
	repo    *memLinkRepo
	cache   *memCache
	sink    *countingSink
}

func testAppConfig() config.AppConfig {
	return config.AppConfig{
		Domain:          "http://sho.rt",
		NotFoundURL:     "/page/notfound",
		CodeLength:      6,
		PermuteA:        1103515245,
		PermuteB:        12345,
		SegmentStep:     100,
		PrefetchRatio:   0.2,
		CacheTTLCeiling: 720 * time.Hour,
		TombstoneTTL:    30 * time.Minute,
		LocalCacheTTL:   5 * time.Minute,
		CreateRetries:   10,
	}
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	perm, err := codegen.NewPermutation(1103515245, 12345, 6)
	require.NoError(t, err)
	allocator, err := codegen.NewAllocator(perm, &localSequencer{}, 100, 0.2)
	require.NoError(t, err)

	repo := newMemLinkRepo()
	cache := newMemCache()
	sink := &countingSink{}

	svc := NewLinkService(repo, cache, newMemLocks(), allocator, sink, testAppConfig(), zap.NewNop())

	return &serviceFixture{service: svc, repo: repo, cache: cache, sink: sink}
}

func (f *serviceFixture) createLink(t *testing.T, origin string) string {
	t.Helper()

	result, err := f.service.CreateLink(context.Background(), &models.CreateLinkRequest{
		OriginURL: origin,
		GroupID:   "g-1",
	})
	require.NoError(t, err)

	code := result.FullShortURL[len("http://sho.rt/"):]
	require.Len(t, code, 6)
	return code
}

// coldCaches drops warm state so the next resolve takes the cold path.
func (f *serviceFixture) coldCaches(code string) {
	f.service.local.Delete(code)
	f.cache.mu.Lock()
	delete(f.cache.kv, gotoKeyPrefix+code)
	f.cache.mu.Unlock()
}

func testVisit() *Visit {
	return &Visit{
		Visitor:   "visitor-1",
		IP:        "203.0.113.9",
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Chrome/120.0",
		Time:      time.Now(),
	}
}

func TestCreateLink(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.service.CreateLink(context.Background(), &models.CreateLinkRequest{
		OriginURL: "https://example.com/landing",
		GroupID:   "g-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "g-1", result.GroupID)
	assert.Equal(t, "https://example.com/landing", result.OriginURL)
	assert.Contains(t, result.FullShortURL, "http://sho.rt/")

	code := result.FullShortURL[len("http://sho.rt/"):]

	// Membership set and positive cache are populated on create.
	member, err := f.cache.SetContains(context.Background(), codesSetKey, code)
	require.NoError(t, err)
	assert.True(t, member)

	cached, err := f.cache.Get(context.Background(), gotoKeyPrefix+code)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/landing", cached)
}

func TestCreateLink_Validation(t *testing.T) {
	f := newServiceFixture(t)

	tests := []struct {
		name string
		req  *models.CreateLinkRequest
	}{
		{"invalid scheme", &models.CreateLinkRequest{OriginURL: "ftp://example.com", GroupID: "g-1"}},
		{"missing group", &models.CreateLinkRequest{OriginURL: "https://example.com"}},
		{"inverted window", func() *models.CreateLinkRequest {
			from := time.Now().Add(time.Hour)
			until := time.Now()
			return &models.CreateLinkRequest{OriginURL: "https://example.com", GroupID: "g-1", ValidFrom: &from, ValidUntil: &until}
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateLink(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}

func TestResolve_CacheHit(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/a")

	origin, err := f.service.Resolve(context.Background(), code, testVisit())

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", origin)
	// Creation warmed the cache: resolving never touched the database.
	assert.Equal(t, int64(0), f.repo.reads.Load())
	assert.Equal(t, int64(1), f.sink.count.Load())
}

func TestResolve_PrefilterRejectsUnissuedCode(t *testing.T) {
	f := newServiceFixture(t)
	f.createLink(t, "https://example.com/a")

	// Plausible shape but never issued by the allocator.
	_, err := f.service.Resolve(context.Background(), "zzZZ99", testVisit())

	assert.ErrorIs(t, err, models.ErrLinkNotFound)
	assert.Equal(t, int64(0), f.repo.reads.Load())
}

func TestResolve_MalformedCode(t *testing.T) {
	f := newServiceFixture(t)

	for _, code := range []string{"", "has space", "way-too-long-code", "abc/12"} {
		_, err := f.service.Resolve(context.Background(), code, testVisit())
		assert.ErrorIs(t, err, models.ErrLinkNotFound)
	}
	assert.Equal(t, int64(0), f.repo.reads.Load())
}

func TestResolve_TombstoneShortCircuits(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/a")
	f.coldCaches(code)

	require.NoError(t, f.cache.Set(context.Background(), nullKeyPrefix+code, tombstoneValue, time.Minute))

	_, err := f.service.Resolve(context.Background(), code, testVisit())

	assert.ErrorIs(t, err, models.ErrLinkNotFound)
	assert.Equal(t, int64(0), f.repo.reads.Load())
}

func TestResolve_ColdPathSingleFlight(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/hot")
	f.coldCaches(code)

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.Resolve(context.Background(), code, testVisit())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "https://example.com/hot", results[i])
	}

	// All concurrent cold resolves collapse into one database read.
	assert.Equal(t, int64(1), f.repo.reads.Load())
}

func TestResolve_CrossInstanceCode(t *testing.T) {
	// Two service instances share the counter, cache and database, as in a
	// multi-process deployment. Each has its own allocator, so a code minted
	// by one lies beyond the other's locally observed counter value.
	seq := &localSequencer{}
	repo := newMemLinkRepo()
	cache := newMemCache()

	newInstance := func() *LinkService {
		perm, err := codegen.NewPermutation(1103515245, 12345, 6)
		require.NoError(t, err)
		alloc, err := codegen.NewAllocator(perm, seq, 100, 0.2)
		require.NoError(t, err)
		return NewLinkService(repo, cache, newMemLocks(), alloc, &countingSink{}, testAppConfig(), zap.NewNop())
	}

	a := newInstance()
	b := newInstance()

	// A fetches the first segment; B's segment lies entirely above it.
	_, err := a.CreateLink(context.Background(), &models.CreateLinkRequest{
		OriginURL: "https://example.com/a",
		GroupID:   "g-1",
	})
	require.NoError(t, err)

	result, err := b.CreateLink(context.Background(), &models.CreateLinkRequest{
		OriginURL: "https://example.com/cross",
		GroupID:   "g-1",
	})
	require.NoError(t, err)
	code := result.FullShortURL[len("http://sho.rt/"):]

	// The warm cache entry from creation has expired.
	cache.mu.Lock()
	delete(cache.kv, gotoKeyPrefix+code)
	cache.mu.Unlock()

	// A's high-water mark does not cover B's segment, but the shared
	// membership set does: the resolve must reach the database.
	origin, err := a.Resolve(context.Background(), code, testVisit())

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cross", origin)
	assert.Equal(t, int64(1), repo.reads.Load())
}

func TestResolve_ExpiredLinkWritesTombstone(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/old")
	f.coldCaches(code)

	// Push the link outside its validity window.
	past := time.Now().Add(-time.Hour)
	f.repo.mu.Lock()
	f.repo.links[code].ValidUntil = &past
	f.repo.mu.Unlock()

	_, err := f.service.Resolve(context.Background(), code, testVisit())
	assert.ErrorIs(t, err, models.ErrLinkExpired)

	// The second attempt stops at the tombstone.
	reads := f.repo.reads.Load()
	_, err = f.service.Resolve(context.Background(), code, testVisit())
	assert.ErrorIs(t, err, models.ErrLinkNotFound)
	assert.Equal(t, reads, f.repo.reads.Load())
}

func TestDeleteLink(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/a")

	require.NoError(t, f.service.DeleteLink(context.Background(), code))

	_, err := f.service.Resolve(context.Background(), code, testVisit())
	assert.ErrorIs(t, err, models.ErrLinkNotFound)

	_, err = f.cache.Get(context.Background(), gotoKeyPrefix+code)
	assert.ErrorIs(t, err, interfaces.ErrCacheMiss)
}

func TestMoveLinkGroup(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/a")

	require.NoError(t, f.service.MoveLinkGroup(context.Background(), code, "g-2"))

	f.repo.mu.Lock()
	assert.Equal(t, "g-2", f.repo.links[code].GroupID)
	f.repo.mu.Unlock()

	assert.Error(t, f.service.MoveLinkGroup(context.Background(), code, ""))
	assert.ErrorIs(t, f.service.MoveLinkGroup(context.Background(), "unkn0w", "g-2"), models.ErrLinkNotFound)
}

func TestResolve_CacheOutageFallsThroughToDB(t *testing.T) {
	f := newServiceFixture(t)
	code := f.createLink(t, "https://example.com/a")
	f.coldCaches(code)

	// Swap in a cache whose reads fail outright.
	f.service.cache = &failingCache{memCache: f.cache}
	f.service.local.Flush()

	origin, err := f.service.Resolve(context.Background(), code, testVisit())

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", origin)
	assert.Equal(t, int64(1), f.repo.reads.Load())
}

// failingCache simulates an unreachable cache store.
type failingCache struct {
	*memCache
}

func (c *failingCache) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}
