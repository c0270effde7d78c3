package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/Merryfling/shortlink/internal/config"
	"github.com/Merryfling/shortlink/internal/models"
	"github.com/Merryfling/shortlink/internal/repository/interfaces"
	"github.com/Merryfling/shortlink/internal/useragent"
	"github.com/Merryfling/shortlink/pkg/codegen"
	"github.com/Merryfling/shortlink/pkg/validator"
)

const (
	gotoKeyPrefix = "shortlink:goto:"
	nullKeyPrefix = "shortlink:is-null:"
	codesSetKey   = "shortlink:codes"

	// tombstoneValue marks a confirmed-absent short code.
	tombstoneValue = "-"
)

// Visit carries the request-scoped client context of one redirect.
type Visit struct {
	Visitor   string
	IP        string
	UserAgent string
	Time      time.Time
}

// LinkService handles link creation and hot-path redirect resolution.
//
// Resolution cascades through an in-process cache, the distributed cache, a
// negative pre-filter, and a tombstone check before ever touching Postgres.
// Cold keys are loaded under a per-key distributed mutex with double-checked
// re-reads, so N concurrent first-requests cause exactly one database read.
type LinkService struct {
	linkRepo  interfaces.LinkRepository
	cache     interfaces.DistributedCache
	locks     interfaces.LockManager
	allocator *codegen.Allocator
	sink      interfaces.AccessEventSink
	validator *validator.URLValidator
	local     *gocache.Cache
	logger    *zap.Logger
	cfg       config.AppConfig
}

// NewLinkService creates a new link service
func NewLinkService(
	linkRepo interfaces.LinkRepository,
	cache interfaces.DistributedCache,
	locks interfaces.LockManager,
	allocator *codegen.Allocator,
	sink interfaces.AccessEventSink,
	cfg config.AppConfig,
	logger *zap.Logger,
) *LinkService {
	return &LinkService{
		linkRepo:  linkRepo,
		cache:     cache,
		locks:     locks,
		allocator: allocator,
		sink:      sink,
		validator: validator.NewURLValidator(),
		local:     gocache.New(cfg.LocalCacheTTL, 2*cfg.LocalCacheTTL),
		logger:    logger,
		cfg:       cfg,
	}
}

// CreateLink allocates a short code and stores a new link record.
func (s *LinkService) CreateLink(ctx context.Context, req *models.CreateLinkRequest) (*models.CreateLinkResult, error) {
	originURL := validator.SanitizeURL(req.OriginURL)
	if err := s.validator.ValidateURL(originURL); err != nil {
		return nil, models.ErrValidation(err.Error())
	}
	if req.GroupID == "" {
		return nil, models.ErrValidation("group id is required")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && req.ValidUntil.Before(*req.ValidFrom) {
		return nil, models.ErrValidation("validity window ends before it starts")
	}

	domain := req.Domain
	if domain == "" {
		domain = s.cfg.Domain
	}

	code, err := s.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	link := &models.Link{
		GroupID:    req.GroupID,
		ShortURL:   code,
		OriginURL:  originURL,
		CreatedAt:  now,
		UpdatedAt:  now,
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		Enabled:    true,
	}

	if err := s.linkRepo.Create(ctx, link); err != nil {
		return nil, err
	}

	// The membership set backs the resolver's negative pre-filter; a missed
	// add only costs this code its pre-filter short-circuit, so it is not
	// fatal.
	if err := s.cache.SetAdd(ctx, codesSetKey, code); err != nil {
		s.logger.Warn("failed to register code in membership set",
			zap.String("short_url", code), zap.Error(err))
	}

	// Warm the positive cache so the first redirect skips the cold path.
	if err := s.cache.Set(ctx, gotoKeyPrefix+code, originURL, s.cacheTTL(link, now)); err != nil {
		s.logger.Warn("failed to warm cache for new link",
			zap.String("short_url", code), zap.Error(err))
	}

	return &models.CreateLinkResult{
		GroupID:      req.GroupID,
		OriginURL:    originURL,
		FullShortURL: fmt.Sprintf("%s/%s", strings.TrimRight(domain, "/"), code),
	}, nil
}

// allocateCode issues a fresh short code, retrying a bounded number of times
// against the membership set before giving up.
func (s *LinkService) allocateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < s.cfg.CreateRetries; attempt++ {
		code, err := s.allocator.Next(ctx)
		if err != nil {
			// Counter unreachable: fatal for this attempt, never fabricate.
			return "", models.ErrSequence("short code allocation failed", err)
		}

		taken, err := s.cache.SetContains(ctx, codesSetKey, code)
		if err != nil {
			s.logger.Warn("membership pre-check unavailable, trusting allocator",
				zap.Error(err))
			return code, nil
		}
		if !taken {
			return code, nil
		}
	}
	return "", models.ErrConflict("failed to generate a unique short code")
}

// Resolve maps a short code to its origin URL and emits an access event on
// every successful resolution. The emission never blocks the response.
func (s *LinkService) Resolve(ctx context.Context, code string, visit *Visit) (string, error) {
	if !isPlausibleCode(code) {
		return "", models.ErrLinkNotFound
	}

	// Tier 1: in-process cache.
	if origin, ok := s.local.Get(code); ok {
		s.emit(ctx, code, visit)
		return origin.(string), nil
	}

	// Tier 2: distributed cache.
	origin, err := s.cache.Get(ctx, gotoKeyPrefix+code)
	if err == nil {
		s.local.SetDefault(code, origin)
		s.emit(ctx, code, visit)
		return origin, nil
	}
	if !errors.Is(err, interfaces.ErrCacheMiss) {
		// Cache store unreachable: degrade to Postgres so redirects keep
		// working, skipping the cache-backed guards.
		s.logger.Error("distributed cache unavailable, falling through",
			zap.String("short_url", code), zap.Error(err))
		return s.resolveFromDB(ctx, code, visit, false)
	}

	// Tier 3: negative pre-filter. Either half alone can be stale for an
	// issued code: the allocator's high-water mark lags segments fetched by
	// sibling instances, and a failed membership add is tolerated at create
	// time. Only their agreement confirms absence without touching Postgres.
	if !s.allocator.MightExist(code) {
		if member, err := s.cache.SetContains(ctx, codesSetKey, code); err == nil && !member {
			return "", models.ErrLinkNotFound
		}
	}

	// Tier 4: tombstone.
	if s.hasTombstone(ctx, code) {
		return "", models.ErrLinkNotFound
	}

	// Cold path: per-key mutex, then double-checked re-reads.
	release, err := s.locks.Lock(ctx, "goto:"+code)
	if err != nil {
		return "", models.ErrCache("failed to acquire load lock", err)
	}
	defer release()

	origin, err = s.cache.Get(ctx, gotoKeyPrefix+code)
	if err == nil {
		// A contending request populated the cache while we waited.
		s.local.SetDefault(code, origin)
		s.emit(ctx, code, visit)
		return origin, nil
	}
	if s.hasTombstone(ctx, code) {
		return "", models.ErrLinkNotFound
	}

	return s.resolveFromDB(ctx, code, visit, true)
}

// resolveFromDB reads Postgres and, when allowed, writes the cache entry or
// tombstone for the outcome. The caller holds the per-key mutex when
// populate is true.
func (s *LinkService) resolveFromDB(ctx context.Context, code string, visit *Visit, populate bool) (string, error) {
	link, err := s.linkRepo.GetByShortCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrLinkNotFound) && populate {
			s.writeTombstone(ctx, code)
		}
		return "", err
	}

	now := time.Now()
	if !link.IsValidNow(now) {
		if populate {
			s.writeTombstone(ctx, code)
		}
		return "", models.ErrLinkExpired
	}

	if populate {
		if err := s.cache.Set(ctx, gotoKeyPrefix+code, link.OriginURL, s.cacheTTL(link, now)); err != nil {
			s.logger.Warn("failed to populate cache",
				zap.String("short_url", code), zap.Error(err))
		}
	}
	s.local.SetDefault(code, link.OriginURL)

	s.emit(ctx, code, visit)
	return link.OriginURL, nil
}

// MoveLinkGroup reassigns a link to another group. It holds the write side of
// the per-code read/write lock so in-flight stats updates (which hold the
// read side) never land against a mid-flight group change.
func (s *LinkService) MoveLinkGroup(ctx context.Context, code, gid string) error {
	if !isPlausibleCode(code) {
		return models.ErrLinkNotFound
	}
	if gid == "" {
		return models.ErrValidation("group id is required")
	}

	release, err := s.locks.WLock(ctx, "link:"+code)
	if err != nil {
		return models.ErrCache("failed to acquire group lock", err)
	}
	defer release()

	return s.linkRepo.UpdateGroup(ctx, code, gid)
}

// DeleteLink soft deletes a link and invalidates its cache entries.
func (s *LinkService) DeleteLink(ctx context.Context, code string) error {
	if !isPlausibleCode(code) {
		return models.ErrLinkNotFound
	}

	if err := s.linkRepo.Delete(ctx, code); err != nil {
		return err
	}

	s.local.Delete(code)
	if err := s.cache.Delete(ctx, gotoKeyPrefix+code); err != nil {
		s.logger.Warn("failed to invalidate cache for deleted link",
			zap.String("short_url", code), zap.Error(err))
	}
	s.writeTombstone(ctx, code)

	return nil
}

// NotFoundURL returns the page clients are redirected to for unknown codes.
func (s *LinkService) NotFoundURL() string {
	return s.cfg.NotFoundURL
}

// cacheTTL bounds a positive cache entry by the link's remaining validity,
// capped at the configured ceiling.
func (s *LinkService) cacheTTL(link *models.Link, now time.Time) time.Duration {
	ttl := s.cfg.CacheTTLCeiling
	if link.ValidUntil != nil {
		if remaining := link.ValidUntil.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}
	return ttl
}

func (s *LinkService) hasTombstone(ctx context.Context, code string) bool {
	_, err := s.cache.Get(ctx, nullKeyPrefix+code)
	return err == nil
}

func (s *LinkService) writeTombstone(ctx context.Context, code string) {
	if err := s.cache.Set(ctx, nullKeyPrefix+code, tombstoneValue, s.cfg.TombstoneTTL); err != nil {
		s.logger.Warn("failed to write tombstone",
			zap.String("short_url", code), zap.Error(err))
	}
}

// emit hands the access event to the producer. The sink swallows failures,
// so the redirect path never waits on analytics.
func (s *LinkService) emit(ctx context.Context, code string, visit *Visit) {
	if s.sink == nil || visit == nil {
		return
	}

	ua := useragent.Parse(visit.UserAgent)
	eventTime := visit.Time
	if eventTime.IsZero() {
		eventTime = time.Now()
	}

	s.sink.Emit(ctx, &models.AccessEvent{
		ShortURL:  code,
		Visitor:   visit.Visitor,
		IP:        visit.IP,
		OS:        ua.OS,
		Browser:   ua.Browser,
		Device:    ua.Device,
		EventTime: eventTime,
	})
}

// isPlausibleCode filters obviously malformed codes before any cache work:
// at most 8 characters, alphanumeric only.
func isPlausibleCode(code string) bool {
	if code == "" || len(code) > 8 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
