package listings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studyloop/drift/internal/cache"
	"github.com/studyloop/drift/internal/retry"
)

const listingsStorageKey = "event_listings"

var (
	errMissingFetcher  = errors.New("listings: fetcher is required")
	errMissingDatabase = errors.New("listings: database is required")
)

// ServiceConfig bundles service construction parameters.
type ServiceConfig struct {
	Fetcher     Fetcher
	Database    *gorm.DB
	Location    string
	TTL         time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service serves event listings through a TTL cache partitioned by location,
// retrying rejected fetches on a fixed delay. The cache is best-effort; a
// cache fault degrades to a remote fetch, never to an error.
type Service struct {
	fetcher  Fetcher
	cache    *cache.Cache
	retries  *retry.Coordinator
	location string
	logger   *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	entryCache, err := cache.New(cache.Config{
		Database:   cfg.Database,
		StorageKey: listingsStorageKey,
		TTL:        cfg.TTL,
		Clock:      cfg.Clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("listings: cache setup failed: %w", err)
	}
	return &Service{
		fetcher: cfg.Fetcher,
		cache:   entryCache,
		retries: retry.NewCoordinator(retry.Config{
			MaxAttempts: cfg.MaxAttempts,
			Delay:       cfg.RetryDelay,
			Logger:      logger,
		}),
		location: cfg.Location,
		logger:   logger,
	}, nil
}

// Get returns the current listings, from cache when fresh and for the same
// location, otherwise from the backend. force bypasses the cache read and
// asks the backend to regenerate.
func (s *Service) Get(ctx context.Context, force bool) ([]Listing, error) {
	if !force {
		if hit, ok := s.cache.Read(ctx, s.location); ok && hit.SamePartition {
			var cached []Listing
			if err := json.Unmarshal(hit.Payload, &cached); err == nil {
				s.logger.Debug("serving cached listings", zap.Int("count", len(cached)))
				return cached, nil
			}
			s.logger.Warn("discarding undecodable listings cache entry")
		}
	}

	var fetched []Listing
	outcome, err := s.retries.Run(ctx, func(ctx context.Context) (retry.Outcome, error) {
		result, err := s.fetcher.Fetch(ctx, s.location, force)
		if err != nil {
			return retry.Outcome{}, err
		}
		if !result.Success {
			return retry.Outcome{Error: result.Message}, nil
		}
		fetched = result.Listings
		return retry.Outcome{Success: true}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("listings: fetch failed: %w", err)
	}
	if !outcome.Success {
		if outcome.Error != "" {
			return nil, fmt.Errorf("listings: backend rejected fetch: %s", outcome.Error)
		}
		return nil, errors.New("listings: backend rejected fetch")
	}

	s.cache.Write(ctx, s.location, fetched)
	return fetched, nil
}

// Refresh drops the cache and forces a fetch from the backend.
func (s *Service) Refresh(ctx context.Context) ([]Listing, error) {
	s.cache.Clear(ctx)
	return s.Get(ctx, true)
}
