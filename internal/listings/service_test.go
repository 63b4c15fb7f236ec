package listings

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/studyloop/drift/internal/cache"
)

type stubFetcher struct {
	results []func() (FetchResult, error)
	calls   int
	forced  []bool
}

func (f *stubFetcher) Fetch(_ context.Context, _ string, force bool) (FetchResult, error) {
	f.forced = append(f.forced, force)
	index := f.calls
	f.calls++
	if index >= len(f.results) {
		index = len(f.results) - 1
	}
	return f.results[index]()
}

func successWith(listings ...Listing) func() (FetchResult, error) {
	return func() (FetchResult, error) {
		return FetchResult{Success: true, Listings: listings}, nil
	}
}

func rejectedWith(message string) func() (FetchResult, error) {
	return func() (FetchResult, error) {
		return FetchResult{Message: message}, nil
	}
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time { return c.current }

func (c *fakeClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := cache.Migrate(db); err != nil {
		t.Fatalf("failed to migrate cache table: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, fetcher Fetcher, clock *fakeClock, location string) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Fetcher:    fetcher,
		Database:   db,
		Location:   location,
		RetryDelay: 5 * time.Millisecond,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestGetRetriesRejectedFetchThenSucceeds(t *testing.T) {
	fetcher := &stubFetcher{results: []func() (FetchResult, error){
		rejectedWith("still scraping"),
		successWith(Listing{ID: "1", Title: "Success"}),
	}}
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	service := newTestService(t, newTestDatabase(t), fetcher, clock, "India")

	listings, err := service.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected exactly 2 fetch calls, got %d", fetcher.calls)
	}
	if len(listings) != 1 || listings[0].Title != "Success" {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}

func TestGetServesFreshCacheWithoutFetching(t *testing.T) {
	fetcher := &stubFetcher{results: []func() (FetchResult, error){
		successWith(Listing{ID: "1", Title: "cached"}),
	}}
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	service := newTestService(t, newTestDatabase(t), fetcher, clock, "India")
	ctx := context.Background()

	if _, err := service.Get(ctx, false); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	listings, err := service.Get(ctx, false)
	if err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected cache to absorb the second read, got %d fetch calls", fetcher.calls)
	}
	if len(listings) != 1 || listings[0].Title != "cached" {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}

func TestGetRefetchesWhenCacheExpires(t *testing.T) {
	fetcher := &stubFetcher{results: []func() (FetchResult, error){
		successWith(Listing{ID: "1", Title: "first"}),
	}}
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	service := newTestService(t, newTestDatabase(t), fetcher, clock, "India")
	ctx := context.Background()

	if _, err := service.Get(ctx, false); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	clock.Advance(cache.DefaultTTL + time.Millisecond)
	if _, err := service.Get(ctx, false); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected expiry to force a refetch, got %d fetch calls", fetcher.calls)
	}
}

func TestGetRefetchesOnLocationChange(t *testing.T) {
	fetcher := &stubFetcher{results: []func() (FetchResult, error){
		successWith(Listing{ID: "1", Title: "first"}),
	}}
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	db := newTestDatabase(t)
	ctx := context.Background()

	india := newTestService(t, db, fetcher, clock, "India")
	if _, err := india.Get(ctx, false); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}

	remote := newTestService(t, db, fetcher, clock, "Online")
	if _, err := remote.Get(ctx, false); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected location change to bypass the cache, got %d fetch calls", fetcher.calls)
	}
}

func TestGetDoesNotRetryTransportFaults(t *testing.T) {
	fault := errors.New("connection reset")
	fetcher := &stubFetcher{results: []func() (FetchResult, error){
		func() (FetchResult, error) { return FetchResult{}, fault },
	}}
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	service := newTestService(t, newTestDatabase(t), fetcher, clock, "India")

	_, err := service.Get(context.Background(), false)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, fault) {
		t.Fatalf("expected wrapped transport fault, got %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected no retry on transport fault, got %d fetch calls", fetcher.calls)
	}
}

func TestRefreshClearsCacheAndForcesFetch(t *testing.T) {
	fetcher := &stubFetcher{results: []func() (FetchResult, error){
		successWith(Listing{ID: "1", Title: "first"}),
		successWith(Listing{ID: "2", Title: "second"}),
	}}
	clock := &fakeClock{current: time.Unix(1_700_000_000, 0)}
	service := newTestService(t, newTestDatabase(t), fetcher, clock, "India")
	ctx := context.Background()

	if _, err := service.Get(ctx, false); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	listings, err := service.Refresh(ctx)
	if err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected refresh to fetch again, got %d fetch calls", fetcher.calls)
	}
	if !fetcher.forced[1] {
		t.Fatal("expected refresh fetch to be forced")
	}
	if len(listings) != 1 || listings[0].Title != "second" {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}
