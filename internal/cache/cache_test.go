package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type listingPayload struct {
	Title string `json:"title"`
}

func newTestCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate cache schema: %v", err)
	}
	cacheInstance, err := New(Config{
		Database:   db,
		StorageKey: "hackathons",
		TTL:        60 * time.Minute,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct cache: %v", err)
	}
	return cacheInstance
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func decodePayload(t *testing.T, raw json.RawMessage) []listingPayload {
	t.Helper()
	var payload []listingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed to decode cached payload: %v", err)
	}
	return payload
}

func TestReadReturnsFreshEntryForSamePartition(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	cacheInstance := newTestCache(t, clock)
	ctx := context.Background()

	cacheInstance.Write(ctx, "india", []listingPayload{{Title: "DevFest"}})

	result, ok := cacheInstance.Read(ctx, "india")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if !result.SamePartition {
		t.Fatalf("expected same partition")
	}
	payload := decodePayload(t, result.Payload)
	if len(payload) != 1 || payload[0].Title != "DevFest" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestReadReportsPartitionMismatchDistinctly(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	cacheInstance := newTestCache(t, clock)
	ctx := context.Background()

	cacheInstance.Write(ctx, "india", []listingPayload{{Title: "DevFest"}})

	result, ok := cacheInstance.Read(ctx, "berlin")
	if !ok {
		t.Fatalf("expected cache hit despite partition mismatch")
	}
	if result.SamePartition {
		t.Fatalf("expected partition mismatch to be reported")
	}
	payload := decodePayload(t, result.Payload)
	if len(payload) != 1 || payload[0].Title != "DevFest" {
		t.Fatalf("expected stored payload to survive partition mismatch, got %#v", payload)
	}
}

func TestReadExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	cacheInstance := newTestCache(t, clock)
	ctx := context.Background()

	cacheInstance.Write(ctx, "india", []listingPayload{{Title: "DevFest"}})

	clock.Advance(60 * time.Minute)
	if _, ok := cacheInstance.Read(ctx, "india"); !ok {
		t.Fatalf("expected entry exactly at the TTL boundary to still be fresh")
	}

	clock.Advance(time.Millisecond)
	if _, ok := cacheInstance.Read(ctx, "india"); ok {
		t.Fatalf("expected entry past the TTL boundary to be stale")
	}
}

func TestClearRemovesEntry(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	cacheInstance := newTestCache(t, clock)
	ctx := context.Background()

	cacheInstance.Write(ctx, "india", []listingPayload{{Title: "DevFest"}})
	cacheInstance.Clear(ctx)

	if _, ok := cacheInstance.Read(ctx, "india"); ok {
		t.Fatalf("expected miss after clear")
	}

	// Clearing again is a no-op.
	cacheInstance.Clear(ctx)
}

func TestWriteOverwritesPreviousEntry(t *testing.T) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	cacheInstance := newTestCache(t, clock)
	ctx := context.Background()

	cacheInstance.Write(ctx, "india", []listingPayload{{Title: "DevFest"}})
	cacheInstance.Write(ctx, "berlin", []listingPayload{{Title: "HackWeek"}})

	result, ok := cacheInstance.Read(ctx, "berlin")
	if !ok {
		t.Fatalf("expected hit after overwrite")
	}
	if !result.SamePartition {
		t.Fatalf("expected overwritten partition key to win")
	}
	payload := decodePayload(t, result.Payload)
	if len(payload) != 1 || payload[0].Title != "HackWeek" {
		t.Fatalf("expected last write to win, got %#v", payload)
	}
}
