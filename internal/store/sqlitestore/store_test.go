package sqlitestore

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/studyloop/drift/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	documentStore, err := New(Config{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return documentStore
}

func TestWriteAtomicCreateAndGet(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	err := documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("posts", "post-1", store.Fields{
			"title":     "hello",
			"likes":     int64(0),
			"likedBy":   []any{},
			"timestamp": store.ServerTimestamp(),
		}),
	})
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	snapshot, err := documentStore.Get(ctx, "posts", "post-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !snapshot.Exists {
		t.Fatalf("expected document to exist")
	}
	if snapshot.Data()["title"] != "hello" {
		t.Fatalf("unexpected title: %v", snapshot.Data()["title"])
	}
	if _, ok := snapshot.Data()["timestamp"].(float64); !ok {
		t.Fatalf("expected server timestamp to resolve to a number, got %T", snapshot.Data()["timestamp"])
	}
}

func TestGetMissingDocumentReportsNotExists(t *testing.T) {
	documentStore := newTestStore(t)

	snapshot, err := documentStore.Get(context.Background(), "posts", "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Exists {
		t.Fatalf("expected missing document")
	}
}

func TestWriteAtomicRollsBackOnFailure(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	// Second operation targets a missing document; the create must not
	// be observable afterwards.
	err := documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("posts/post-1/comments", "comment-1", store.Fields{
			"text":      "first",
			"timestamp": store.ServerTimestamp(),
		}),
		store.UpdateOperation("posts", "missing-post", store.Fields{
			"comments": store.Increment(1),
		}),
	})
	if err == nil {
		t.Fatalf("expected write to fail")
	}

	snapshot, err := documentStore.Get(ctx, "posts/post-1/comments", "comment-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if snapshot.Exists {
		t.Fatalf("partial application observable: comment created despite failed counter update")
	}
}

func TestFieldOperatorsResolveTogether(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	err := documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("posts", "post-1", store.Fields{
			"likes":   int64(0),
			"likedBy": []any{},
		}),
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}

	err = documentStore.WriteAtomic(ctx, []store.Operation{
		store.UpdateOperation("posts", "post-1", store.Fields{
			"likes":   store.Increment(1),
			"likedBy": store.ArrayUnion("user-1"),
		}),
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	// Union is idempotent for an element already present.
	err = documentStore.WriteAtomic(ctx, []store.Operation{
		store.UpdateOperation("posts", "post-1", store.Fields{
			"likedBy": store.ArrayUnion("user-1"),
		}),
	})
	if err != nil {
		t.Fatalf("unexpected second update error: %v", err)
	}

	snapshot, err := documentStore.Get(ctx, "posts", "post-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	likes, _ := numericValue(snapshot.Data()["likes"])
	if likes != 1 {
		t.Fatalf("expected likes=1, got %v", snapshot.Data()["likes"])
	}
	likedBy, _ := snapshot.Data()["likedBy"].([]any)
	if len(likedBy) != 1 || likedBy[0] != "user-1" {
		t.Fatalf("unexpected likedBy: %v", snapshot.Data()["likedBy"])
	}

	err = documentStore.WriteAtomic(ctx, []store.Operation{
		store.UpdateOperation("posts", "post-1", store.Fields{
			"likes":   store.Increment(-1),
			"likedBy": store.ArrayRemove("user-1"),
		}),
	})
	if err != nil {
		t.Fatalf("unexpected removal error: %v", err)
	}
	snapshot, err = documentStore.Get(ctx, "posts", "post-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	likes, _ = numericValue(snapshot.Data()["likes"])
	if likes != 0 {
		t.Fatalf("expected likes=0 after removal, got %v", snapshot.Data()["likes"])
	}
}

func TestQueryFiltersAndOrders(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	seed := []struct {
		id        string
		mode      string
		timestamp int64
	}{
		{id: "c", mode: "online", timestamp: 3},
		{id: "a", mode: "online", timestamp: 1},
		{id: "b", mode: "offline", timestamp: 2},
	}
	for _, doc := range seed {
		err := documentStore.WriteAtomic(ctx, []store.Operation{
			store.CreateOperation("events", doc.id, store.Fields{
				"mode":      doc.mode,
				"timestamp": doc.timestamp,
			}),
		})
		if err != nil {
			t.Fatalf("unexpected seed error: %v", err)
		}
	}

	snapshots, err := documentStore.Query(ctx, "events",
		[]store.Filter{{Field: "mode", Op: store.FilterOpEqual, Value: "online"}},
		&store.Order{Field: "timestamp"})
	if err != nil {
		t.Fatalf("unexpected query error: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(snapshots))
	}
	if snapshots[0].ID != "a" || snapshots[1].ID != "c" {
		t.Fatalf("unexpected order: %s, %s", snapshots[0].ID, snapshots[1].ID)
	}
}

func TestSubscribeDeliversSeedAndChanges(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	err := documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("meetings/m-1/messages", "msg-1", store.Fields{
			"text":      "Chat started",
			"timestamp": int64(1),
		}),
	})
	if err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	var mu sync.Mutex
	var received []store.Event
	batchArrived := make(chan struct{}, 8)

	unsubscribe, err := documentStore.Subscribe(ctx, "meetings/m-1/messages", &store.Order{Field: "timestamp"},
		func(events []store.Event) {
			mu.Lock()
			received = append(received, events...)
			mu.Unlock()
			batchArrived <- struct{}{}
		}, nil)
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	defer unsubscribe()

	waitForBatch(t, batchArrived)

	err = documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("meetings/m-1/messages", "msg-2", store.Fields{
			"text":      "hello",
			"timestamp": int64(2),
		}),
	})
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	waitForBatch(t, batchArrived)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("expected seed plus one change, got %d events", len(received))
	}
	if received[0].ID != "msg-1" || received[0].Change != store.ChangeTypeAdded {
		t.Fatalf("unexpected seed event: %+v", received[0])
	}
	if received[1].ID != "msg-2" || received[1].Change != store.ChangeTypeAdded {
		t.Fatalf("unexpected change event: %+v", received[1])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	documentStore := newTestStore(t)
	ctx := context.Background()

	delivered := make(chan struct{}, 8)
	unsubscribe, err := documentStore.Subscribe(ctx, "rooms", nil,
		func(events []store.Event) {
			delivered <- struct{}{}
		}, nil)
	if err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}

	unsubscribe()

	err = documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("rooms", "room-1", store.Fields{"code": "AAAA-BBBB"}),
	})
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	select {
	case <-delivered:
		t.Fatal("did not expect delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func waitForBatch(t *testing.T, arrived <-chan struct{}) {
	t.Helper()
	select {
	case <-arrived:
	case <-time.After(time.Second):
		t.Fatal("expected event batch within deadline")
	}
}
