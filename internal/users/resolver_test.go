package users

import (
	"context"
	"errors"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/studyloop/drift/internal/store"
	"github.com/studyloop/drift/internal/store/sqlitestore"
)

func newTestResolver(t *testing.T) (*Resolver, store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	documentStore, err := sqlitestore.New(sqlitestore.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	resolver, err := NewResolver(ResolverConfig{Store: documentStore})
	if err != nil {
		t.Fatalf("failed to construct resolver: %v", err)
	}
	return resolver, documentStore
}

func TestResolveReturnsStoredProfile(t *testing.T) {
	resolver, documentStore := newTestResolver(t)
	ctx := context.Background()

	err := documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("users", "user-1", store.Fields{
			"username": "ada",
			"image":    "https://example.com/ada.png",
		}),
	})
	if err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	profile, err := resolver.Resolve(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if profile.Username != "ada" {
		t.Fatalf("unexpected username: %q", profile.Username)
	}
	if profile.AvatarURL != "https://example.com/ada.png" {
		t.Fatalf("unexpected avatar: %q", profile.AvatarURL)
	}
}

func TestResolveMissingProfile(t *testing.T) {
	resolver, _ := newTestResolver(t)

	_, err := resolver.Resolve(context.Background(), "ghost")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestResolveDefaultsMissingAvatar(t *testing.T) {
	resolver, documentStore := newTestResolver(t)
	ctx := context.Background()

	err := documentStore.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation("users", "user-2", store.Fields{"username": "bob"}),
	})
	if err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	profile, err := resolver.Resolve(ctx, "user-2")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if profile.AvatarURL != defaultAvatarURL {
		t.Fatalf("expected default avatar, got %q", profile.AvatarURL)
	}
}

func TestProvisionCreatesAndUpdates(t *testing.T) {
	resolver, documentStore := newTestResolver(t)
	ctx := context.Background()

	err := resolver.Provision(ctx, Profile{UserID: "user-3", Username: "carol"})
	if err != nil {
		t.Fatalf("unexpected provision error: %v", err)
	}

	snapshot, err := documentStore.Get(ctx, "users", "user-3")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if !snapshot.Exists {
		t.Fatalf("expected user document to exist")
	}
	if _, ok := snapshot.Data()["savedPosts"].([]any); !ok {
		t.Fatalf("expected fresh profile to carry an empty savedPosts list")
	}

	err = resolver.Provision(ctx, Profile{UserID: "user-3", Username: "caroline"})
	if err != nil {
		t.Fatalf("unexpected second provision error: %v", err)
	}
	profile, err := resolver.Resolve(ctx, "user-3")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if profile.Username != "caroline" {
		t.Fatalf("expected refreshed username, got %q", profile.Username)
	}
}
