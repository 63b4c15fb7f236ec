package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/store"
)

const (
	collectionUsers  = "users"
	defaultAvatarURL = "default_avatar_url"
)

var (
	// ErrProfileNotFound indicates the user document does not exist.
	ErrProfileNotFound = errors.New("users: profile not found")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("users: invalid user id")
	errMissingStore  = errors.New("users: document store is required")
)

// Profile carries the actor data written alongside comments and messages.
type Profile struct {
	UserID    string
	Username  string
	AvatarURL string
}

// ResolverConfig bundles resolver construction parameters.
type ResolverConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// Resolver resolves actor profiles from the users collection, memoizing
// lookups for the process lifetime.
type Resolver struct {
	store  store.Store
	logger *zap.Logger
	cache  sync.Map
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: cfg.Store, logger: logger}, nil
}

// Resolve returns the profile for the given user id.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Profile, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return Profile{}, ErrInvalidUserID
	}

	if cached, ok := r.cache.Load(trimmed); ok {
		if profile, ok := cached.(Profile); ok {
			return profile, nil
		}
	}

	snapshot, err := r.store.Get(ctx, collectionUsers, trimmed)
	if err != nil {
		return Profile{}, fmt.Errorf("users: profile lookup failed: %w", err)
	}
	if !snapshot.Exists {
		return Profile{}, ErrProfileNotFound
	}

	profile := profileFromFields(trimmed, snapshot.Data())
	r.cache.Store(trimmed, profile)
	return profile, nil
}

// Provision creates or refreshes the user document for a verified identity
// and updates the memoized entry.
func (r *Resolver) Provision(ctx context.Context, profile Profile) error {
	trimmed := strings.TrimSpace(profile.UserID)
	if trimmed == "" {
		return ErrInvalidUserID
	}
	if profile.AvatarURL == "" {
		profile.AvatarURL = defaultAvatarURL
	}

	fields := store.Fields{
		"username":  profile.Username,
		"image":     profile.AvatarURL,
		"updatedAt": store.ServerTimestamp(),
	}

	snapshot, err := r.store.Get(ctx, collectionUsers, trimmed)
	if err != nil {
		return fmt.Errorf("users: provision lookup failed: %w", err)
	}
	operation := store.CreateOperation(collectionUsers, trimmed, fields)
	if snapshot.Exists {
		operation = store.UpdateOperation(collectionUsers, trimmed, fields)
	} else {
		fields["savedPosts"] = []any{}
	}
	if err := r.store.WriteAtomic(ctx, []store.Operation{operation}); err != nil {
		return fmt.Errorf("users: provision write failed: %w", err)
	}

	profile.UserID = trimmed
	r.cache.Store(trimmed, profile)
	r.logger.Debug("user profile provisioned", zap.String("user_id", trimmed))
	return nil
}

func profileFromFields(userID string, fields store.Fields) Profile {
	profile := Profile{UserID: userID, AvatarURL: defaultAvatarURL}
	if username, ok := fields["username"].(string); ok {
		profile.Username = username
	}
	if image, ok := fields["image"].(string); ok && image != "" {
		profile.AvatarURL = image
	}
	return profile
}
