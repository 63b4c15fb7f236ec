package posts

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/optimistic"
	"github.com/studyloop/drift/internal/store"
)

const (
	collectionPosts = "posts"
	collectionUsers = "users"

	fieldLikes      = "likes"
	fieldLikedBy    = "likedBy"
	fieldSavedPosts = "savedPosts"

	messageNotAuthenticated = "User not authenticated"
	messagePostNotFound     = "Post not found"
	messageUserDocNotFound  = "User document not found"
	messageLikeFailed       = "Failed to update like status"
	messageSaveFailed       = "Failed to save post"
)

var errMissingStore = errors.New("posts: document store is required")

// ServiceConfig bundles service construction parameters.
type ServiceConfig struct {
	Store  store.Store
	Logger *zap.Logger
}

// Service implements the remote side of post like/save toggles against the
// document store. These calls report rejection through the result shape,
// never through a returned error, so the optimistic layer can treat an error
// as a transport fault.
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// LikeResult is the application-level outcome of a like toggle. Liked is the
// authoritative final state.
type LikeResult struct {
	Success bool
	Liked   bool
	Error   string
}

// SaveResult is the application-level outcome of a save toggle. Saved is the
// authoritative final state.
type SaveResult struct {
	Success bool
	Saved   bool
	Error   string
}

// CreateResult is the outcome of creating a post.
type CreateResult struct {
	Success bool
	PostID  string
	Error   string
}

// CreatePost inserts a post document with zeroed engagement counters.
func (s *Service) CreatePost(ctx context.Context, actorID, title, text string) CreateResult {
	if strings.TrimSpace(actorID) == "" {
		return CreateResult{Error: messageNotAuthenticated}
	}
	postID, err := s.store.NewID()
	if err != nil {
		s.logger.Error("post id generation failed", zap.Error(err))
		return CreateResult{Error: "Failed to create post"}
	}
	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation(collectionPosts, postID, store.Fields{
			"userId":    actorID,
			"title":     title,
			"text":      text,
			fieldLikes:  int64(0),
			fieldLikedBy: []any{},
			"comments":  int64(0),
			"timestamp": store.ServerTimestamp(),
		}),
	})
	if err != nil {
		s.logger.Error("post create failed", zap.String("post_id", postID), zap.Error(err))
		return CreateResult{Error: "Failed to create post"}
	}
	return CreateResult{Success: true, PostID: postID}
}

// LikePost toggles the actor's like on the post. The likedBy membership and
// the likes counter move together in one atomic write.
func (s *Service) LikePost(ctx context.Context, actorID, postID string) LikeResult {
	if strings.TrimSpace(actorID) == "" {
		return LikeResult{Error: messageNotAuthenticated}
	}

	snapshot, err := s.store.Get(ctx, collectionPosts, postID)
	if err != nil {
		s.logger.Error("post lookup failed", zap.String("post_id", postID), zap.Error(err))
		return LikeResult{Error: messageLikeFailed}
	}
	if !snapshot.Exists {
		return LikeResult{Error: messagePostNotFound}
	}

	liked := arrayHas(snapshot.Data()[fieldLikedBy], actorID)
	var operation store.Operation
	if liked {
		operation = store.UpdateOperation(collectionPosts, postID, store.Fields{
			fieldLikedBy: store.ArrayRemove(actorID),
			fieldLikes:   store.Increment(-1),
		})
	} else {
		operation = store.UpdateOperation(collectionPosts, postID, store.Fields{
			fieldLikedBy: store.ArrayUnion(actorID),
			fieldLikes:   store.Increment(1),
		})
	}
	if err := s.store.WriteAtomic(ctx, []store.Operation{operation}); err != nil {
		s.logger.Error("like toggle failed", zap.String("post_id", postID), zap.Error(err))
		return LikeResult{Error: messageLikeFailed}
	}
	return LikeResult{Success: true, Liked: !liked}
}

// SavePost toggles the post's membership in the actor's savedPosts list.
func (s *Service) SavePost(ctx context.Context, actorID, postID string) SaveResult {
	if strings.TrimSpace(actorID) == "" {
		return SaveResult{Error: messageNotAuthenticated}
	}

	userSnapshot, err := s.store.Get(ctx, collectionUsers, actorID)
	if err != nil {
		s.logger.Error("user lookup failed", zap.String("user_id", actorID), zap.Error(err))
		return SaveResult{Error: messageSaveFailed}
	}
	if !userSnapshot.Exists {
		return SaveResult{Error: messageUserDocNotFound}
	}

	postSnapshot, err := s.store.Get(ctx, collectionPosts, postID)
	if err != nil {
		s.logger.Error("post lookup failed", zap.String("post_id", postID), zap.Error(err))
		return SaveResult{Error: messageSaveFailed}
	}
	if !postSnapshot.Exists {
		return SaveResult{Error: messagePostNotFound}
	}

	saved := arrayHas(userSnapshot.Data()[fieldSavedPosts], postID)
	var operation store.Operation
	if saved {
		operation = store.UpdateOperation(collectionUsers, actorID, store.Fields{
			fieldSavedPosts: store.ArrayRemove(postID),
		})
	} else {
		operation = store.UpdateOperation(collectionUsers, actorID, store.Fields{
			fieldSavedPosts: store.ArrayUnion(postID),
		})
	}
	if err := s.store.WriteAtomic(ctx, []store.Operation{operation}); err != nil {
		s.logger.Error("save toggle failed", zap.String("post_id", postID), zap.Error(err))
		return SaveResult{Error: messageSaveFailed}
	}
	return SaveResult{Success: true, Saved: !saved}
}

// IsPostSaved probes the actor's savedPosts list; it backs resolution of a
// flag whose initial state is unknown.
func (s *Service) IsPostSaved(ctx context.Context, actorID, postID string) (bool, error) {
	if strings.TrimSpace(actorID) == "" {
		return false, errors.New("posts: actor id is required")
	}
	snapshot, err := s.store.Get(ctx, collectionUsers, actorID)
	if err != nil {
		return false, err
	}
	if !snapshot.Exists {
		return false, nil
	}
	return arrayHas(snapshot.Data()[fieldSavedPosts], postID), nil
}

// LikeToggle adapts LikePost into the optimistic layer's remote call shape
// for the given actor.
func (s *Service) LikeToggle(actorID string) optimistic.RemoteToggle {
	return func(ctx context.Context, postID string) (optimistic.ToggleOutcome, error) {
		result := s.LikePost(ctx, actorID, postID)
		if !result.Success {
			return optimistic.ToggleOutcome{Error: result.Error}, nil
		}
		liked := result.Liked
		return optimistic.ToggleOutcome{Success: true, Value: &liked}, nil
	}
}

// SaveToggle adapts SavePost into the optimistic layer's remote call shape.
func (s *Service) SaveToggle(actorID string) optimistic.RemoteToggle {
	return func(ctx context.Context, postID string) (optimistic.ToggleOutcome, error) {
		result := s.SavePost(ctx, actorID, postID)
		if !result.Success {
			return optimistic.ToggleOutcome{Error: result.Error}, nil
		}
		saved := result.Saved
		return optimistic.ToggleOutcome{Success: true, Value: &saved}, nil
	}
}

// SaveProbe adapts IsPostSaved into the optimistic layer's probe shape.
func (s *Service) SaveProbe(actorID string) optimistic.Probe {
	return func(ctx context.Context, postID string) (bool, error) {
		return s.IsPostSaved(ctx, actorID, postID)
	}
}

func arrayHas(raw any, element string) bool {
	elements, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, candidate := range elements {
		if candidate == element {
			return true
		}
	}
	return false
}
