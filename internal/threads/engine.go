package threads

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/store"
	"github.com/studyloop/drift/internal/users"
)

const (
	collectionPosts = "posts"
	segmentComments = "comments"
	segmentReplies  = "replies"

	fieldComments = "comments"
	fieldLikes    = "likes"
	fieldLikedBy  = "likedBy"

	messageNotAuthenticated   = "User not authenticated"
	messagePostNotFound       = "Post not found"
	messageCommentNotFound    = "Comment not found"
	messageParentNotFound     = "Parent comment not found"
	messageUserDataNotFound   = "User data not found"
	messageNotAuthorized      = "Not authorized"
	messageAddCommentFailed   = "Failed to add comment"
	messageAddReplyFailed     = "Failed to add reply"
	messageEditFailed         = "Failed to update comment"
	messageDeleteFailed       = "Failed to delete comment"
	messageLikeToggleFailed   = "Failed to update like status"
	messageListCommentsFailed = "Failed to load comments"
)

var (
	errMissingStore    = errors.New("threads: document store is required")
	errMissingProfiles = errors.New("threads: profile resolver is required")
)

// EngineConfig bundles engine construction parameters.
type EngineConfig struct {
	Store    store.Store
	Profiles *users.Resolver
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Engine manages a post's comment tree: top-level comments, one level of
// replies, and per-user like toggles. Every write validates the actor, the
// referenced parent records, and — where profile data is written — the
// actor's profile, then lands as one atomic multi-record operation. Faults
// never escape the engine boundary; they are normalized into the result
// shape with the operation's message.
type Engine struct {
	store    store.Store
	profiles *users.Resolver
	clock    func() time.Time
	logger   *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Profiles == nil {
		return nil, errMissingProfiles
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    cfg.Store,
		profiles: cfg.Profiles,
		clock:    clock,
		logger:   logger,
	}, nil
}

// CommentResult is the uniform outcome of comment-creating operations.
type CommentResult struct {
	Success bool
	Comment *Comment
	Error   string
}

// OperationResult is the uniform outcome of comment mutations.
type OperationResult struct {
	Success bool
	Error   string
}

// ListResult is the outcome of reading a post's comment tree.
type ListResult struct {
	Success  bool
	Comments []Comment
	Error    string
}

// AddComment creates a top-level comment and increments the post's comment
// counter in the same atomic write.
func (e *Engine) AddComment(ctx context.Context, actorID, postID, text string) CommentResult {
	if strings.TrimSpace(actorID) == "" {
		return CommentResult{Error: messageNotAuthenticated}
	}

	postSnapshot, err := e.store.Get(ctx, collectionPosts, postID)
	if err != nil {
		e.logError("threads.add_comment", "post_lookup_failed", err, postID)
		return CommentResult{Error: messageAddCommentFailed}
	}
	if !postSnapshot.Exists {
		return CommentResult{Error: messagePostNotFound}
	}

	profile, err := e.profiles.Resolve(ctx, actorID)
	if errors.Is(err, users.ErrProfileNotFound) {
		return CommentResult{Error: messageUserDataNotFound}
	}
	if err != nil {
		e.logError("threads.add_comment", "profile_lookup_failed", err, postID)
		return CommentResult{Error: messageAddCommentFailed}
	}

	commentsPath, err := store.JoinPath(collectionPosts, postID, segmentComments)
	if err != nil {
		e.logError("threads.add_comment", "path_invalid", err, postID)
		return CommentResult{Error: messageAddCommentFailed}
	}
	commentID, err := e.store.NewID()
	if err != nil {
		e.logError("threads.add_comment", "id_generation_failed", err, postID)
		return CommentResult{Error: messageAddCommentFailed}
	}

	err = e.store.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation(commentsPath, commentID, store.Fields{
			"userId":     profile.UserID,
			"username":   profile.Username,
			"userImage":  profile.AvatarURL,
			"text":       text,
			fieldLikes:   int64(0),
			fieldLikedBy: []any{},
			"replyCount": int64(0),
			"timestamp":  store.ServerTimestamp(),
		}),
		store.UpdateOperation(collectionPosts, postID, store.Fields{
			fieldComments: store.Increment(1),
		}),
	})
	if err != nil {
		e.logError("threads.add_comment", "write_failed", err, postID)
		return CommentResult{Error: messageAddCommentFailed}
	}

	comment := Comment{
		ID:              commentID,
		UserID:          profile.UserID,
		Username:        profile.Username,
		UserImage:       profile.AvatarURL,
		Text:            text,
		LikedBy:         []string{},
		TimestampMillis: e.clock().UTC().UnixMilli(),
	}
	return CommentResult{Success: true, Comment: &comment}
}

// AddReply creates a reply under a top-level comment and increments the
// parent's reply counter in the same atomic write. Replies cannot themselves
// be replied to.
func (e *Engine) AddReply(ctx context.Context, actorID, postID, parentCommentID, text string) CommentResult {
	if strings.TrimSpace(actorID) == "" {
		return CommentResult{Error: messageNotAuthenticated}
	}

	postSnapshot, err := e.store.Get(ctx, collectionPosts, postID)
	if err != nil {
		e.logError("threads.add_reply", "post_lookup_failed", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}
	if !postSnapshot.Exists {
		return CommentResult{Error: messagePostNotFound}
	}

	commentsPath, err := store.JoinPath(collectionPosts, postID, segmentComments)
	if err != nil {
		e.logError("threads.add_reply", "path_invalid", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}
	parentSnapshot, err := e.store.Get(ctx, commentsPath, parentCommentID)
	if err != nil {
		e.logError("threads.add_reply", "parent_lookup_failed", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}
	if !parentSnapshot.Exists {
		return CommentResult{Error: messageParentNotFound}
	}

	profile, err := e.profiles.Resolve(ctx, actorID)
	if errors.Is(err, users.ErrProfileNotFound) {
		return CommentResult{Error: messageUserDataNotFound}
	}
	if err != nil {
		e.logError("threads.add_reply", "profile_lookup_failed", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}

	repliesPath, err := store.JoinPath(collectionPosts, postID, segmentComments, parentCommentID, segmentReplies)
	if err != nil {
		e.logError("threads.add_reply", "path_invalid", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}
	replyID, err := e.store.NewID()
	if err != nil {
		e.logError("threads.add_reply", "id_generation_failed", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}

	err = e.store.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation(repliesPath, replyID, store.Fields{
			"userId":     profile.UserID,
			"username":   profile.Username,
			"userImage":  profile.AvatarURL,
			"text":       text,
			fieldLikes:   int64(0),
			fieldLikedBy: []any{},
			"timestamp":  store.ServerTimestamp(),
		}),
		store.UpdateOperation(commentsPath, parentCommentID, store.Fields{
			"replyCount": store.Increment(1),
		}),
	})
	if err != nil {
		e.logError("threads.add_reply", "write_failed", err, postID)
		return CommentResult{Error: messageAddReplyFailed}
	}

	reply := Comment{
		ID:              replyID,
		UserID:          profile.UserID,
		Username:        profile.Username,
		UserImage:       profile.AvatarURL,
		Text:            text,
		LikedBy:         []string{},
		TimestampMillis: e.clock().UTC().UnixMilli(),
	}
	return CommentResult{Success: true, Comment: &reply}
}

// EditComment replaces a comment's text. Only the comment's author may edit.
func (e *Engine) EditComment(ctx context.Context, actorID, postID, commentID, text string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}

	commentsPath, snapshot, result := e.lookupComment(ctx, "threads.edit_comment", postID, commentID, messageEditFailed)
	if result != nil {
		return *result
	}
	if author, _ := snapshot.Data()["userId"].(string); author != actorID {
		return OperationResult{Error: messageNotAuthorized}
	}

	err := e.store.WriteAtomic(ctx, []store.Operation{
		store.UpdateOperation(commentsPath, commentID, store.Fields{
			"text":     text,
			"edited":   true,
			"editedAt": store.ServerTimestamp(),
		}),
	})
	if err != nil {
		e.logError("threads.edit_comment", "write_failed", err, postID)
		return OperationResult{Error: messageEditFailed}
	}
	return OperationResult{Success: true}
}

// DeleteComment removes a comment together with its replies and decrements
// the post's comment counter, all in one atomic write.
func (e *Engine) DeleteComment(ctx context.Context, actorID, postID, commentID string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}

	commentsPath, snapshot, result := e.lookupComment(ctx, "threads.delete_comment", postID, commentID, messageDeleteFailed)
	if result != nil {
		return *result
	}
	if author, _ := snapshot.Data()["userId"].(string); author != actorID {
		return OperationResult{Error: messageNotAuthorized}
	}

	repliesPath, err := store.JoinPath(collectionPosts, postID, segmentComments, commentID, segmentReplies)
	if err != nil {
		e.logError("threads.delete_comment", "path_invalid", err, postID)
		return OperationResult{Error: messageDeleteFailed}
	}
	replies, err := e.store.Query(ctx, repliesPath, nil, nil)
	if err != nil {
		e.logError("threads.delete_comment", "replies_query_failed", err, postID)
		return OperationResult{Error: messageDeleteFailed}
	}

	operations := make([]store.Operation, 0, len(replies)+2)
	for _, reply := range replies {
		operations = append(operations, store.DeleteOperation(repliesPath, reply.ID))
	}
	operations = append(operations,
		store.DeleteOperation(commentsPath, commentID),
		store.UpdateOperation(collectionPosts, postID, store.Fields{
			fieldComments: store.Increment(-1),
		}),
	)
	if err := e.store.WriteAtomic(ctx, operations); err != nil {
		e.logError("threads.delete_comment", "write_failed", err, postID)
		return OperationResult{Error: messageDeleteFailed}
	}
	return OperationResult{Success: true}
}

// LikeComment toggles the actor's like on a top-level comment. Membership
// and counter always move in the same write; neither is ever inferred from
// the other on a later read.
func (e *Engine) LikeComment(ctx context.Context, actorID, postID, commentID string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}
	commentsPath, snapshot, result := e.lookupComment(ctx, "threads.like_comment", postID, commentID, messageLikeToggleFailed)
	if result != nil {
		return *result
	}
	return e.toggleLike(ctx, "threads.like_comment", commentsPath, commentID, actorID, snapshot)
}

// LikeReply toggles the actor's like on a reply.
func (e *Engine) LikeReply(ctx context.Context, actorID, postID, parentCommentID, replyID string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}

	repliesPath, err := store.JoinPath(collectionPosts, postID, segmentComments, parentCommentID, segmentReplies)
	if err != nil {
		e.logError("threads.like_reply", "path_invalid", err, postID)
		return OperationResult{Error: messageLikeToggleFailed}
	}
	snapshot, err := e.store.Get(ctx, repliesPath, replyID)
	if err != nil {
		e.logError("threads.like_reply", "reply_lookup_failed", err, postID)
		return OperationResult{Error: messageLikeToggleFailed}
	}
	if !snapshot.Exists {
		return OperationResult{Error: messageCommentNotFound}
	}
	return e.toggleLike(ctx, "threads.like_reply", repliesPath, replyID, actorID, snapshot)
}

// ListComments returns the post's comments newest-first, each with its
// replies oldest-first.
func (e *Engine) ListComments(ctx context.Context, postID string) ListResult {
	postSnapshot, err := e.store.Get(ctx, collectionPosts, postID)
	if err != nil {
		e.logError("threads.list_comments", "post_lookup_failed", err, postID)
		return ListResult{Error: messageListCommentsFailed}
	}
	if !postSnapshot.Exists {
		return ListResult{Error: messagePostNotFound}
	}

	commentsPath, err := store.JoinPath(collectionPosts, postID, segmentComments)
	if err != nil {
		e.logError("threads.list_comments", "path_invalid", err, postID)
		return ListResult{Error: messageListCommentsFailed}
	}
	snapshots, err := e.store.Query(ctx, commentsPath, nil, &store.Order{Field: "timestamp", Descending: true})
	if err != nil {
		e.logError("threads.list_comments", "query_failed", err, postID)
		return ListResult{Error: messageListCommentsFailed}
	}

	comments := make([]Comment, 0, len(snapshots))
	for _, snapshot := range snapshots {
		comment := commentFromFields(snapshot.ID, snapshot.Data())
		repliesPath, err := store.JoinPath(collectionPosts, postID, segmentComments, snapshot.ID, segmentReplies)
		if err != nil {
			e.logError("threads.list_comments", "path_invalid", err, postID)
			return ListResult{Error: messageListCommentsFailed}
		}
		replySnapshots, err := e.store.Query(ctx, repliesPath, nil, &store.Order{Field: "timestamp"})
		if err != nil {
			e.logError("threads.list_comments", "replies_query_failed", err, postID)
			return ListResult{Error: messageListCommentsFailed}
		}
		replies := make([]Comment, 0, len(replySnapshots))
		for _, replySnapshot := range replySnapshots {
			replies = append(replies, commentFromFields(replySnapshot.ID, replySnapshot.Data()))
		}
		comment.Replies = replies
		comments = append(comments, comment)
	}
	return ListResult{Success: true, Comments: comments}
}

func (e *Engine) toggleLike(ctx context.Context, operation, collectionPath, documentID, actorID string, snapshot store.Snapshot) OperationResult {
	liked := false
	if likedBy, ok := snapshot.Data()[fieldLikedBy].([]any); ok {
		for _, element := range likedBy {
			if element == actorID {
				liked = true
				break
			}
		}
	}

	var op store.Operation
	if liked {
		op = store.UpdateOperation(collectionPath, documentID, store.Fields{
			fieldLikedBy: store.ArrayRemove(actorID),
			fieldLikes:   store.Increment(-1),
		})
	} else {
		op = store.UpdateOperation(collectionPath, documentID, store.Fields{
			fieldLikedBy: store.ArrayUnion(actorID),
			fieldLikes:   store.Increment(1),
		})
	}
	if err := e.store.WriteAtomic(ctx, []store.Operation{op}); err != nil {
		e.logError(operation, "write_failed", err, documentID)
		return OperationResult{Error: messageLikeToggleFailed}
	}
	return OperationResult{Success: true}
}

// lookupComment resolves the comments path and reads the comment, mapping
// failures into the caller's result shape. A nil result means the snapshot
// is valid.
func (e *Engine) lookupComment(ctx context.Context, operation, postID, commentID, failureMessage string) (string, store.Snapshot, *OperationResult) {
	postSnapshot, err := e.store.Get(ctx, collectionPosts, postID)
	if err != nil {
		e.logError(operation, "post_lookup_failed", err, postID)
		return "", store.Snapshot{}, &OperationResult{Error: failureMessage}
	}
	if !postSnapshot.Exists {
		return "", store.Snapshot{}, &OperationResult{Error: messagePostNotFound}
	}

	commentsPath, err := store.JoinPath(collectionPosts, postID, segmentComments)
	if err != nil {
		e.logError(operation, "path_invalid", err, postID)
		return "", store.Snapshot{}, &OperationResult{Error: failureMessage}
	}
	snapshot, err := e.store.Get(ctx, commentsPath, commentID)
	if err != nil {
		e.logError(operation, "comment_lookup_failed", err, postID)
		return "", store.Snapshot{}, &OperationResult{Error: failureMessage}
	}
	if !snapshot.Exists {
		return "", store.Snapshot{}, &OperationResult{Error: messageCommentNotFound}
	}
	return commentsPath, snapshot, nil
}

func (e *Engine) logError(operation, reason string, err error, postID string) {
	e.logger.Error("thread engine error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("post_id", postID),
		zap.Error(err))
}
