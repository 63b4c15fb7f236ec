package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/feed"
	"github.com/studyloop/drift/internal/shortcode"
	"github.com/studyloop/drift/internal/store"
)

const (
	collectionMeetings       = "meetings"
	segmentMessages          = "messages"
	segmentParticipantStates = "participantStates"

	fieldRoomCode     = "roomCode"
	fieldStatus       = "status"
	fieldParticipants = "participants"

	statusScheduled = "scheduled"
	statusActive    = "active"
	statusCompleted = "completed"
	statusCancelled = "cancelled"

	seedMessageText   = "Chat started"
	seedSenderID      = "system"
	seedSenderName    = "System"
	anonymousSender   = "Anonymous"
	maxCodeAttempts   = 5
	maxDurationMins   = 100
	minParticipants   = 2
	defaultMaxMembers = 10

	messageNotAuthenticated = "User not authenticated"
	messageMeetingNotFound  = "Meeting not found"
	messageMeetingEnded     = "Meeting has ended"
	messagePrivateMeeting   = "This is a private meeting"
	messageHostOnly         = "Only the host can end the meeting"
	messageNotAuthorized    = "Not authorized"
	messageCreateFailed     = "Failed to create meeting"
	messageJoinFailed       = "Failed to join meeting"
	messageLeaveFailed      = "Failed to leave meeting"
	messageEndFailed        = "Failed to end meeting"
	messageSendFailed       = "Failed to send message"
	messageEditFailed       = "Failed to edit message"
	messageSeedFailed       = "Failed to initialize chat"
)

var errMissingStore = errors.New("rooms: document store is required")

// Settings carries per-meeting toggles, defaulted on creation.
type Settings struct {
	MuteOnEntry      bool
	AllowChat        bool
	AllowScreenShare bool
	RecordingEnabled bool
}

// Draft is the caller-supplied portion of a new meeting.
type Draft struct {
	Title           string
	Description     string
	DurationMinutes int64
	IsPrivate       bool
	MaxParticipants int64
	Settings        *Settings
}

// CreateResult is the outcome of meeting creation.
type CreateResult struct {
	Success   bool
	MeetingID string
	RoomCode  string
	Error     string
}

// OperationResult is the uniform outcome of meeting and message mutations.
type OperationResult struct {
	Success bool
	Error   string
}

// MessageResult is the outcome of sending a chat message.
type MessageResult struct {
	Success   bool
	MessageID string
	Error     string
}

// ServiceConfig bundles service construction parameters.
type ServiceConfig struct {
	Store  store.Store
	Codes  *shortcode.Generator
	Logger *zap.Logger
}

// Service manages meetings: creation with a shareable room code, membership
// transitions, and the meeting chat. Chat subscriptions are delivered through
// a feed reconciler, seeded with a system message on first use.
type Service struct {
	store  store.Store
	codes  *shortcode.Generator
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	codes := cfg.Codes
	if codes == nil {
		codes = shortcode.NewGenerator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, codes: codes, logger: logger}, nil
}

// CreateMeeting validates the draft, mints a collision-free room code, and
// creates the meeting document with the caller as host and sole participant.
func (s *Service) CreateMeeting(ctx context.Context, actorID string, draft Draft) CreateResult {
	if strings.TrimSpace(actorID) == "" {
		return CreateResult{Error: messageNotAuthenticated}
	}
	if message := validateDraft(draft); message != "" {
		return CreateResult{Error: message}
	}

	code, err := s.mintRoomCode(ctx)
	if err != nil {
		s.logError("rooms.create", "code_generation_failed", err, "")
		return CreateResult{Error: messageCreateFailed}
	}
	meetingID, err := s.store.NewID()
	if err != nil {
		s.logError("rooms.create", "id_generation_failed", err, "")
		return CreateResult{Error: messageCreateFailed}
	}

	settings := draft.Settings
	if settings == nil {
		settings = &Settings{MuteOnEntry: true, AllowChat: true, AllowScreenShare: true}
	}
	maxParticipants := draft.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = defaultMaxMembers
	}

	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation(collectionMeetings, meetingID, store.Fields{
			"title":           strings.TrimSpace(draft.Title),
			"description":     draft.Description,
			"duration":        draft.DurationMinutes,
			"host":            actorID,
			fieldStatus:       statusScheduled,
			fieldParticipants: []any{actorID},
			fieldRoomCode:     code,
			"isPrivate":       draft.IsPrivate,
			"maxParticipants": maxParticipants,
			"settings": map[string]any{
				"muteOnEntry":      settings.MuteOnEntry,
				"allowChat":        settings.AllowChat,
				"allowScreenShare": settings.AllowScreenShare,
				"recordingEnabled": settings.RecordingEnabled,
			},
			"createdAt": store.ServerTimestamp(),
			"updatedAt": store.ServerTimestamp(),
		}),
	})
	if err != nil {
		s.logError("rooms.create", "write_failed", err, meetingID)
		return CreateResult{Error: messageCreateFailed}
	}
	return CreateResult{Success: true, MeetingID: meetingID, RoomCode: code}
}

// JoinMeeting adds the caller to an open meeting and marks it active.
func (s *Service) JoinMeeting(ctx context.Context, actorID, meetingID string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}
	snapshot, err := s.store.Get(ctx, collectionMeetings, meetingID)
	if err != nil {
		s.logError("rooms.join", "lookup_failed", err, meetingID)
		return OperationResult{Error: messageJoinFailed}
	}
	if !snapshot.Exists {
		return OperationResult{Error: messageMeetingNotFound}
	}
	fields := snapshot.Data()

	status, _ := fields[fieldStatus].(string)
	if status == statusCompleted || status == statusCancelled {
		return OperationResult{Error: messageMeetingEnded}
	}
	host, _ := fields["host"].(string)
	if isPrivate, _ := fields["isPrivate"].(bool); isPrivate && host != actorID {
		return OperationResult{Error: messagePrivateMeeting}
	}
	participants, _ := fields[fieldParticipants].([]any)
	if limit, ok := numericLimit(fields["maxParticipants"]); ok && int64(len(participants)) >= limit {
		return OperationResult{Error: fmt.Sprintf("Meeting has reached maximum participants limit of %d", limit)}
	}

	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.UpdateOperation(collectionMeetings, meetingID, store.Fields{
			fieldParticipants: store.ArrayUnion(actorID),
			fieldStatus:       statusActive,
			"updatedAt":       store.ServerTimestamp(),
		}),
	})
	if err != nil {
		s.logError("rooms.join", "write_failed", err, meetingID)
		return OperationResult{Error: messageJoinFailed}
	}
	return OperationResult{Success: true}
}

// LeaveMeeting removes the caller from the meeting. The host leaving ends the
// meeting for everyone.
func (s *Service) LeaveMeeting(ctx context.Context, actorID, meetingID string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}
	snapshot, err := s.store.Get(ctx, collectionMeetings, meetingID)
	if err != nil {
		s.logError("rooms.leave", "lookup_failed", err, meetingID)
		return OperationResult{Error: messageLeaveFailed}
	}
	if !snapshot.Exists {
		return OperationResult{Error: messageMeetingNotFound}
	}
	if host, _ := snapshot.Data()["host"].(string); host == actorID {
		return s.EndMeeting(ctx, actorID, meetingID)
	}

	statesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentParticipantStates)
	if err != nil {
		s.logError("rooms.leave", "path_invalid", err, meetingID)
		return OperationResult{Error: messageLeaveFailed}
	}
	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.DeleteOperation(statesPath, actorID),
		store.UpdateOperation(collectionMeetings, meetingID, store.Fields{
			fieldParticipants: store.ArrayRemove(actorID),
			"updatedAt":       store.ServerTimestamp(),
		}),
	})
	if err != nil {
		s.logError("rooms.leave", "write_failed", err, meetingID)
		return OperationResult{Error: messageLeaveFailed}
	}
	return OperationResult{Success: true}
}

// EndMeeting completes the meeting and clears per-participant state. Only
// the host may end a meeting.
func (s *Service) EndMeeting(ctx context.Context, actorID, meetingID string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}
	snapshot, err := s.store.Get(ctx, collectionMeetings, meetingID)
	if err != nil {
		s.logError("rooms.end", "lookup_failed", err, meetingID)
		return OperationResult{Error: messageEndFailed}
	}
	if !snapshot.Exists {
		return OperationResult{Error: messageMeetingNotFound}
	}
	if host, _ := snapshot.Data()["host"].(string); host != actorID {
		return OperationResult{Error: messageHostOnly}
	}

	statesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentParticipantStates)
	if err != nil {
		s.logError("rooms.end", "path_invalid", err, meetingID)
		return OperationResult{Error: messageEndFailed}
	}
	states, err := s.store.Query(ctx, statesPath, nil, nil)
	if err != nil {
		s.logError("rooms.end", "states_query_failed", err, meetingID)
		return OperationResult{Error: messageEndFailed}
	}

	operations := make([]store.Operation, 0, len(states)+1)
	for _, state := range states {
		operations = append(operations, store.DeleteOperation(statesPath, state.ID))
	}
	operations = append(operations, store.UpdateOperation(collectionMeetings, meetingID, store.Fields{
		fieldStatus: statusCompleted,
		"updatedAt": store.ServerTimestamp(),
	}))
	if err := s.store.WriteAtomic(ctx, operations); err != nil {
		s.logError("rooms.end", "write_failed", err, meetingID)
		return OperationResult{Error: messageEndFailed}
	}
	return OperationResult{Success: true}
}

// EnsureChatSeeded creates the opening system message when the meeting's
// message collection is empty. Safe to call repeatedly.
func (s *Service) EnsureChatSeeded(ctx context.Context, meetingID string) error {
	messagesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentMessages)
	if err != nil {
		return fmt.Errorf("rooms: invalid messages path: %w", err)
	}
	existing, err := s.store.Query(ctx, messagesPath, nil, nil)
	if err != nil {
		return fmt.Errorf("rooms: chat seed query failed: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	messageID, err := s.store.NewID()
	if err != nil {
		return fmt.Errorf("rooms: chat seed id failed: %w", err)
	}
	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation(messagesPath, messageID, store.Fields{
			"text":       seedMessageText,
			"senderId":   seedSenderID,
			"senderName": seedSenderName,
			"timestamp":  store.ServerTimestamp(),
		}),
	})
	if err != nil {
		return fmt.Errorf("rooms: chat seed write failed: %w", err)
	}
	return nil
}

// SendMessage appends a chat message to the meeting.
func (s *Service) SendMessage(ctx context.Context, actorID, meetingID, senderName, text string) MessageResult {
	if strings.TrimSpace(actorID) == "" {
		return MessageResult{Error: messageNotAuthenticated}
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return MessageResult{Error: messageSendFailed}
	}
	snapshot, err := s.store.Get(ctx, collectionMeetings, meetingID)
	if err != nil {
		s.logError("rooms.send_message", "lookup_failed", err, meetingID)
		return MessageResult{Error: messageSendFailed}
	}
	if !snapshot.Exists {
		return MessageResult{Error: messageMeetingNotFound}
	}

	messagesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentMessages)
	if err != nil {
		s.logError("rooms.send_message", "path_invalid", err, meetingID)
		return MessageResult{Error: messageSendFailed}
	}
	messageID, err := s.store.NewID()
	if err != nil {
		s.logError("rooms.send_message", "id_generation_failed", err, meetingID)
		return MessageResult{Error: messageSendFailed}
	}
	if strings.TrimSpace(senderName) == "" {
		senderName = anonymousSender
	}

	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.CreateOperation(messagesPath, messageID, store.Fields{
			"text":       trimmed,
			"senderId":   actorID,
			"senderName": senderName,
			"timestamp":  store.ServerTimestamp(),
		}),
	})
	if err != nil {
		s.logError("rooms.send_message", "write_failed", err, meetingID)
		return MessageResult{Error: messageSendFailed}
	}
	return MessageResult{Success: true, MessageID: messageID}
}

// EditMessage replaces a message's text. Only the sender may edit, and the
// edit is marked on the record.
func (s *Service) EditMessage(ctx context.Context, actorID, meetingID, messageID, text string) OperationResult {
	if strings.TrimSpace(actorID) == "" {
		return OperationResult{Error: messageNotAuthenticated}
	}
	messagesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentMessages)
	if err != nil {
		s.logError("rooms.edit_message", "path_invalid", err, meetingID)
		return OperationResult{Error: messageEditFailed}
	}
	snapshot, err := s.store.Get(ctx, messagesPath, messageID)
	if err != nil {
		s.logError("rooms.edit_message", "lookup_failed", err, meetingID)
		return OperationResult{Error: messageEditFailed}
	}
	if !snapshot.Exists {
		return OperationResult{Error: messageEditFailed}
	}
	if sender, _ := snapshot.Data()["senderId"].(string); sender != actorID {
		return OperationResult{Error: messageNotAuthorized}
	}

	err = s.store.WriteAtomic(ctx, []store.Operation{
		store.UpdateOperation(messagesPath, messageID, store.Fields{
			"text":     strings.TrimSpace(text),
			"edited":   true,
			"editedAt": store.ServerTimestamp(),
		}),
	})
	if err != nil {
		s.logError("rooms.edit_message", "write_failed", err, meetingID)
		return OperationResult{Error: messageEditFailed}
	}
	return OperationResult{Success: true}
}

// Message is one chat entry as read back from the store.
type Message struct {
	ID              string
	Text            string
	SenderID        string
	SenderName      string
	TimestampMillis int64
	Edited          bool
}

// ListMessages seeds the chat if needed and returns the meeting's messages
// oldest-first.
func (s *Service) ListMessages(ctx context.Context, meetingID string) ([]Message, error) {
	snapshot, err := s.store.Get(ctx, collectionMeetings, meetingID)
	if err != nil {
		return nil, fmt.Errorf("rooms: meeting lookup failed: %w", err)
	}
	if !snapshot.Exists {
		return nil, errors.New(messageMeetingNotFound)
	}
	if err := s.EnsureChatSeeded(ctx, meetingID); err != nil {
		return nil, err
	}

	messagesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentMessages)
	if err != nil {
		return nil, fmt.Errorf("rooms: invalid messages path: %w", err)
	}
	snapshots, err := s.store.Query(ctx, messagesPath, nil, &store.Order{Field: "timestamp"})
	if err != nil {
		return nil, fmt.Errorf("rooms: message query failed: %w", err)
	}

	messages := make([]Message, 0, len(snapshots))
	for _, record := range snapshots {
		fields := record.Data()
		message := Message{ID: record.ID}
		message.Text, _ = fields["text"].(string)
		message.SenderID, _ = fields["senderId"].(string)
		message.SenderName, _ = fields["senderName"].(string)
		message.Edited, _ = fields["edited"].(bool)
		if millis, ok := numericLimit(fields["timestamp"]); ok {
			message.TimestampMillis = millis
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// SubscribeMessages seeds the chat if needed and attaches a reconciler to
// the meeting's message stream, ordered by send time. The returned stop
// function detaches the subscription; the reconciler keeps its last state.
func (s *Service) SubscribeMessages(ctx context.Context, meetingID string) (*feed.Reconciler, func(), error) {
	if err := s.EnsureChatSeeded(ctx, meetingID); err != nil {
		return nil, nil, fmt.Errorf("rooms: %s: %w", messageSeedFailed, err)
	}
	messagesPath, err := store.JoinPath(collectionMeetings, meetingID, segmentMessages)
	if err != nil {
		return nil, nil, fmt.Errorf("rooms: invalid messages path: %w", err)
	}

	reconciler := feed.NewReconciler(feed.Config{Logger: s.logger})
	stop, err := s.store.Subscribe(ctx, messagesPath, &store.Order{Field: "timestamp"},
		reconciler.ApplyEvents,
		reconciler.Fail,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("rooms: message subscription failed: %w", err)
	}
	return reconciler, stop, nil
}

// mintRoomCode draws codes until one is unused, bounded to a handful of
// attempts. Collisions are rare at this keyspace; hitting the bound means
// the store lookup itself is misbehaving.
func (s *Service) mintRoomCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.codes.Generate()
		matches, err := s.store.Query(ctx, collectionMeetings, []store.Filter{
			{Field: fieldRoomCode, Op: store.FilterOpEqual, Value: code},
		}, nil)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return code, nil
		}
		s.logger.Warn("room code collision", zap.String("code", code))
	}
	return "", fmt.Errorf("rooms: exhausted %d room code attempts", maxCodeAttempts)
}

func validateDraft(draft Draft) string {
	if strings.TrimSpace(draft.Title) == "" {
		return "Meeting title is required"
	}
	if draft.DurationMinutes == 0 {
		return "Meeting duration is required"
	}
	if draft.DurationMinutes < 1 {
		return "Meeting duration must be at least 1 minute"
	}
	if draft.DurationMinutes > maxDurationMins {
		return "Meeting duration cannot exceed 100 minutes"
	}
	if draft.MaxParticipants != 0 && draft.MaxParticipants < minParticipants {
		return "Maximum participants must be at least 2"
	}
	return ""
}

func (s *Service) logError(operation, reason string, err error, meetingID string) {
	s.logger.Error("room service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("meeting_id", meetingID),
		zap.Error(err))
}

func numericLimit(raw any) (int64, bool) {
	switch value := raw.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case float64:
		return int64(value), true
	default:
		return 0, false
	}
}
