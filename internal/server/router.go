package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/studyloop/drift/internal/auth"
	"github.com/studyloop/drift/internal/listings"
	"github.com/studyloop/drift/internal/posts"
	"github.com/studyloop/drift/internal/rooms"
	"github.com/studyloop/drift/internal/threads"
	"github.com/studyloop/drift/internal/users"
)

const userIDContextKey = "drift_user_id"

var (
	errMissingVerifier        = errors.New("identity verifier dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingPostsService    = errors.New("posts service dependency required")
	errMissingThreadsEngine   = errors.New("threads engine dependency required")
	errMissingRoomsService    = errors.New("rooms service dependency required")
	errMissingListingsService = errors.New("listings service dependency required")
	errMissingProfileResolver = errors.New("profile resolver dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.IdentityClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Verifier     IdentityVerifier
	TokenManager BackendTokenManager
	Posts        *posts.Service
	Threads      *threads.Engine
	Rooms        *rooms.Service
	Listings     *listings.Service
	Profiles     *users.Resolver
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Posts == nil {
		return nil, errMissingPostsService
	}
	if deps.Threads == nil {
		return nil, errMissingThreadsEngine
	}
	if deps.Rooms == nil {
		return nil, errMissingRoomsService
	}
	if deps.Listings == nil {
		return nil, errMissingListingsService
	}
	if deps.Profiles == nil {
		return nil, errMissingProfileResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		verifier: deps.Verifier,
		tokens:   deps.TokenManager,
		posts:    deps.Posts,
		threads:  deps.Threads,
		rooms:    deps.Rooms,
		listings: deps.Listings,
		profiles: deps.Profiles,
		logger:   logger,
	}

	router.POST("/auth/session", handler.handleSession)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/posts", handler.handleCreatePost)
	protected.POST("/posts/:postID/like", handler.handleLikePost)
	protected.POST("/posts/:postID/save", handler.handleSavePost)
	protected.GET("/posts/:postID/saved", handler.handleIsPostSaved)
	protected.GET("/posts/:postID/comments", handler.handleListComments)
	protected.POST("/posts/:postID/comments", handler.handleAddComment)
	protected.PUT("/posts/:postID/comments/:commentID", handler.handleEditComment)
	protected.DELETE("/posts/:postID/comments/:commentID", handler.handleDeleteComment)
	protected.POST("/posts/:postID/comments/:commentID/like", handler.handleLikeComment)
	protected.POST("/posts/:postID/comments/:commentID/replies", handler.handleAddReply)
	protected.POST("/posts/:postID/comments/:commentID/replies/:replyID/like", handler.handleLikeReply)
	protected.POST("/rooms", handler.handleCreateRoom)
	protected.POST("/rooms/:meetingID/join", handler.handleJoinRoom)
	protected.POST("/rooms/:meetingID/leave", handler.handleLeaveRoom)
	protected.POST("/rooms/:meetingID/end", handler.handleEndRoom)
	protected.GET("/rooms/:meetingID/messages", handler.handleListMessages)
	protected.POST("/rooms/:meetingID/messages", handler.handleSendMessage)
	protected.PUT("/rooms/:meetingID/messages/:messageID", handler.handleEditMessage)
	protected.GET("/listings", handler.handleListings)
	protected.POST("/listings/refresh", handler.handleRefreshListings)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	verifier IdentityVerifier
	tokens   BackendTokenManager
	posts    *posts.Service
	threads  *threads.Engine
	rooms    *rooms.Service
	listings *listings.Service
	profiles *users.Resolver
	logger   *zap.Logger
}

type sessionRequestPayload struct {
	IDToken string `json:"id_token"`
}

type sessionResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	var request sessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err = h.profiles.Provision(c.Request.Context(), users.Profile{
		UserID:    claims.Subject,
		Username:  claims.Name,
		AvatarURL: claims.Picture,
	})
	if err != nil {
		h.logger.Error("failed to provision profile", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_provision_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type createPostPayload struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.posts.CreatePost(c.Request.Context(), c.GetString(userIDContextKey), request.Title, request.Text)
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "post_id": result.PostID})
}

func (h *httpHandler) handleLikePost(c *gin.Context) {
	result := h.posts.LikePost(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"))
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "liked": result.Liked})
}

func (h *httpHandler) handleSavePost(c *gin.Context) {
	result := h.posts.SavePost(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"))
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "saved": result.Saved})
}

func (h *httpHandler) handleIsPostSaved(c *gin.Context) {
	saved, err := h.posts.IsPostSaved(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"))
	if err != nil {
		h.logger.Error("saved probe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "probe_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": saved})
}

type commentPayload struct {
	Text string `json:"text"`
}

type commentResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	UserImage  string `json:"user_image"`
	Text       string `json:"text"`
	Likes      int64  `json:"likes"`
	Timestamp  int64  `json:"timestamp_ms"`
	Edited     bool   `json:"edited"`
	ReplyCount int64  `json:"reply_count"`

	Replies []commentResponse `json:"replies,omitempty"`
}

func renderComment(comment threads.Comment) commentResponse {
	rendered := commentResponse{
		ID:         comment.ID,
		UserID:     comment.UserID,
		Username:   comment.Username,
		UserImage:  comment.UserImage,
		Text:       comment.Text,
		Likes:      comment.Likes,
		Timestamp:  comment.TimestampMillis,
		Edited:     comment.Edited,
		ReplyCount: comment.ReplyCount,
	}
	for _, reply := range comment.Replies {
		rendered.Replies = append(rendered.Replies, renderComment(reply))
	}
	return rendered
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	result := h.threads.ListComments(c.Request.Context(), c.Param("postID"))
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	rendered := make([]commentResponse, 0, len(result.Comments))
	for _, comment := range result.Comments {
		rendered = append(rendered, renderComment(comment))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comments": rendered})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.threads.AddComment(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"), request.Text)
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "comment": renderComment(*result.Comment)})
}

func (h *httpHandler) handleEditComment(c *gin.Context) {
	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.threads.EditComment(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"), c.Param("commentID"), request.Text)
	h.renderOperation(c, result.Success, result.Error)
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	result := h.threads.DeleteComment(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"), c.Param("commentID"))
	h.renderOperation(c, result.Success, result.Error)
}

func (h *httpHandler) handleLikeComment(c *gin.Context) {
	result := h.threads.LikeComment(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"), c.Param("commentID"))
	h.renderOperation(c, result.Success, result.Error)
}

func (h *httpHandler) handleAddReply(c *gin.Context) {
	var request commentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.threads.AddReply(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"), c.Param("commentID"), request.Text)
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "reply": renderComment(*result.Comment)})
}

func (h *httpHandler) handleLikeReply(c *gin.Context) {
	result := h.threads.LikeReply(c.Request.Context(), c.GetString(userIDContextKey), c.Param("postID"), c.Param("commentID"), c.Param("replyID"))
	h.renderOperation(c, result.Success, result.Error)
}

type createRoomPayload struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int64  `json:"duration_minutes"`
	IsPrivate       bool   `json:"is_private"`
	MaxParticipants int64  `json:"max_participants"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var request createRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.rooms.CreateMeeting(c.Request.Context(), c.GetString(userIDContextKey), rooms.Draft{
		Title:           request.Title,
		Description:     request.Description,
		DurationMinutes: request.DurationMinutes,
		IsPrivate:       request.IsPrivate,
		MaxParticipants: request.MaxParticipants,
	})
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "meeting_id": result.MeetingID, "room_code": result.RoomCode})
}

func (h *httpHandler) handleJoinRoom(c *gin.Context) {
	result := h.rooms.JoinMeeting(c.Request.Context(), c.GetString(userIDContextKey), c.Param("meetingID"))
	h.renderOperation(c, result.Success, result.Error)
}

func (h *httpHandler) handleLeaveRoom(c *gin.Context) {
	result := h.rooms.LeaveMeeting(c.Request.Context(), c.GetString(userIDContextKey), c.Param("meetingID"))
	h.renderOperation(c, result.Success, result.Error)
}

func (h *httpHandler) handleEndRoom(c *gin.Context) {
	result := h.rooms.EndMeeting(c.Request.Context(), c.GetString(userIDContextKey), c.Param("meetingID"))
	h.renderOperation(c, result.Success, result.Error)
}

type messageResponse struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Timestamp  int64  `json:"timestamp_ms"`
	Edited     bool   `json:"edited"`
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	messages, err := h.rooms.ListMessages(c.Request.Context(), c.Param("meetingID"))
	if err != nil {
		h.logger.Warn("message listing failed", zap.Error(err))
		c.JSON(statusForMessage(err.Error()), gin.H{"success": false, "error": err.Error()})
		return
	}
	rendered := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		rendered = append(rendered, messageResponse{
			ID:         message.ID,
			Text:       message.Text,
			SenderID:   message.SenderID,
			SenderName: message.SenderName,
			Timestamp:  message.TimestampMillis,
			Edited:     message.Edited,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": rendered})
}

type sendMessagePayload struct {
	Text       string `json:"text"`
	SenderName string `json:"sender_name"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.rooms.SendMessage(c.Request.Context(), c.GetString(userIDContextKey), c.Param("meetingID"), request.SenderName, request.Text)
	if !result.Success {
		c.JSON(statusForMessage(result.Error), gin.H{"success": false, "error": result.Error})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message_id": result.MessageID})
}

func (h *httpHandler) handleEditMessage(c *gin.Context) {
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	result := h.rooms.EditMessage(c.Request.Context(), c.GetString(userIDContextKey), c.Param("meetingID"), c.Param("messageID"), request.Text)
	h.renderOperation(c, result.Success, result.Error)
}

type listingResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Mode     string `json:"mode"`
	Source   string `json:"source"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
}

func (h *httpHandler) handleListings(c *gin.Context) {
	force := c.Query("force") == "true"
	entries, err := h.listings.Get(c.Request.Context(), force)
	if err != nil {
		h.logger.Error("listings fetch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "listings_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "listings": renderListings(entries)})
}

func (h *httpHandler) handleRefreshListings(c *gin.Context) {
	entries, err := h.listings.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Error("listings refresh failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "listings_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "listings": renderListings(entries)})
}

func renderListings(entries []listings.Listing) []listingResponse {
	rendered := make([]listingResponse, 0, len(entries))
	for _, entry := range entries {
		rendered = append(rendered, listingResponse{
			ID:       entry.ID,
			Title:    entry.Title,
			Mode:     entry.Mode,
			Source:   entry.Source,
			URL:      entry.URL,
			ImageURL: entry.ImageURL,
		})
	}
	return rendered
}

func (h *httpHandler) renderOperation(c *gin.Context, success bool, message string) {
	if !success {
		c.JSON(statusForMessage(message), gin.H{"success": false, "error": message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine session turnover, not a fault worth
		// alerting on.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// statusForMessage maps service-level error strings onto HTTP statuses. The
// strings are the contract the mobile client renders, so they pass through
// the response body unchanged.
func statusForMessage(message string) int {
	switch {
	case message == "User not authenticated":
		return http.StatusUnauthorized
	case message == "Not authorized" || message == "Only the host can end the meeting" || message == "This is a private meeting":
		return http.StatusForbidden
	case strings.HasSuffix(message, "not found"):
		return http.StatusNotFound
	case strings.HasPrefix(message, "Meeting has reached"):
		return http.StatusConflict
	case message == "Meeting has ended":
		return http.StatusConflict
	case strings.HasPrefix(message, "Meeting title") || strings.HasPrefix(message, "Meeting duration") || strings.HasPrefix(message, "Maximum participants"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
