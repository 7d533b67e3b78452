package stub

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/landtalk/internal/backend"
)

const defaultPageLimit = 20

// ServerConfig carries the stub server's settings.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	Tokens            TokenConfig
}

// Server exposes the stub REST API and the realtime feed.
type Server struct {
	store  Store
	hub    *Hub
	tokens *TokenConfig
	log    *zerolog.Logger
}

// ErrorResponse is the error body shape.
type ErrorResponse struct {
	Error string `json:"error"`
}

// listResponse is the envelope for list queries.
type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// NewServer wires routes and returns a ready-to-run HTTP server.
func NewServer(st Store, hub *Hub, cfg ServerConfig, logger *zerolog.Logger) *http.Server {
	s := &Server{store: st, hub: hub, tokens: &cfg.Tokens, log: logger}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/api/v1/login", s.login)
	r.GET("/realtime", s.realtime)

	api := r.Group("/api/v1", s.authRequired())
	{
		api.GET("/conversations", s.listConversations)
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations/:id", s.getConversation)
		api.PATCH("/conversations/:id", s.patchConversation)
		api.GET("/messages", s.listMessages)
		api.POST("/messages", s.createMessage)
		api.GET("/users/:id", s.getUser)
		api.GET("/notifications", s.listNotifications)
		api.POST("/notifications/read", s.markRead)
	}

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

const contextKeyViewer = "viewer_id"

func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			return
		}
		claims, err := ValidateToken(s.tokens, parts[1])
		if err != nil {
			s.log.Debug().Err(err).Msg("invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		c.Set(contextKeyViewer, claims.UserID)
		c.Next()
	}
}

func viewerID(c *gin.Context) int64 {
	v, _ := c.Get(contextKeyViewer)
	id, _ := v.(int64)
	return id
}

// LoginRequest is the login body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the login reply.
type LoginResponse struct {
	Token string       `json:"token"`
	User  backend.User `json:"user"`
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := Login(c.Request.Context(), s.store, s.tokens, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		s.log.Error().Err(err).Str("email", req.Email).Msg("login failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, User: *user})
}

func (s *Server) realtime(c *gin.Context) {
	token := c.Query("token")
	if _, err := ValidateToken(s.tokens, token); err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return
	}
	s.hub.ServeWS(c.Writer, c.Request)
}

func (s *Server) listConversations(c *gin.Context) {
	viewer := viewerID(c)

	// The or= predicate must reference the viewer; other filters are not
	// served, the platform enforces row access the same way.
	if raw := c.Query("or"); raw != "" {
		preds, err := parseOr(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		for _, p := range preds {
			if p.Value != strconv.FormatInt(viewer, 10) {
				c.JSON(http.StatusForbidden, ErrorResponse{Error: "filter outside viewer scope"})
				return
			}
		}
	}

	convs, err := s.store.ListConversations(c.Request.Context(), viewer)
	if err != nil {
		s.log.Error().Err(err).Int64("viewer", viewer).Msg("list conversations failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, listResponse[backend.Conversation]{Items: convs, Total: len(convs)})
}

// CreateConversationRequest is the conversation create body.
type CreateConversationRequest struct {
	CreatedBy int64  `json:"created_by" binding:"required"`
	WorkerID  int64  `json:"worker_id" binding:"required"`
	Subject   string `json:"subject" binding:"required,min=1,max=200"`
}

func (s *Server) createConversation(c *gin.Context) {
	viewer := viewerID(c)

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.CreatedBy != viewer {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "created_by must be the viewer"})
		return
	}

	conv, err := s.store.CreateConversation(c.Request.Context(), req.CreatedBy, req.WorkerID, req.Subject)
	if err != nil {
		s.log.Error().Err(err).Int64("viewer", viewer).Msg("create conversation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	s.hub.Publish(backend.Change{
		Table:        backend.TableConversations,
		Kind:         backend.ChangeInsert,
		Conversation: conv,
	})
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) getConversation(c *gin.Context) {
	conv, ok := s.conversationForViewer(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conv)
}

// PatchConversationRequest is the conversation update body.
type PatchConversationRequest struct {
	Status backend.ConversationStatus `json:"status" binding:"required,oneof=open closed"`
}

func (s *Server) patchConversation(c *gin.Context) {
	conv, ok := s.conversationForViewer(c)
	if !ok {
		return
	}

	var req PatchConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	updated, err := s.store.SetConversationStatus(c.Request.Context(), conv.ID, req.Status)
	if err != nil {
		s.log.Error().Err(err).Int64("conversation_id", conv.ID).Msg("update conversation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	s.hub.Publish(backend.Change{
		Table:        backend.TableConversations,
		Kind:         backend.ChangeUpdate,
		Conversation: updated,
	})
	c.JSON(http.StatusOK, updated)
}

func (s *Server) listMessages(c *gin.Context) {
	viewer := viewerID(c)

	convID, err := eqInt64(c.Query("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "conversation_id filter required: " + err.Error()})
		return
	}

	var before *time.Time
	if raw := c.Query("created_at"); raw != "" {
		t, err := ltTime(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		before = &t
	}

	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	conv, err := s.store.GetConversation(c.Request.Context(), convID)
	if err != nil {
		s.respondStoreError(c, err, "load conversation")
		return
	}
	if !conv.Involves(viewer) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	msgs, total, err := s.store.ListMessages(c.Request.Context(), convID, before, limit)
	if err != nil {
		s.log.Error().Err(err).Int64("conversation_id", convID).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, listResponse[backend.Message]{Items: msgs, Total: total})
}

// CreateMessageRequest is the message create body.
type CreateMessageRequest struct {
	ConversationID int64  `json:"conversation_id" binding:"required"`
	SenderID       int64  `json:"sender_id" binding:"required"`
	Body           string `json:"body" binding:"required,min=1"`
}

func (s *Server) createMessage(c *gin.Context) {
	viewer := viewerID(c)

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.SenderID != viewer {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "sender_id must be the viewer"})
		return
	}

	conv, err := s.store.GetConversation(c.Request.Context(), req.ConversationID)
	if err != nil {
		s.respondStoreError(c, err, "load conversation")
		return
	}
	if !conv.Involves(viewer) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	msg, err := s.store.CreateMessage(c.Request.Context(), req.ConversationID, req.SenderID, req.Body)
	if err != nil {
		s.log.Error().Err(err).Int64("conversation_id", req.ConversationID).Msg("create message failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	s.hub.Publish(backend.Change{
		Table:   backend.TableMessages,
		Kind:    backend.ChangeInsert,
		Message: msg,
	})
	if updated, err := s.store.GetConversation(c.Request.Context(), req.ConversationID); err == nil {
		updated.LastMessage = msg
		s.hub.Publish(backend.Change{
			Table:        backend.TableConversations,
			Kind:         backend.ChangeUpdate,
			Conversation: updated,
		})
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) getUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}
	user, err := s.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err, "load user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) listNotifications(c *gin.Context) {
	viewer := viewerID(c)

	if raw := c.Query("user_id"); raw != "" {
		id, err := eqInt64(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		if id != viewer {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "filter outside viewer scope"})
			return
		}
	}
	if raw := c.Query("type"); raw != "" {
		typ, err := eqString(raw)
		if err != nil || typ != backend.NotificationMessage {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unsupported notification type filter"})
			return
		}
	}

	items, err := s.store.ListUnread(c.Request.Context(), viewer)
	if err != nil {
		s.log.Error().Err(err).Int64("viewer", viewer).Msg("list notifications failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, listResponse[backend.Notification]{Items: items, Total: len(items)})
}

// MarkReadRequest is the notifications read body.
type MarkReadRequest struct {
	UserID      int64 `json:"user_id" binding:"required"`
	ReferenceID int64 `json:"reference_id" binding:"required"`
}

func (s *Server) markRead(c *gin.Context) {
	viewer := viewerID(c)

	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.UserID != viewer {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "user_id must be the viewer"})
		return
	}

	if err := s.store.MarkRead(c.Request.Context(), viewer, req.ReferenceID); err != nil {
		s.log.Error().Err(err).Int64("reference_id", req.ReferenceID).Msg("mark read failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) conversationForViewer(c *gin.Context) (*backend.Conversation, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid conversation id"})
		return nil, false
	}
	conv, err := s.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		s.respondStoreError(c, err, "load conversation")
		return nil, false
	}
	if !conv.Involves(viewerID(c)) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return nil, false
	}
	return conv, true
}

func (s *Server) respondStoreError(c *gin.Context, err error, what string) {
	if errors.Is(err, backend.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		return
	}
	s.log.Error().Err(err).Msg(what + " failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
