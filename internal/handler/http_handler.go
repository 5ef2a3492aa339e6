package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/service"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/middleware"
	"github.com/weiawesome/wes-totp-chat/pkg/response"
)

// Error codes specific to the room API.
const (
	CodeDuplicateName = "DUPLICATE_NAME"
	CodeInvalidCode   = "INVALID_CODE"
	CodeValidation    = "VALIDATION_ERROR"
)

// Handler handles HTTP requests for rooms and AI sessions.
type Handler struct {
	roomService    service.RoomService
	aiService      service.AiSessionService
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(roomService service.RoomService, aiService service.AiSessionService, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		roomService:    roomService,
		aiService:      aiService,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1", h.authMiddleware.RequireAuth())
	{
		api.GET("/me", h.Me)

		rooms := api.Group("/rooms")
		{
			rooms.POST("", h.CreateRoom)
			rooms.GET("/my", h.ListMyRooms)
			rooms.POST("/join", h.JoinRoom)
			rooms.GET("/:id", h.GetRoom)
			rooms.GET("/:id/access-code", h.GenerateCode)
			rooms.GET("/:id/enter", h.EnterRoom)
			rooms.POST("/:id/leave", h.LeaveRoom)
			rooms.DELETE("/:id", h.LeaveRoom)
			rooms.GET("/:id/messages", h.GetMessages)
		}

		ai := api.Group("/ai/sessions")
		{
			ai.POST("", h.StartSession)
			ai.GET("", h.ListSessions)
			ai.GET("/:id/messages", h.GetSessionHistory)
			ai.DELETE("/:id", h.CloseSession)
		}
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Me returns the caller's identity.
func (h *Handler) Me(c *gin.Context) {
	response.Success(c, currentUser(c))
}

// CreateRoom creates a new room owned by the caller.
func (h *Handler) CreateRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create room request")
		response.BadRequest(c, "room_name is required")
		return
	}

	room, err := h.roomService.CreateRoom(ctx, currentUser(c), &req)
	if err != nil {
		h.writeError(c, err, "failed to create room")
		return
	}

	response.Created(c, room)
}

// ListMyRooms lists the rooms the caller belongs to.
func (h *Handler) ListMyRooms(c *gin.Context) {
	var req domain.ListMyRoomsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.roomService.ListMyRooms(c.Request.Context(), currentUser(c), req.Page, req.PageSize)
	if err != nil {
		h.writeError(c, err, "failed to list rooms")
		return
	}

	response.Success(c, result)
}

// GetRoom describes a room to a member.
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoomDetail(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get room")
		return
	}

	response.Success(c, room)
}

// GenerateCode returns the room's current access code.
func (h *Handler) GenerateCode(c *gin.Context) {
	code, err := h.roomService.GenerateCode(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to generate access code")
		return
	}

	response.Success(c, code)
}

// JoinRoom admits the caller to the room an access code belongs to.
func (h *Handler) JoinRoom(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind join room request")
		response.Error(c, http.StatusBadRequest, CodeValidation, "totp is required")
		return
	}

	result, err := h.roomService.JoinByCode(ctx, currentUser(c), req.Totp)
	if err != nil {
		h.writeError(c, err, "failed to join room")
		return
	}

	response.Success(c, result)
}

// EnterRoom lets a member back into a room without a code.
func (h *Handler) EnterRoom(c *gin.Context) {
	result, err := h.roomService.EnterRoom(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to enter room")
		return
	}

	response.Success(c, result)
}

// LeaveRoom removes the caller, or deletes the room when the caller is its
// admin.
func (h *Handler) LeaveRoom(c *gin.Context) {
	result, err := h.roomService.LeaveRoom(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to leave room")
		return
	}

	response.Success(c, result)
}

// GetMessages pages a room's history.
func (h *Handler) GetMessages(c *gin.Context) {
	var req domain.ListMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.roomService.GetMessages(c.Request.Context(), currentUser(c), c.Param("id"), req.Offset, req.Limit)
	if err != nil {
		h.writeError(c, err, "failed to get messages")
		return
	}

	response.Success(c, page)
}

// StartSession opens an AI session on a room.
func (h *Handler) StartSession(c *gin.Context) {
	var req domain.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "room_id is required")
		return
	}

	session, err := h.aiService.StartSession(c.Request.Context(), currentUser(c), req.RoomID)
	if err != nil {
		h.writeError(c, err, "failed to start ai session")
		return
	}

	response.Created(c, session)
}

// ListSessions lists the AI sessions of a room.
func (h *Handler) ListSessions(c *gin.Context) {
	var req domain.ListSessionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "room_id is required")
		return
	}

	sessions, err := h.aiService.ListSessions(c.Request.Context(), currentUser(c), req.RoomID)
	if err != nil {
		h.writeError(c, err, "failed to list ai sessions")
		return
	}

	response.Success(c, gin.H{"sessions": sessions})
}

// GetSessionHistory pages an AI session's log, newest page first.
func (h *Handler) GetSessionHistory(c *gin.Context) {
	var req domain.AiHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.aiService.GetHistory(c.Request.Context(), currentUser(c), c.Param("id"), req.Page, req.Limit)
	if err != nil {
		h.writeError(c, err, "failed to get ai history")
		return
	}

	response.Success(c, page)
}

// CloseSession deactivates an AI session.
func (h *Handler) CloseSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.aiService.CloseSession(c.Request.Context(), currentUser(c), sessionID); err != nil {
		h.writeError(c, err, "failed to close ai session")
		return
	}

	response.Success(c, gin.H{"session_id": sessionID, "is_active": false})
}

// writeError maps service errors onto the response envelope. Unexpected
// errors are logged and reported without detail.
func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Error(c, http.StatusBadRequest, CodeValidation, validationMessage(err))
	case errors.Is(err, service.ErrInvalidCode):
		response.Error(c, http.StatusBadRequest, CodeInvalidCode, "invalid or expired code")
	case errors.Is(err, service.ErrDuplicateName):
		response.Error(c, http.StatusBadRequest, CodeDuplicateName, "a room with this name already exists")
	case errors.Is(err, service.ErrBadReference):
		response.BadRequest(c, "malformed id")
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, "not a member of this room")
	case errors.Is(err, service.ErrSecretNotFound):
		response.NotFound(c, "room secret not found")
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, "not found")
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		response.InternalError(c, fallback)
	}
}

// validationMessage strips the sentinel prefix from a wrapped validation
// error.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
	if msg == service.ErrValidation.Error() {
		return "invalid request"
	}
	return msg
}

func currentUser(c *gin.Context) domain.User {
	return domain.User{
		ID:       middleware.GetUserID(c),
		Username: middleware.GetUsername(c),
		Email:    middleware.GetEmail(c),
	}
}
