package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-totp-chat/internal/audit"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/service"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Authenticator resolves the caller of an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (*middleware.Identity, error)
}

// WSHandler serves room chat connections.
type WSHandler struct {
	hub  *hub.Hub
	chat service.ChatService
	auth Authenticator
}

func NewWSHandler(h *hub.Hub, chat service.ChatService, auth Authenticator) *WSHandler {
	return &WSHandler{
		hub:  h,
		chat: chat,
		auth: auth,
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/rooms/:id", h.HandleWebSocket)
}

// HandleWebSocket upgrades first and then authenticates, so that every
// rejection reaches the client as a close code.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	roomID := c.Param("id")

	client, ctx, ok := accept(c, h.hub, h.auth)
	if !ok {
		return
	}
	ctx = log.With(ctx, log.FieldRoomID, roomID)

	client.Session.Advance(domain.StateAuthorizing)
	if err := h.chat.Admit(ctx, client, roomID); err != nil {
		reject(ctx, client, roomID, err)
		return
	}

	go client.ReadPump(func(client *hub.Client, data []byte) {
		h.handleFrame(ctx, client, data)
	}, func(client *hub.Client) {
		h.chat.Disconnect(ctx, client)
	})
}

func (h *WSHandler) handleFrame(ctx context.Context, client *hub.Client, data []byte) {
	in, err := domain.DecodeRoomFrame(data)
	if err != nil {
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, frameErrorMessage(err)))
		return
	}

	switch msg := in.(type) {
	case domain.ChatMessageIn:
		err = h.chat.SendMessage(ctx, client, msg.Message)
	case domain.TypingIn:
		err = h.chat.Typing(ctx, client, msg.IsTyping)
	case domain.LoadMoreIn:
		err = h.chat.LoadMore(ctx, client, msg.Offset, msg.Limit)
	}
	if err != nil {
		reportFrameError(ctx, client, err)
	}
}

// accept upgrades the request, registers the client and authenticates it.
// On failure the client is already closed with 4001.
func accept(c *gin.Context, h *hub.Hub, auth Authenticator) (*hub.Client, context.Context, bool) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return nil, nil, false
	}

	client := hub.NewClient(uuid.New().String(), h, conn)
	h.Register(client)
	go client.WritePump()

	// the request context ends with this handler; the connection does not
	logger := log.Ctx(c.Request.Context()).With().Str(log.FieldConnID, client.ID).Logger()
	ctx := log.WithLogger(context.Background(), logger)

	identity, err := auth.Authenticate(c.Request)
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionWSUnauthorized, "", "", err.Error(), "websocket authentication failed")
		client.Close(domain.CloseUnauthenticated, "authentication required")
		return nil, nil, false
	}

	client.Session.Authenticate(domain.User{
		ID:       identity.UserID,
		Username: identity.Username,
		Email:    identity.Email,
	})
	client.Session.Advance(domain.StateAuthenticating)
	return client, log.With(ctx, log.FieldUserID, identity.UserID), true
}

// reject closes an authenticated client whose target was refused.
func reject(ctx context.Context, client *hub.Client, target string, err error) {
	code, reason := closeCodeFor(err)
	l := log.Ctx(ctx)
	l.Info().Err(err).Int(log.FieldCloseCode, code).Msg("websocket admission refused")
	if code == domain.CloseUnauthorized {
		audit.LogWithDetail(ctx, audit.ActionWSUnauthorized, client.User().ID, target, err.Error(), "websocket authorization failed")
	}
	client.Close(code, reason)
}

// closeCodeFor maps an admission error to a close code.
func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return domain.CloseUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrBadReference),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrSessionInactive):
		return domain.CloseBadRoomRef, "invalid room reference"
	default:
		return domain.CloseInternalError, "internal error"
	}
}

// reportFrameError answers a failed frame in-band. The connection stays open
// unless membership ended.
func reportFrameError(ctx context.Context, client *hub.Client, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeValidation, validationMessage(err)))
	case errors.Is(err, service.ErrNotJoined):
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeNotInRoom, "not in a room"))
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotFound):
		// the service has closed the connection already
	default:
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to handle frame")
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeInternalError, "internal error"))
	}
}

func frameErrorMessage(err error) string {
	if errors.Is(err, domain.ErrUnknownType) {
		return "Unknown message type"
	}
	return "Invalid message format"
}

