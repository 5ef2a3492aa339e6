package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-totp-chat/internal/ai"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/service"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// AIWSHandler serves AI session connections. Their traffic never reaches the
// plain room group.
type AIWSHandler struct {
	hub      *hub.Hub
	sessions service.AiSessionService
	coord    *ai.Coordinator
	auth     Authenticator
}

func NewAIWSHandler(h *hub.Hub, sessions service.AiSessionService, coord *ai.Coordinator, auth Authenticator) *AIWSHandler {
	return &AIWSHandler{
		hub:      h,
		sessions: sessions,
		coord:    coord,
		auth:     auth,
	}
}

func (h *AIWSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/ai/:session_id", h.HandleWebSocket)
}

func (h *AIWSHandler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("session_id")

	client, ctx, ok := accept(c, h.hub, h.auth)
	if !ok {
		return
	}
	ctx = log.With(ctx, log.FieldSessionID, sessionID)

	client.Session.Advance(domain.StateAuthorizing)
	session, room, err := h.sessions.Authorize(ctx, client.User(), sessionID)
	if err != nil {
		reject(ctx, client, sessionID, err)
		return
	}

	if err := h.coord.Admit(ctx, client, session, room.Name); err != nil {
		reject(ctx, client, sessionID, err)
		return
	}
	client.Session.Advance(domain.StateJoined)

	go client.ReadPump(func(client *hub.Client, data []byte) {
		h.handleFrame(ctx, client, session.ID, data)
	}, func(client *hub.Client) {
		h.hub.Leave(client, hub.AIGroup(session.ID))
	})
}

func (h *AIWSHandler) handleFrame(ctx context.Context, client *hub.Client, sessionID string, data []byte) {
	in, err := domain.DecodeAIFrame(data)
	if err != nil {
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, frameErrorMessage(err)))
		return
	}

	switch msg := in.(type) {
	case domain.ChatMessageIn:
		_, err = h.coord.Submit(ctx, sessionID, client.User(), msg.Message)
	case domain.HistoryRequestIn:
		err = h.coord.History(ctx, client, sessionID, msg.Page, msg.Limit)
	}

	switch {
	case err == nil:
	case errors.Is(err, ai.ErrEmptyMessage), errors.Is(err, ai.ErrMessageTooLong):
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeValidation, err.Error()))
	case errors.Is(err, ai.ErrSessionClosed):
		client.Close(domain.CloseBadRoomRef, "session closed")
	default:
		reportFrameError(ctx, client, err)
	}
}
