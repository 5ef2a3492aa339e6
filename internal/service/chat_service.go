package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/presence"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// ChatConfig bounds live room traffic.
type ChatConfig struct {
	MaxMessageLength int
	HistoryLimit     int
	MaxPageSize      int
}

// chatServiceImpl implements ChatService interface.
type chatServiceImpl struct {
	hub      *hub.Hub
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	ids      idgen.Generator
	presence presence.Tracker
	cfg      ChatConfig
	now      func() time.Time

	// serialises persist + broadcast per room
	locks *hub.KeyedMutex
}

// NewChatService creates a new chat service.
func NewChatService(
	h *hub.Hub,
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	ids idgen.Generator,
	tracker presence.Tracker,
	cfg ChatConfig,
	now func() time.Time,
) ChatService {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 1000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if now == nil {
		now = time.Now
	}
	return &chatServiceImpl{
		hub:      h,
		rooms:    rooms,
		messages: messages,
		ids:      ids,
		presence: tracker,
		cfg:      cfg,
		now:      now,
		locks:    hub.NewKeyedMutex(),
	}
}

// Admit authorizes client for roomID, replays recent history and adds it to
// the room group. History and join happen under the room lock, so the client
// sees every message exactly once.
func (s *chatServiceImpl) Admit(ctx context.Context, client *hub.Client, roomID string) error {
	user := client.User()
	if _, _, err := authorizeMember(ctx, s.rooms, roomID, user.ID); err != nil {
		return err
	}
	client.Session.Advance(domain.StateAuthorizing)

	unlock := s.locks.Lock(roomID)
	defer unlock()

	msgs, total, err := s.messages.ListRecent(ctx, roomID, 0, s.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	page := renderPage(msgs, total, 0, user.ID)
	client.SendMessage(&domain.MessageHistoryEvent{
		Type:       domain.MsgTypeMessageHistory,
		Messages:   page.Messages,
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	})

	if !s.hub.Join(client, hub.RoomGroup(roomID)) {
		return nil
	}
	client.Session.JoinRoom(roomID)
	client.Session.Advance(domain.StateJoined)

	if s.presence.ShouldAnnounceJoin(roomID, user.ID) {
		s.hub.Broadcast(hub.RoomGroup(roomID), &domain.PresenceEvent{
			Type:      domain.MsgTypeUserJoined,
			Username:  user.Username,
			Message:   fmt.Sprintf("%s joined the room", user.Username),
			Timestamp: s.now().UTC(),
		})
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldConnID, client.ID).
		Msg("client joined room")
	return nil
}

// SendMessage stores text and relays it to everyone in the room, each
// recipient seeing its own is_self flag. A sender who has left, or whose room
// is gone, is disconnected and nothing is stored.
func (s *chatServiceImpl) SendMessage(ctx context.Context, client *hub.Client, text string) error {
	roomID, err := joinedRoom(client)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", ErrValidation)
	}
	if utf8.RuneCountInString(text) > s.cfg.MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, s.cfg.MaxMessageLength)
	}

	user := client.User()
	client.Session.UpdateActivity()

	unlock := s.locks.Lock(roomID)
	defer unlock()

	if err := s.recheck(ctx, client, roomID); err != nil {
		return err
	}

	id, err := s.ids.Generate()
	if err != nil {
		return err
	}
	msg := &domain.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    user.ID,
		Username:  user.Username,
		Content:   text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return s.revoke(ctx, client, roomID, ErrNotFound)
		}
		return err
	}

	s.hub.BroadcastEach(hub.RoomGroup(roomID), func(c *hub.Client) interface{} {
		return &domain.MessageEvent{
			Type:            domain.MsgTypeMessage,
			MessageResponse: msg.ToResponse(c.User().ID),
		}
	})
	return nil
}

// Typing relays a typing indicator to everyone else in the room.
func (s *chatServiceImpl) Typing(ctx context.Context, client *hub.Client, isTyping bool) error {
	roomID, err := joinedRoom(client)
	if err != nil {
		return err
	}
	user := client.User()
	return s.hub.BroadcastExcept(hub.RoomGroup(roomID), &domain.TypingEvent{
		Type:     domain.MsgTypeTyping,
		Username: user.Username,
		IsTyping: isTyping,
	}, user.ID)
}

// LoadMore sends an older page of history to client only.
func (s *chatServiceImpl) LoadMore(ctx context.Context, client *hub.Client, offset, limit int) error {
	roomID, err := joinedRoom(client)
	if err != nil {
		return err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > s.cfg.MaxPageSize {
		limit = s.cfg.HistoryLimit
	}
	if err := s.recheck(ctx, client, roomID); err != nil {
		return err
	}

	msgs, total, err := s.messages.ListRecent(ctx, roomID, offset, limit)
	if err != nil {
		return err
	}
	page := renderPage(msgs, total, offset, client.User().ID)
	return client.SendMessage(&domain.MessageHistoryEvent{
		Type:       domain.MsgTypeMessageHistory,
		Messages:   page.Messages,
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
		Offset:     offset,
	})
}

// Disconnect removes client from its room group and tells the others.
func (s *chatServiceImpl) Disconnect(ctx context.Context, client *hub.Client) {
	roomID := client.Session.RoomID()
	client.Session.Close()
	if roomID == "" {
		return
	}

	user := client.User()
	s.hub.Leave(client, hub.RoomGroup(roomID))
	s.hub.Broadcast(hub.RoomGroup(roomID), &domain.PresenceEvent{
		Type:      domain.MsgTypeUserLeft,
		Username:  user.Username,
		Message:   fmt.Sprintf("%s left the room", user.Username),
		Timestamp: s.now().UTC(),
	})

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldRoomID, roomID).
		Str(log.FieldConnID, client.ID).
		Msg("client left room")
}

// recheck confirms the client's user still belongs to roomID. Membership can
// end after admission, through a leave or a room deletion.
func (s *chatServiceImpl) recheck(ctx context.Context, client *hub.Client, roomID string) error {
	membership, err := s.rooms.Authorize(ctx, roomID, client.User().ID)
	switch {
	case errors.Is(err, repository.ErrRoomNotFound):
		return s.revoke(ctx, client, roomID, ErrNotFound)
	case err != nil:
		return err
	case !membership.Allowed():
		return s.revoke(ctx, client, roomID, ErrForbidden)
	}
	return nil
}

// revoke closes client, which also takes it out of the room group.
func (s *chatServiceImpl) revoke(ctx context.Context, client *hub.Client, roomID string, cause error) error {
	client.Close(domain.CloseUnauthorized, "unauthorized")

	l := log.Ctx(ctx)
	l.Info().
		Err(cause).
		Str(log.FieldRoomID, roomID).
		Str(log.FieldConnID, client.ID).
		Msg("membership ended, connection closed")
	return cause
}

func joinedRoom(client *hub.Client) (string, error) {
	if client.Session.State() != domain.StateJoined {
		return "", ErrNotJoined
	}
	return client.Session.RoomID(), nil
}
