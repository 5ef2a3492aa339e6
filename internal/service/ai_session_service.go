package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-totp-chat/internal/audit"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

// AiSessionConfig tunes session housekeeping.
type AiSessionConfig struct {
	IdleTimeout     time.Duration
	HistoryPageSize int
}

// aiSessionServiceImpl implements AiSessionService interface.
type aiSessionServiceImpl struct {
	rooms     repository.RoomRepository
	sessions  repository.AiRepository
	publisher pubsub.Publisher
	cfg       AiSessionConfig
	now       func() time.Time
}

// NewAiSessionService creates a new AI session service.
func NewAiSessionService(
	rooms repository.RoomRepository,
	sessions repository.AiRepository,
	publisher pubsub.Publisher,
	cfg AiSessionConfig,
	now func() time.Time,
) AiSessionService {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 24 * time.Hour
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if now == nil {
		now = time.Now
	}
	return &aiSessionServiceImpl{
		rooms:     rooms,
		sessions:  sessions,
		publisher: publisher,
		cfg:       cfg,
		now:       now,
	}
}

// StartSession opens a new AI session on a room the user belongs to.
func (s *aiSessionServiceImpl) StartSession(ctx context.Context, user domain.User, roomID string) (*domain.SessionResponse, error) {
	room, _, err := authorizeMember(ctx, s.rooms, roomID, user.ID)
	if err != nil {
		return nil, err
	}

	session := &domain.AiSession{
		ID:        uuid.New().String(),
		RoomID:    room.ID,
		CreatedBy: user.ID,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionStartSession, user.ID, room.ID, "ai session started")
	resp := toSessionResponse(session, room.Name)
	return &resp, nil
}

// ListSessions lists the AI sessions of a room, newest first.
func (s *aiSessionServiceImpl) ListSessions(ctx context.Context, user domain.User, roomID string) ([]domain.SessionResponse, error) {
	room, _, err := authorizeMember(ctx, s.rooms, roomID, user.ID)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessions.ListSessions(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SessionResponse, len(sessions))
	for i := range sessions {
		out[i] = toSessionResponse(&sessions[i], room.Name)
	}
	return out, nil
}

// GetHistory pages the session log. Page 1 is the newest page.
func (s *aiSessionServiceImpl) GetHistory(ctx context.Context, user domain.User, sessionID string, page, limit int) (*domain.AiHistoryPage, error) {
	if _, _, err := s.lookup(ctx, user, sessionID); err != nil {
		return nil, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > s.cfg.HistoryPageSize {
		limit = s.cfg.HistoryPageSize
	}

	msgs, total, err := s.sessions.ListMessages(ctx, sessionID, page, limit)
	if err != nil {
		return nil, err
	}

	out := make([]domain.AiMessageResponse, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ToResponse(user.ID)
	}
	return &domain.AiHistoryPage{
		Messages:   out,
		Page:       page,
		TotalCount: total,
		HasMore:    page*limit < total,
	}, nil
}

// CloseSession deactivates a session. Live connections to it are closed by
// the room event listener.
func (s *aiSessionServiceImpl) CloseSession(ctx context.Context, user domain.User, sessionID string) error {
	session, _, err := s.lookup(ctx, user, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return nil
	}

	if err := s.sessions.Deactivate(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}

	audit.Log(ctx, audit.ActionCloseSession, user.ID, session.RoomID, "ai session closed")
	publishEvent(ctx, s.publisher, session.RoomID, pubsub.EventSessionClosed, pubsub.SessionClosedPayload{
		RoomID:    session.RoomID,
		SessionID: sessionID,
	})
	return nil
}

// Authorize admits a connection only to an active session of a room the
// user belongs to.
func (s *aiSessionServiceImpl) Authorize(ctx context.Context, user domain.User, sessionID string) (*domain.AiSession, *domain.Room, error) {
	session, room, err := s.lookup(ctx, user, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsActive {
		return nil, nil, ErrSessionInactive
	}
	return session, room, nil
}

// ReapIdle deactivates sessions without a turn for longer than the idle
// timeout.
func (s *aiSessionServiceImpl) ReapIdle(ctx context.Context) (int, error) {
	before := s.now().UTC().Add(-s.cfg.IdleTimeout)
	reaped, err := s.sessions.DeactivateIdle(ctx, before)
	if err != nil {
		return 0, err
	}

	for _, session := range reaped {
		publishEvent(ctx, s.publisher, session.RoomID, pubsub.EventSessionClosed, pubsub.SessionClosedPayload{
			RoomID:    session.RoomID,
			SessionID: session.ID,
		})
	}
	if len(reaped) > 0 {
		audit.LogWithDetail(ctx, audit.ActionReapSessions, "system", "", fmt.Sprintf("count=%d", len(reaped)), "idle ai sessions closed")
	}
	return len(reaped), nil
}

// lookup loads a session and requires user to belong to its room.
func (s *aiSessionServiceImpl) lookup(ctx context.Context, user domain.User, sessionID string) (*domain.AiSession, *domain.Room, error) {
	if !idgen.ValidUUID(sessionID) {
		return nil, nil, ErrBadReference
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	room, _, err := authorizeMember(ctx, s.rooms, session.RoomID, user.ID)
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			l := log.Ctx(ctx)
			l.Warn().Str(log.FieldSessionID, sessionID).Str(log.FieldUserID, user.ID).Msg("ai session access denied")
		}
		return nil, nil, err
	}
	return session, room, nil
}

func toSessionResponse(s *domain.AiSession, roomName string) domain.SessionResponse {
	return domain.SessionResponse{
		SessionID:    s.ID,
		RoomID:       s.RoomID,
		BaseRoomName: roomName,
		IsActive:     s.IsActive,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
