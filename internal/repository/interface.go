package repository

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSecretNotFound  = errors.New("room secret not found")
	ErrDuplicateName   = errors.New("room name already exists")
	ErrSessionNotFound = errors.New("ai session not found")
)

// RoomRepository persists rooms, their sealed secrets and memberships.
type RoomRepository interface {
	// CreateWithSecret inserts the room, the admin membership and the sealed
	// secret in one transaction.
	CreateWithSecret(ctx context.Context, room *domain.Room, sealedSecret string) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	GetSecret(ctx context.Context, roomID string) (string, error)
	GetUserRooms(ctx context.Context, userID string, page, pageSize int) ([]domain.RoomSummary, int, error)
	ListAll(ctx context.Context, page, pageSize int) ([]domain.Room, int, error)
	Authorize(ctx context.Context, roomID, userID string) (domain.Membership, error)
	// AddParticipant reports false when the user already was a member.
	AddParticipant(ctx context.Context, roomID string, user domain.User) (bool, int, error)
	RemoveParticipant(ctx context.Context, roomID, userID string) (bool, error)
	CountParticipants(ctx context.Context, roomID string) (int, error)
	ListParticipants(ctx context.Context, roomID string) ([]domain.Participant, error)
	// DeleteRoom removes the room and everything it owns. It returns the ids
	// of the AI sessions that were removed with it.
	DeleteRoom(ctx context.Context, roomID string, invalidateCodes func(context.Context) error) ([]string, error)
}

// MessageRepository is the append-only log of room messages.
type MessageRepository interface {
	Append(ctx context.Context, msg *domain.Message) error
	// ListRecent skips the offset newest messages and returns up to limit
	// older ones in chronological order, plus the room's total count.
	ListRecent(ctx context.Context, roomID string, offset, limit int) ([]domain.Message, int, error)
	Count(ctx context.Context, roomID string) (int, error)
}

// AiRepository persists AI sessions and their separate message log.
type AiRepository interface {
	CreateSession(ctx context.Context, session *domain.AiSession) error
	GetSession(ctx context.Context, id string) (*domain.AiSession, error)
	ListSessions(ctx context.Context, roomID string) ([]domain.AiSession, error)
	Deactivate(ctx context.Context, id string) error
	DeactivateIdle(ctx context.Context, before time.Time) ([]domain.AiSession, error)
	AppendMessage(ctx context.Context, msg *domain.AiMessage) error
	// RecentMessages returns the newest limit messages of the session, oldest
	// first. A non-empty promptID leaves out that message and every user
	// turn written after it.
	RecentMessages(ctx context.Context, sessionID string, limit int, promptID string) ([]domain.AiMessage, error)
	// ListMessages pages from the newest end: page 1 holds the latest limit
	// messages. Each page is chronological.
	ListMessages(ctx context.Context, sessionID string, page, limit int) ([]domain.AiMessage, int, error)
}
