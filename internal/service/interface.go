package service

import (
	"context"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
)

// RoomService covers room lifecycle and code-based admission.
type RoomService interface {
	CreateRoom(ctx context.Context, user domain.User, req *domain.CreateRoomRequest) (*domain.CreateRoomResponse, error)
	GenerateCode(ctx context.Context, user domain.User, roomID string) (*domain.AccessCodeResponse, error)
	JoinByCode(ctx context.Context, user domain.User, code string) (*domain.JoinRoomResponse, error)
	EnterRoom(ctx context.Context, user domain.User, roomID string) (*domain.EnterRoomResponse, error)
	LeaveRoom(ctx context.Context, user domain.User, roomID string) (*domain.LeaveRoomResponse, error)
	ListMyRooms(ctx context.Context, user domain.User, page, pageSize int) (*domain.ListMyRoomsResponse, error)
	GetRoomDetail(ctx context.Context, user domain.User, roomID string) (*domain.RoomDetailResponse, error)
	GetMessages(ctx context.Context, user domain.User, roomID string, offset, limit int) (*domain.MessagePage, error)
	// DeleteRoom removes a room regardless of caller. Used by operators.
	DeleteRoom(ctx context.Context, roomID, actor string) error
}

// ChatService drives live room connections: admission with history replay,
// message relay, presence and typing.
type ChatService interface {
	Admit(ctx context.Context, client *hub.Client, roomID string) error
	SendMessage(ctx context.Context, client *hub.Client, text string) error
	Typing(ctx context.Context, client *hub.Client, isTyping bool) error
	LoadMore(ctx context.Context, client *hub.Client, offset, limit int) error
	Disconnect(ctx context.Context, client *hub.Client)
}

// AiSessionService manages AI sessions attached to rooms.
type AiSessionService interface {
	StartSession(ctx context.Context, user domain.User, roomID string) (*domain.SessionResponse, error)
	ListSessions(ctx context.Context, user domain.User, roomID string) ([]domain.SessionResponse, error)
	GetHistory(ctx context.Context, user domain.User, sessionID string, page, limit int) (*domain.AiHistoryPage, error)
	CloseSession(ctx context.Context, user domain.User, sessionID string) error
	// Authorize checks a connection to sessionID and returns the session and
	// its room.
	Authorize(ctx context.Context, user domain.User, sessionID string) (*domain.AiSession, *domain.Room, error)
	ReapIdle(ctx context.Context) (int, error)
}
