package domain

import "time"

// AiRole tags the author of an AI-session message.
type AiRole string

const (
	AiRoleUser      AiRole = "user"
	AiRoleAssistant AiRole = "assistant"
)

// AiSession is an isolated AI conversation thread attached to a room.
type AiSession struct {
	ID        string
	RoomID    string
	CreatedBy string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AiMessage is one turn of an AI session.
type AiMessage struct {
	ID        string
	SessionID string
	Role      AiRole
	UserID    string
	Username  string
	Content   string
	CreatedAt time.Time
}

// StartSessionRequest opens an AI session on a room.
type StartSessionRequest struct {
	RoomID string `json:"room_id" binding:"required"`
}

// ListSessionsRequest filters sessions by room.
type ListSessionsRequest struct {
	RoomID string `form:"room_id" binding:"required"`
}

// AiHistoryRequest pages an AI session's log, newest page first.
type AiHistoryRequest struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// SessionResponse describes an AI session.
type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	RoomID       string    `json:"room_id"`
	BaseRoomName string    `json:"base_room_name"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AiMessageResponse is an AI-session message as seen by one viewer.
type AiMessageResponse struct {
	MessageID string    `json:"message_id"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	IsAI      bool      `json:"is_ai"`
	IsSelf    bool      `json:"is_self"`
	CreatedAt time.Time `json:"created_at"`
}

// ToResponse renders the message for viewerID.
func (m *AiMessage) ToResponse(viewerID string) AiMessageResponse {
	isAI := m.Role == AiRoleAssistant
	return AiMessageResponse{
		MessageID: m.ID,
		Message:   m.Content,
		Username:  m.Username,
		IsAI:      isAI,
		IsSelf:    !isAI && m.UserID == viewerID,
		CreatedAt: m.CreatedAt,
	}
}

// AiHistoryPage is one chronological page of an AI session.
type AiHistoryPage struct {
	Messages   []AiMessageResponse `json:"messages"`
	Page       int                 `json:"page"`
	TotalCount int                 `json:"total_count"`
	HasMore    bool                `json:"has_more"`
}
