package domain

import (
	"time"
)

// User is the authenticated caller as asserted by the identity provider.
type User struct {
	ID       string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// MemberRole distinguishes the room admin from ordinary participants.
type MemberRole string

const (
	RoleAdmin       MemberRole = "admin"
	RoleParticipant MemberRole = "participant"
)

// Room is an ephemeral chat room protected by a rotating access code.
type Room struct {
	ID            string    `json:"room_id"`
	Name          string    `json:"room_name"`
	Description   string    `json:"description,omitempty"`
	AdminID       string    `json:"admin_id"`
	AdminUsername string    `json:"admin"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Participant is one membership row of a room.
type Participant struct {
	UserID   string     `json:"user_id"`
	Username string     `json:"username"`
	Role     MemberRole `json:"role"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Membership is the outcome of an authorization query. The admin is a member
// even when no participant row exists for them.
type Membership struct {
	IsAdmin       bool
	IsParticipant bool
}

// Allowed reports whether room-scoped operations are permitted.
func (m Membership) Allowed() bool {
	return m.IsAdmin || m.IsParticipant
}

// JoinResult is reported by a code-based join.
type JoinResult string

const (
	JoinResultJoined        JoinResult = "joined"
	JoinResultAlreadyJoined JoinResult = "already_joined"
)

// LeaveResult is reported by a leave request.
type LeaveResult string

const (
	LeaveResultRoomDeleted LeaveResult = "room_deleted"
	LeaveResultLeft        LeaveResult = "left_room"
)

// MaxRoomNameLength bounds display names (in characters).
const MaxRoomNameLength = 50

// CreateRoomRequest represents a create room request.
type CreateRoomRequest struct {
	RoomName    string `json:"room_name" binding:"required"`
	Description string `json:"description"`
}

// CreateRoomResponse is returned after a room is created.
type CreateRoomResponse struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	Admin    string `json:"admin"`
}

// AccessCodeResponse carries a freshly issued access code.
type AccessCodeResponse struct {
	Totp      string    `json:"totp"`
	Interval  int       `json:"interval"`
	RoomName  string    `json:"room_name"`
	RoomID    string    `json:"room_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JoinRoomRequest submits an access code.
type JoinRoomRequest struct {
	Totp string `json:"totp" binding:"required"`
}

// JoinRoomResponse is returned after a successful code join.
type JoinRoomResponse struct {
	Result           JoinResult `json:"result"`
	RoomID           string     `json:"room_id"`
	RoomName         string     `json:"room_name"`
	ParticipantCount int        `json:"participant_count"`
}

// EnterRoomResponse is returned when a member re-enters without a code.
type EnterRoomResponse struct {
	Result   string `json:"result"`
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
}

// LeaveRoomResponse is returned after a leave.
type LeaveRoomResponse struct {
	Result LeaveResult `json:"result"`
	RoomID string      `json:"room_id"`
}

// ListMyRoomsRequest represents pagination of the caller's rooms.
type ListMyRoomsRequest struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

// RoomSummary is one entry in the caller's room list.
type RoomSummary struct {
	RoomID           string    `json:"room_id"`
	RoomName         string    `json:"room_name"`
	Description      string    `json:"description,omitempty"`
	Admin            string    `json:"admin"`
	IsAdmin          bool      `json:"is_admin"`
	ParticipantCount int       `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListMyRoomsResponse represents the caller's rooms.
type ListMyRoomsResponse struct {
	Rooms      []RoomSummary `json:"rooms"`
	TotalCount int           `json:"total_count"`
}

// RoomDetailResponse describes a room to one of its members.
type RoomDetailResponse struct {
	RoomSummary
	Participants []Participant `json:"participants"`
}
