package pubsub

import "fmt"

// Channel naming conventions for room lifecycle events.
const (
	ChannelRoomEvents = "room:%s:events"
	PatternRoomEvents = "room:*:events"
)

// Room lifecycle event types.
const (
	EventRoomCreated   = "room_created"
	EventRoomDeleted   = "room_deleted"
	EventMemberJoined  = "member_joined"
	EventMemberLeft    = "member_left"
	EventSessionClosed = "ai_session_closed"
)

// RoomEventsChannel returns the channel carrying lifecycle events of a room.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}

// RoomDeletedPayload is published after a room and its children are removed.
type RoomDeletedPayload struct {
	RoomID     string   `json:"room_id"`
	DeletedBy  string   `json:"deleted_by"`
	SessionIDs []string `json:"session_ids"`
}

// MemberPayload is published when a user joins or leaves a room.
type MemberPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// RoomCreatedPayload is published after a room is created.
type RoomCreatedPayload struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	AdminID  string `json:"admin_id"`
}

// SessionClosedPayload is published when an AI session is deactivated.
type SessionClosedPayload struct {
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
}
