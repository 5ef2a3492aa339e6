package domain

import "time"

// Message is one immutable entry in a room's log.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Username  string
	Content   string
	CreatedAt time.Time
}

// ToResponse renders the message for viewerID.
func (m *Message) ToResponse(viewerID string) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		IsSelf:    m.UserID == viewerID,
	}
}

// MessageResponse is a message as seen by one viewer.
type MessageResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	IsSelf    bool      `json:"is_self"`
}

// ListMessagesRequest pages backwards from the newest message.
type ListMessagesRequest struct {
	Offset int `form:"offset"`
	Limit  int `form:"limit"`
}

// MessagePage is a chronological slice of a room's history.
type MessagePage struct {
	Messages   []MessageResponse `json:"messages"`
	TotalCount int               `json:"total_count"`
	HasMore    bool              `json:"has_more"`
}
