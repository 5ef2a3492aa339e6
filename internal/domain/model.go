package domain

import (
	"time"
)

// RoomModel is the GORM model for rooms table.
type RoomModel struct {
	ID            string    `gorm:"type:varchar(36);primaryKey"`
	Name          string    `gorm:"type:varchar(200);uniqueIndex;not null"`
	Description   string    `gorm:"type:text"`
	AdminID       string    `gorm:"type:varchar(64);index;not null"`
	AdminUsername string    `gorm:"type:varchar(150);not null"`
	IsActive      bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string {
	return "rooms"
}

// RoomSecretModel holds the sealed TOTP secret of a room. Never updated.
type RoomSecretModel struct {
	RoomID         string    `gorm:"type:varchar(36);primaryKey"`
	EncryptedValue string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (RoomSecretModel) TableName() string {
	return "room_secrets"
}

// MembershipModel links a user to a room.
type MembershipModel struct {
	RoomID   string    `gorm:"type:varchar(36);primaryKey"`
	UserID   string    `gorm:"type:varchar(64);primaryKey;index"`
	Username string    `gorm:"type:varchar(150);not null"`
	Role     string    `gorm:"type:varchar(20);not null"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

func (MembershipModel) TableName() string {
	return "room_memberships"
}

// MessageModel is one row of a room's message log.
type MessageModel struct {
	ID        string    `gorm:"type:varchar(26);primaryKey"`
	RoomID    string    `gorm:"type:varchar(36);index:idx_messages_room_created,priority:1;not null"`
	UserID    string    `gorm:"type:varchar(64);not null"`
	Username  string    `gorm:"type:varchar(150);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_created,priority:2;not null"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// AiSessionModel is the GORM model for AI sessions.
type AiSessionModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	RoomID    string    `gorm:"type:varchar(36);index;not null"`
	CreatedBy string    `gorm:"type:varchar(64);not null"`
	IsActive  bool      `gorm:"not null;default:true;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"index"`
}

func (AiSessionModel) TableName() string {
	return "ai_sessions"
}

// AiMessageModel is one turn of an AI session.
type AiMessageModel struct {
	ID        string    `gorm:"type:varchar(26);primaryKey"`
	SessionID string    `gorm:"type:varchar(36);index:idx_ai_messages_session_created,priority:1;not null"`
	Role      string    `gorm:"type:varchar(16);not null"`
	UserID    string    `gorm:"type:varchar(64)"`
	Username  string    `gorm:"type:varchar(150);not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_ai_messages_session_created,priority:2;not null"`
}

func (AiMessageModel) TableName() string {
	return "ai_messages"
}

// Models lists every table for auto-migration.
func Models() []interface{} {
	return []interface{}{
		&RoomModel{},
		&RoomSecretModel{},
		&MembershipModel{},
		&MessageModel{},
		&AiSessionModel{},
		&AiMessageModel{},
	}
}

// ToDomain converts RoomModel to domain Room.
func (m *RoomModel) ToDomain() *Room {
	return &Room{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		AdminID:       m.AdminID,
		AdminUsername: m.AdminUsername,
		IsActive:      m.IsActive,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// RoomToModel converts domain Room to RoomModel.
func RoomToModel(r *Room) *RoomModel {
	return &RoomModel{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		AdminID:       r.AdminID,
		AdminUsername: r.AdminUsername,
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (m *MembershipModel) ToDomain() Participant {
	return Participant{
		UserID:   m.UserID,
		Username: m.Username,
		Role:     MemberRole(m.Role),
		JoinedAt: m.JoinedAt,
	}
}

func (m *MessageModel) ToDomain() Message {
	return Message{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

func (m *AiSessionModel) ToDomain() *AiSession {
	return &AiSession{
		ID:        m.ID,
		RoomID:    m.RoomID,
		CreatedBy: m.CreatedBy,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func (m *AiMessageModel) ToDomain() AiMessage {
	return AiMessage{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      AiRole(m.Role),
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func AiMessageToModel(msg *AiMessage) *AiMessageModel {
	return &AiMessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Role:      string(msg.Role),
		UserID:    msg.UserID,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}
