package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Websocket close codes.
const (
	CloseInternalError   = 4000
	CloseUnauthenticated = 4001
	CloseBadRoomRef      = 4002
	CloseUnauthorized    = 4003
)

// Message types from client.
const (
	MsgTypeChatMessage       = "chat_message"
	MsgTypeTyping            = "typing"
	MsgTypeLoadMoreMessages  = "load_more_messages"
	MsgTypeGetMessageHistory = "get_message_history"
)

// Message types to client.
const (
	MsgTypeMessageHistory  = "message_history"
	MsgTypeMessage         = "message"
	MsgTypeUserJoined      = "user_joined"
	MsgTypeUserLeft        = "user_left"
	MsgTypeError           = "error"
	MsgTypeAIJoined        = "ai_joined"
	MsgTypeAIThinking      = "ai_thinking"
	MsgTypeAIError         = "ai_error"
	MsgTypeHistoryComplete = "history_complete"
)

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeNotInRoom     = "NOT_IN_ROOM"
)

var (
	ErrMalformedFrame = errors.New("malformed message")
	ErrUnknownType    = errors.New("unknown message type")
)

// Inbound is the closed set of client frames. Only the types in this file
// implement it.
type Inbound interface {
	inbound()
}

// ChatMessageIn carries user text.
type ChatMessageIn struct {
	Message string `json:"message"`
}

// TypingIn toggles the typing indicator.
type TypingIn struct {
	IsTyping bool `json:"is_typing"`
}

// LoadMoreIn asks for older room messages.
type LoadMoreIn struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// HistoryRequestIn asks for a page of AI-session history.
type HistoryRequestIn struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (ChatMessageIn) inbound()    {}
func (TypingIn) inbound()         {}
func (LoadMoreIn) inbound()       {}
func (HistoryRequestIn) inbound() {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeRoomFrame decodes a frame received on a room connection.
func DecodeRoomFrame(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedFrame
	}

	switch env.Type {
	case MsgTypeChatMessage:
		return decodeAs[ChatMessageIn](data)
	case MsgTypeTyping:
		return decodeAs[TypingIn](data)
	case MsgTypeLoadMoreMessages:
		return decodeAs[LoadMoreIn](data)
	default:
		return nil, ErrUnknownType
	}
}

// DecodeAIFrame decodes a frame received on an AI-session connection.
func DecodeAIFrame(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedFrame
	}

	switch env.Type {
	case MsgTypeChatMessage:
		return decodeAs[ChatMessageIn](data)
	case MsgTypeGetMessageHistory:
		return decodeAs[HistoryRequestIn](data)
	default:
		return nil, ErrUnknownType
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, ErrMalformedFrame
	}
	return v, nil
}

// Server -> Client messages

type MessageHistoryEvent struct {
	Type       string            `json:"type"`
	Messages   []MessageResponse `json:"messages"`
	TotalCount int               `json:"total_count"`
	HasMore    bool              `json:"has_more"`
	Offset     int               `json:"offset"`
}

type MessageEvent struct {
	Type string `json:"type"`
	MessageResponse
}

type PresenceEvent struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type AIChatEvent struct {
	Type string `json:"type"`
	AiMessageResponse
}

type AIJoinedEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	RoomID     string `json:"room_id"`
	RoomName   string `json:"room_name"`
	AIUsername string `json:"ai_username"`
	Message    string `json:"message"`
}

type AIThinkingEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type AIErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AIHistoryEvent struct {
	Type string `json:"type"`
	AiHistoryPage
}

type HistoryCompleteEvent struct {
	Type string `json:"type"`
	Page int    `json:"page"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
