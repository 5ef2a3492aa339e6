package domain

import (
	"sync"
	"time"
)

// ConnState is the lifecycle stage of one live connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticating
	StateAuthorizing
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection state shared by the read and write pumps.
type Session struct {
	ID           string
	user         User
	roomID       string
	state        ConnState
	CreatedAt    time.Time
	LastActiveAt time.Time
	mu           sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		state:        StateConnecting,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Advance moves the session forward. Transitions out of Closed and backwards
// moves are ignored; the return value reports whether the state changed.
func (s *Session) Advance(next ConnState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || next <= s.state {
		return false
	}
	s.state = next
	return true
}

// Close moves the session to Closed and reports the state it left.
func (s *Session) Close() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	s.state = StateClosed
	return prev
}

func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Authenticate(user User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.LastActiveAt = time.Now()
}

func (s *Session) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) JoinRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
	s.LastActiveAt = time.Now()
}

func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
