// Package cache stores the short-lived code -> room mapping behind issued
// access codes.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a code was never issued or has aged out.
var ErrCacheMiss = errors.New("cache miss")

// CodeEntry is what an issued code resolves to.
type CodeEntry struct {
	RoomID   string    `json:"room_id"`
	RoomName string    `json:"room_name"`
	IssuedBy string    `json:"issued_by"`
	IssuedAt time.Time `json:"issued_at"`
}

// CodeCache maps codes to rooms with a per-key expiry. Implementations must be
// safe for concurrent use.
type CodeCache interface {
	Get(ctx context.Context, code string) (*CodeEntry, error)
	Set(ctx context.Context, code string, entry *CodeEntry, ttl time.Duration) error
	Delete(ctx context.Context, codes ...string) error
	// DeleteRoom drops every code currently mapped to roomID.
	DeleteRoom(ctx context.Context, roomID string) error
	Close() error
}
