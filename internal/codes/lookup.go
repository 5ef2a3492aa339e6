// Package codes issues room access codes and resolves submitted codes back to
// their room. The cache it fronts is only an index: a resolved code must still
// be verified against the room secret.
package codes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-totp-chat/internal/cache"
	"github.com/weiawesome/wes-totp-chat/internal/totp"
)

// ErrCodeNotFound covers both never-issued and expired codes.
var ErrCodeNotFound = errors.New("code invalid or expired")

// Issued is a freshly issued code.
type Issued struct {
	Code      string
	RoomID    string
	RoomName  string
	Interval  int
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Lookup derives codes with a totp.Engine and indexes them in a CodeCache.
type Lookup struct {
	engine *totp.Engine
	cache  cache.CodeCache
	ttl    time.Duration
	now    func() time.Time
}

// NewLookup creates a Lookup. A zero ttl defaults to 30s, a nil now to
// time.Now.
func NewLookup(engine *totp.Engine, c cache.CodeCache, ttl time.Duration, now func() time.Time) *Lookup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Lookup{
		engine: engine,
		cache:  c,
		ttl:    ttl,
		now:    now,
	}
}

// Issue derives the current code for secret and maps it to the room for the
// lookup TTL. Re-issuing within the same step overwrites the same key.
func (l *Lookup) Issue(ctx context.Context, secret []byte, roomID, roomName, issuedBy string) (*Issued, error) {
	now := l.now()
	code, err := l.engine.Derive(secret, now)
	if err != nil {
		return nil, err
	}

	entry := &cache.CodeEntry{
		RoomID:   roomID,
		RoomName: roomName,
		IssuedBy: issuedBy,
		IssuedAt: now,
	}
	if err := l.cache.Set(ctx, code, entry, l.ttl); err != nil {
		return nil, fmt.Errorf("failed to index code: %w", err)
	}

	return &Issued{
		Code:      code,
		RoomID:    roomID,
		RoomName:  roomName,
		Interval:  l.engine.Interval(),
		IssuedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}, nil
}

// Resolve returns the room a code was issued for.
func (l *Lookup) Resolve(ctx context.Context, code string) (*cache.CodeEntry, error) {
	entry, err := l.cache.Get(ctx, code)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Invalidate drops a single code.
func (l *Lookup) Invalidate(ctx context.Context, code string) error {
	return l.cache.Delete(ctx, code)
}

// InvalidateRoom drops every code issued for roomID.
func (l *Lookup) InvalidateRoom(ctx context.Context, roomID string) error {
	return l.cache.DeleteRoom(ctx, roomID)
}

// Verify checks code against secret at the current time.
func (l *Lookup) Verify(secret []byte, code string) bool {
	return l.engine.Verify(secret, code, l.now())
}

// ValidFormat reports whether code is shaped like an access code.
func (l *Lookup) ValidFormat(code string) bool {
	return l.engine.ValidFormat(code)
}

// Interval returns the code step length in seconds.
func (l *Lookup) Interval() int {
	return l.engine.Interval()
}
