// Package presence decides when a user's arrival in a room is announced.
package presence

import (
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Tracker reports whether a join should be announced. Implementations must be
// safe for concurrent use.
type Tracker interface {
	ShouldAnnounceJoin(roomID, userID string) bool
	Forget(roomID string)
}

// DebounceTracker suppresses repeat join announcements from the same user in
// the same room within a window. State is process-local and bounded: the least
// recently announced entries are evicted first.
type DebounceTracker struct {
	mu     sync.Mutex
	last   *lru.Cache
	window time.Duration
	now    func() time.Time
}

// NewDebounceTracker creates a tracker keeping at most capacity entries.
func NewDebounceTracker(window time.Duration, capacity int, now func() time.Time) (*DebounceTracker, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	if now == nil {
		now = time.Now
	}
	c, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence cache: %w", err)
	}
	return &DebounceTracker{
		last:   c,
		window: window,
		now:    now,
	}, nil
}

func trackerKey(roomID, userID string) string {
	return roomID + "|" + userID
}

// ShouldAnnounceJoin records the join and reports true when the previous
// announced join for roomID/userID is older than the window.
func (t *DebounceTracker) ShouldAnnounceJoin(roomID, userID string) bool {
	key := trackerKey(roomID, userID)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.last.Get(key); ok {
		if now.Sub(v.(time.Time)) < t.window {
			return false
		}
	}
	t.last.Add(key, now)
	return true
}

// Forget drops every entry of a deleted room.
func (t *DebounceTracker) Forget(roomID string) {
	prefix := roomID + "|"

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range t.last.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			t.last.Remove(k)
		}
	}
}

// AlwaysAnnounce announces every join.
type AlwaysAnnounce struct{}

func (AlwaysAnnounce) ShouldAnnounceJoin(string, string) bool { return true }
func (AlwaysAnnounce) Forget(string)                          {}
