// Package idgen mints ULIDs for log entries so that ids sort in append order,
// and checks the UUIDs that name rooms and AI sessions.
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator produces unique string identifiers.
type Generator interface {
	Generate() (string, error)
}

// ULIDGenerator generates monotonic ULIDs. Ids minted within the same
// millisecond still sort in the order they were generated.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULIDGenerator creates a new ULIDGenerator. A nil now uses time.Now.
func NewULIDGenerator(now func() time.Time) *ULIDGenerator {
	if now == nil {
		now = time.Now
	}
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     now,
	}
}

func (g *ULIDGenerator) Generate() (string, error) {
	return g.GenerateAt(g.now())
}

// GenerateAt mints an id carrying the timestamp t.
func (g *ULIDGenerator) GenerateAt(t time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), g.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// ValidUUID reports whether id is a well-formed UUID. Room and session
// references from clients are checked with it before any lookup.
func ValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
