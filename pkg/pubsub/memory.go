package pubsub

import (
	"context"
	"errors"
	"path"
	"sync"
)

var ErrClosed = errors.New("pubsub is closed")

type memorySubscription struct {
	key     string
	pattern bool
	ch      chan *Event
}

// MemoryPubSub is an in-process event bus for single-instance deployments.
// Delivery is best effort: a subscriber whose buffer is full misses events.
type MemoryPubSub struct {
	subs   map[*memorySubscription]struct{}
	closed bool
	mu     sync.RWMutex
}

// NewMemoryPubSub creates an empty in-process bus.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[*memorySubscription]struct{})}
}

// Publish delivers the event to every matching subscription.
func (m *MemoryPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	for sub := range m.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (m *MemoryPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return m.add(ctx, channel, false)
}

// SubscribePattern subscribes to channels matching a glob pattern.
func (m *MemoryPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	return m.add(ctx, pattern, true)
}

// Close removes all subscriptions; later publishes fail with ErrClosed.
func (m *MemoryPubSub) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sub := range m.subs {
		m.removeLocked(sub)
	}
	m.closed = true
	return nil
}

func (m *MemoryPubSub) add(ctx context.Context, key string, pattern bool) (<-chan *Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{key: key, pattern: pattern, ch: make(chan *Event, 100)}
	m.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		m.removeLocked(sub)
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

func (m *MemoryPubSub) removeLocked(sub *memorySubscription) {
	if _, ok := m.subs[sub]; !ok {
		return
	}
	delete(m.subs, sub)
	close(sub.ch)
}

func (s *memorySubscription) matches(channel string) bool {
	if !s.pattern {
		return s.key == channel
	}
	ok, _ := path.Match(s.key, channel)
	return ok
}
