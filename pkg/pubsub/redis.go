package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// RedisPubSub fans room events out across server instances through Redis
// channels.
type RedisPubSub struct {
	client *redis.Client
	subs   map[*redis.PubSub]struct{}
	closed bool
	mu     sync.Mutex
}

// NewRedisPubSub dials Redis and checks the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisPubSubFromClient(client), nil
}

// NewRedisPubSubFromClient wraps an existing client. Close closes it.
func NewRedisPubSubFromClient(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.start(ctx, channel, r.client.Subscribe(ctx, channel))
}

func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.start(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) start(ctx context.Context, name string, ps *redis.PubSub) (<-chan *Event, error) {
	// Wait for the subscription confirmation so no event published after
	// return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ps.Close()
		return nil, ErrClosed
	}
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go r.forward(ctx, ps, eventCh)
	return eventCh, nil
}

// Close ends every stream and closes the client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for ps := range subs {
		ps.Close()
	}
	return r.client.Close()
}

// forward decodes Redis messages onto eventCh. A full channel drops the
// event rather than stalling the Redis connection.
func (r *RedisPubSub) forward(ctx context.Context, ps *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)
	defer r.release(ps)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
				continue
			}

			select {
			case eventCh <- &event:
			default:
				l := log.L()
				l.Warn().Str("channel", msg.Channel).Str(log.FieldEvent, event.Type).Msg("subscriber lagging, event dropped")
			}
		}
	}
}

func (r *RedisPubSub) release(ps *redis.PubSub) {
	r.mu.Lock()
	_, ok := r.subs[ps]
	delete(r.subs, ps)
	r.mu.Unlock()
	if ok {
		ps.Close()
	}
}
