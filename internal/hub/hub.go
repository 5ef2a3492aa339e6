package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// Config holds the per-connection websocket settings.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// RoomGroup names the broadcast group of a room's plain chat.
func RoomGroup(roomID string) string {
	return "room:" + roomID
}

// AIGroup names the broadcast group of an AI session. It never overlaps a
// room group.
func AIGroup(sessionID string) string {
	return "ai:" + sessionID
}

// Hub tracks live clients and the broadcast groups they belong to. Delivery
// is synchronous and never blocks on a client: a client whose buffer is full
// is evicted by Run.
type Hub struct {
	clients map[string]*Client            // clientID -> client
	groups  map[string]map[string]*Client // group -> clientID -> client
	evict   chan *Client
	mu      sync.RWMutex
	config  Config
}

func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	return &Hub{
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
		evict:   make(chan *Client, 64),
		config:  cfg,
	}
}

// Run evicts slow clients until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case client := <-h.evict:
			l := log.L()
			l.Warn().Str(log.FieldConnID, client.ID).Msg("evicting slow client")
			client.Close(4000, "send buffer full")
		}
	}
}

func (h *Hub) Config() Config {
	return h.config
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID).Msg("client registered")
}

// Unregister removes client from every group and closes its send buffer.
// It is safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	if ok {
		for key, members := range h.groups {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.groups, key)
			}
		}
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	client.closeSend()
	if ok {
		l := log.L()
		l.Debug().Str(log.FieldConnID, client.ID).Msg("client unregistered")
	}
}

// Join adds client to group. It reports false when the client is no longer
// registered.
func (h *Hub) Join(client *Client, group string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[string]*Client)
	}
	h.groups[group][client.ID] = client
	return true
}

func (h *Hub) Leave(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.groups[group]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// Broadcast sends message to every client in group.
func (h *Hub) Broadcast(group string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.deliver(group, func(*Client) ([]byte, bool) { return data, true })
	return nil
}

// BroadcastExcept sends message to every client in group not owned by userID.
func (h *Hub) BroadcastExcept(group string, message interface{}, userID string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.deliver(group, func(c *Client) ([]byte, bool) {
		return data, c.User().ID != userID
	})
	return nil
}

// BroadcastEach renders a separate message for each recipient.
func (h *Hub) BroadcastEach(group string, render func(*Client) interface{}) {
	h.deliver(group, func(c *Client) ([]byte, bool) {
		data, err := json.Marshal(render(c))
		if err != nil {
			l := log.L()
			l.Error().Err(err).Str(log.FieldConnID, c.ID).Msg("failed to marshal message")
			return nil, false
		}
		return data, true
	})
}

func (h *Hub) deliver(group string, payload func(*Client) ([]byte, bool)) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.groups[group] {
		data, ok := payload(client)
		if !ok {
			continue
		}
		if !client.SendRaw(data) {
			h.queueEviction(client)
		}
	}
}

func (h *Hub) queueEviction(client *Client) {
	select {
	case h.evict <- client:
	default:
		go client.Close(4000, "send buffer full")
	}
}

// CloseGroup closes every connection in group with code.
func (h *Hub) CloseGroup(group string, code int, reason string) int {
	return h.closeWhere(group, code, reason, func(*Client) bool { return true })
}

// DisconnectUser closes the connections userID holds in group.
func (h *Hub) DisconnectUser(group, userID string, code int, reason string) int {
	return h.closeWhere(group, code, reason, func(c *Client) bool { return c.User().ID == userID })
}

func (h *Hub) closeWhere(group string, code int, reason string, match func(*Client) bool) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.groups[group]))
	for _, client := range h.groups[group] {
		if match(client) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Close(code, reason)
	}
	return len(targets)
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.Close(1001, "server shutting down")
	}
}

// GroupSize returns the number of clients in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
