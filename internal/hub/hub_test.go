package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
)

func newTestClient(h *Hub, id string, user domain.User) *Client {
	c := NewClient(id, h, nil)
	c.Session.Authenticate(user)
	h.Register(c)
	return c
}

func drain(c *Client) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var m map[string]interface{}
			_ = json.Unmarshal(data, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

var (
	alice = domain.User{ID: "u1", Username: "alice"}
	bob   = domain.User{ID: "u2", Username: "bob"}
)

func TestHub_BroadcastIsolatedByGroup(t *testing.T) {
	h := NewHub(Config{SendBuffer: 8})
	a := newTestClient(h, "a", alice)
	b := newTestClient(h, "b", bob)

	require.True(t, h.Join(a, RoomGroup("r1")))
	require.True(t, h.Join(b, AIGroup("r1")))

	require.NoError(t, h.Broadcast(RoomGroup("r1"), map[string]string{"type": "message"}))

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b), "ai group shares no members with the room group")
}

func TestHub_BroadcastExceptSkipsAllConnectionsOfUser(t *testing.T) {
	h := NewHub(Config{SendBuffer: 8})
	a1 := newTestClient(h, "a1", alice)
	a2 := newTestClient(h, "a2", alice)
	b := newTestClient(h, "b", bob)
	for _, c := range []*Client{a1, a2, b} {
		require.True(t, h.Join(c, RoomGroup("r1")))
	}

	require.NoError(t, h.BroadcastExcept(RoomGroup("r1"), map[string]interface{}{"type": "typing"}, alice.ID))

	assert.Empty(t, drain(a1))
	assert.Empty(t, drain(a2))
	assert.Len(t, drain(b), 1)
}

func TestHub_BroadcastEachRendersPerRecipient(t *testing.T) {
	h := NewHub(Config{SendBuffer: 8})
	a := newTestClient(h, "a", alice)
	b := newTestClient(h, "b", bob)
	h.Join(a, RoomGroup("r1"))
	h.Join(b, RoomGroup("r1"))

	h.BroadcastEach(RoomGroup("r1"), func(c *Client) interface{} {
		return map[string]interface{}{"is_self": c.User().ID == alice.ID}
	})

	assert.Equal(t, true, drain(a)[0]["is_self"])
	assert.Equal(t, false, drain(b)[0]["is_self"])
}

func TestHub_UnregisterLeavesEveryGroup(t *testing.T) {
	h := NewHub(Config{SendBuffer: 8})
	a := newTestClient(h, "a", alice)
	h.Join(a, RoomGroup("r1"))
	h.Join(a, AIGroup("s1"))

	h.Unregister(a)
	h.Unregister(a)

	assert.Zero(t, h.GroupSize(RoomGroup("r1")))
	assert.Zero(t, h.GroupSize(AIGroup("s1")))
	assert.Zero(t, h.ClientCount())
	assert.False(t, h.Join(a, RoomGroup("r1")), "closed clients cannot rejoin")

	// delivering to a closed client is a no-op
	assert.True(t, a.SendRaw([]byte("late")))
	assert.NoError(t, a.SendMessage(map[string]string{"type": "late"}))
}

func TestHub_CloseGroupAndDisconnectUser(t *testing.T) {
	h := NewHub(Config{SendBuffer: 8})
	a := newTestClient(h, "a", alice)
	b := newTestClient(h, "b", bob)
	h.Join(a, RoomGroup("r1"))
	h.Join(b, RoomGroup("r1"))

	assert.Equal(t, 1, h.DisconnectUser(RoomGroup("r1"), bob.ID, domain.CloseUnauthorized, "left room"))
	code, reason := b.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)
	assert.Equal(t, "left room", reason)
	assert.Equal(t, 1, h.GroupSize(RoomGroup("r1")))

	assert.Equal(t, 1, h.CloseGroup(RoomGroup("r1"), domain.CloseUnauthorized, "room deleted"))
	code, _ = a.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)
	assert.Zero(t, h.GroupSize(RoomGroup("r1")))

	_, ok := <-a.Send
	assert.False(t, ok, "send buffer is closed")
}

func TestHub_EvictsSlowClient(t *testing.T) {
	h := NewHub(Config{SendBuffer: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := newTestClient(h, "slow", alice)
	fast := newTestClient(h, "fast", bob)
	h.Join(slow, RoomGroup("r1"))
	h.Join(fast, RoomGroup("r1"))

	require.NoError(t, h.Broadcast(RoomGroup("r1"), map[string]string{"n": "1"}))
	<-fast.Send
	require.NoError(t, h.Broadcast(RoomGroup("r1"), map[string]string{"n": "2"}))

	require.Eventually(t, func() bool {
		return h.GroupSize(RoomGroup("r1")) == 1
	}, time.Second, 10*time.Millisecond)

	code, _ := slow.CloseStatus()
	assert.Equal(t, domain.CloseInternalError, code)
}

func TestKeyedMutex(t *testing.T) {
	k := NewKeyedMutex()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("r1")
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside)
	assert.Zero(t, k.Len())

	// different keys do not block each other
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.Len())
	unlockB()
	unlockA()
}
