package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/internal/testfixtures"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

type fixture struct {
	hub      *hub.Hub
	bus      *pubsub.MemoryPubSub
	sessions *repository.GormAiRepository
	listener *Listener
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { bus.Close() })

	h := hub.NewHub(hub.Config{SendBuffer: 16})
	sessions := repository.NewGormAiRepository(testfixtures.NewDB(t))
	return &fixture{hub: h, bus: bus, sessions: sessions, listener: NewListener(bus, h, sessions)}
}

func (f *fixture) join(id string, user domain.User, group string) *hub.Client {
	c := hub.NewClient(id, f.hub, nil)
	c.Session.Authenticate(user)
	f.hub.Register(c)
	f.hub.Join(c, group)
	return c
}

func event(t *testing.T, typ, roomID string, payload interface{}) *pubsub.Event {
	t.Helper()
	evt, err := pubsub.NewEvent(typ, roomID, payload)
	require.NoError(t, err)
	return evt
}

func TestListener_RoomDeletedClosesRoomAndSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.join("a", testfixtures.Alice, hub.RoomGroup("r1"))
	bob := f.join("b", testfixtures.Bob, hub.AIGroup("s1"))
	other := f.join("c", testfixtures.Carol, hub.RoomGroup("r2"))

	f.listener.Handle(ctx, event(t, pubsub.EventRoomDeleted, "r1", pubsub.RoomDeletedPayload{
		RoomID:     "r1",
		SessionIDs: []string{"s1"},
	}))

	code, _ := alice.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)
	code, _ = bob.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)
	code, _ = other.CloseStatus()
	assert.Zero(t, code)
	assert.Equal(t, 1, f.hub.ClientCount())
}

func TestListener_MemberLeftDisconnectsOnlyThatUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session := &domain.AiSession{ID: "s1", RoomID: "r1", CreatedBy: testfixtures.Alice.ID}
	require.NoError(t, f.sessions.CreateSession(ctx, session))

	alice := f.join("a", testfixtures.Alice, hub.RoomGroup("r1"))
	bobRoom := f.join("b1", testfixtures.Bob, hub.RoomGroup("r1"))
	bobAI := f.join("b2", testfixtures.Bob, hub.AIGroup("s1"))

	f.listener.Handle(ctx, event(t, pubsub.EventMemberLeft, "r1", pubsub.MemberPayload{
		RoomID: "r1",
		UserID: testfixtures.Bob.ID,
	}))

	code, _ := bobRoom.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)
	code, _ = bobAI.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)
	code, _ = alice.CloseStatus()
	assert.Zero(t, code)
	assert.Equal(t, 1, f.hub.GroupSize(hub.RoomGroup("r1")))
}

func TestListener_RunAppliesPublishedEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	client := f.join("a", testfixtures.Alice, hub.AIGroup("s1"))

	errCh := make(chan error, 1)
	go func() { errCh <- f.listener.Run(ctx) }()

	closed := event(t, pubsub.EventSessionClosed, "r1", pubsub.SessionClosedPayload{
		RoomID:    "r1",
		SessionID: "s1",
	})
	// the subscription is registered asynchronously
	require.Eventually(t, func() bool {
		_ = f.bus.Publish(ctx, pubsub.RoomEventsChannel("r1"), closed)
		code, _ := client.CloseStatus()
		return code == domain.CloseBadRoomRef
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	<-f.listener.Done()
}
