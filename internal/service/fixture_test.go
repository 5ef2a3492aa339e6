package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-totp-chat/internal/cache"
	"github.com/weiawesome/wes-totp-chat/internal/codes"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/presence"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/internal/secret"
	"github.com/weiawesome/wes-totp-chat/internal/testfixtures"
	"github.com/weiawesome/wes-totp-chat/internal/totp"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

type env struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	clock    *testfixtures.Clock
	hub      *hub.Hub
	bus      *pubsub.MemoryPubSub
	rooms    *repository.GormRoomRepository
	messages *repository.GormMessageRepository
	ai       *repository.GormAiRepository

	roomSvc RoomService
	chatSvc ChatService
	aiSvc   AiSessionService

	// roomServiceWith builds a room service over a substitute message store
	roomServiceWith func(messages repository.MessageRepository) RoomService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testfixtures.NewDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	codeCache := cache.NewRedisCodeCacheFromClient(client, "test:code")
	t.Cleanup(func() { codeCache.Close() })

	clock := testfixtures.NewClock(time.Time{})
	cipher, err := secret.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	lookup := codes.NewLookup(totp.NewEngine(totp.DefaultConfig()), codeCache, 30*time.Second, clock.NowFunc())
	tracker, err := presence.NewDebounceTracker(10*time.Second, 128, clock.NowFunc())
	require.NoError(t, err)

	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { bus.Close() })

	e := &env{
		db:       db,
		mr:       mr,
		clock:    clock,
		hub:      hub.NewHub(hub.Config{SendBuffer: 64}),
		bus:      bus,
		rooms:    repository.NewGormRoomRepository(db),
		messages: repository.NewGormMessageRepository(db),
		ai:       repository.NewGormAiRepository(db),
	}
	e.roomServiceWith = func(messages repository.MessageRepository) RoomService {
		return NewRoomService(e.rooms, messages, cipher, lookup, tracker, bus, RoomConfig{})
	}
	e.roomSvc = e.roomServiceWith(e.messages)
	e.chatSvc = NewChatService(e.hub, e.rooms, e.messages, idgen.NewULIDGenerator(clock.NowFunc()), tracker, ChatConfig{}, clock.NowFunc())
	e.aiSvc = NewAiSessionService(e.rooms, e.ai, bus, AiSessionConfig{IdleTimeout: time.Hour}, clock.NowFunc())
	return e
}

// createRoom creates a room owned by Alice and lets Bob in with a code.
func (e *env) createRoom(t *testing.T, name string) string {
	t.Helper()
	ctx := context.Background()

	created, err := e.roomSvc.CreateRoom(ctx, testfixtures.Alice, &domain.CreateRoomRequest{RoomName: name})
	require.NoError(t, err)

	code, err := e.roomSvc.GenerateCode(ctx, testfixtures.Alice, created.RoomID)
	require.NoError(t, err)

	_, err = e.roomSvc.JoinByCode(ctx, testfixtures.Bob, code.Totp)
	require.NoError(t, err)
	return created.RoomID
}

func (e *env) client(id string, user domain.User) *hub.Client {
	c := hub.NewClient(id, e.hub, nil)
	c.Session.Authenticate(user)
	c.Session.Advance(domain.StateAuthenticating)
	e.hub.Register(c)
	return c
}

func drain(c *hub.Client) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case data := <-c.Send:
			var m map[string]interface{}
			_ = json.Unmarshal(data, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func ofType(frames []map[string]interface{}, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, f := range frames {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}
