package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-totp-chat/internal/ai"
	"github.com/weiawesome/wes-totp-chat/internal/cache"
	"github.com/weiawesome/wes-totp-chat/internal/codes"
	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/presence"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/internal/secret"
	"github.com/weiawesome/wes-totp-chat/internal/service"
	"github.com/weiawesome/wes-totp-chat/internal/testfixtures"
	"github.com/weiawesome/wes-totp-chat/internal/totp"
	"github.com/weiawesome/wes-totp-chat/pkg/jwt"
	"github.com/weiawesome/wes-totp-chat/pkg/middleware"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

type echoProvider struct{}

func (echoProvider) Complete(_ context.Context, turns []ai.Turn) (string, error) {
	return "echo: " + turns[len(turns)-1].Content, nil
}

type server struct {
	engine *gin.Engine
	srv    *httptest.Server
	tokens *jwt.Manager
	coord  *ai.Coordinator
	rooms  service.RoomService
	aiSvc  service.AiSessionService
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testfixtures.NewDB(t)
	codeCache, err := cache.NewBuntCodeCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { codeCache.Close() })

	cipher, err := secret.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	tokens, err := jwt.NewManager([]byte("test-signing-key"), "wes-totp-chat", time.Hour)
	require.NoError(t, err)

	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { bus.Close() })

	roomRepo := repository.NewGormRoomRepository(db)
	messageRepo := repository.NewGormMessageRepository(db)
	aiRepo := repository.NewGormAiRepository(db)

	h := hub.NewHub(hub.Config{SendBuffer: 64})
	lookup := codes.NewLookup(totp.NewEngine(totp.DefaultConfig()), codeCache, 30*time.Second, nil)
	ids := idgen.NewULIDGenerator(nil)

	rooms := service.NewRoomService(roomRepo, messageRepo, cipher, lookup, presence.AlwaysAnnounce{}, bus, service.RoomConfig{})
	chat := service.NewChatService(h, roomRepo, messageRepo, ids, presence.AlwaysAnnounce{}, service.ChatConfig{}, nil)
	aiSvc := service.NewAiSessionService(roomRepo, aiRepo, bus, service.AiSessionConfig{}, nil)
	coord := ai.NewCoordinator(h, aiRepo, echoProvider{}, ids, ai.Config{}, nil)
	t.Cleanup(coord.Wait)

	auth := middleware.NewAuthMiddleware(tokens)
	engine := gin.New()
	NewHandler(rooms, aiSvc, auth).RegisterRoutes(engine)
	NewWSHandler(h, chat, auth).RegisterRoutes(engine)
	NewAIWSHandler(h, aiSvc, coord, auth).RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &server{engine: engine, srv: srv, tokens: tokens, coord: coord, rooms: rooms, aiSvc: aiSvc}
}

func (s *server) token(t *testing.T, user domain.User) string {
	t.Helper()
	tok, _, err := s.tokens.Issue(user.ID, user.Username, user.Email)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *server) do(t *testing.T, method, path string, user *domain.User, body interface{}) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, *user))
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// standup creates a room owned by Alice that Bob has joined.
func (s *server) standup(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	created, err := s.rooms.CreateRoom(ctx, testfixtures.Alice, &domain.CreateRoomRequest{RoomName: "standup"})
	require.NoError(t, err)
	code, err := s.rooms.GenerateCode(ctx, testfixtures.Alice, created.RoomID)
	require.NoError(t, err)
	_, err = s.rooms.JoinByCode(ctx, testfixtures.Bob, code.Totp)
	require.NoError(t, err)
	return created.RoomID
}

func (s *server) dial(t *testing.T, path string, user *domain.User) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + path
	if user != nil {
		url += "?token=" + s.token(t, *user)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame returns the next data frame, failing on a close.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	for {
		frame := readFrame(t, conn)
		if frame["type"] == typ {
			return frame
		}
	}
}

// closeCode reads until the peer closes and returns its close code.
func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

