package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/idgen"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrSessionClosed  = errors.New("ai session is closed")
)

// Config tunes the turn coordinator.
type Config struct {
	Persona          string
	Username         string
	ContextMessages  int
	Timeout          time.Duration
	MaxMessageLength int
	HistoryPageSize  int
}

// Coordinator sequences user and assistant turns of AI sessions. Each session
// has a single append point, so every member sees the same order; replies for
// one session are produced one at a time and never block other sessions.
type Coordinator struct {
	hub      *hub.Hub
	repo     repository.AiRepository
	provider CompletionProvider
	ids      idgen.Generator
	cfg      Config
	now      func() time.Time

	turns   *hub.KeyedMutex // persist + broadcast
	replies *hub.KeyedMutex // provider calls
	wg      sync.WaitGroup
}

func NewCoordinator(h *hub.Hub, repo repository.AiRepository, provider CompletionProvider, ids idgen.Generator, cfg Config, now func() time.Time) *Coordinator {
	if cfg.ContextMessages <= 0 {
		cfg.ContextMessages = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.Username == "" {
		cfg.Username = "AI Assistant"
	}
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		hub:      h,
		repo:     repo,
		provider: provider,
		ids:      ids,
		cfg:      cfg,
		now:      now,
		turns:    hub.NewKeyedMutex(),
		replies:  hub.NewKeyedMutex(),
	}
}

// Admit greets client, replays the newest history page and then adds it to
// the session group. No turn can be appended in between.
func (c *Coordinator) Admit(ctx context.Context, client *hub.Client, session *domain.AiSession, roomName string) error {
	unlock := c.turns.Lock(session.ID)
	defer unlock()

	client.SendMessage(&domain.AIJoinedEvent{
		Type:       domain.MsgTypeAIJoined,
		SessionID:  session.ID,
		RoomID:     session.RoomID,
		RoomName:   roomName,
		AIUsername: c.cfg.Username,
		Message:    fmt.Sprintf("%s joined the conversation", client.User().Username),
	})

	if err := c.sendHistory(ctx, client, session.ID, 1, c.cfg.HistoryPageSize); err != nil {
		return err
	}

	if !c.hub.Join(client, hub.AIGroup(session.ID)) {
		return nil
	}
	client.Session.JoinRoom(session.RoomID)
	return nil
}

// History sends one page of the session log to client.
func (c *Coordinator) History(ctx context.Context, client *hub.Client, sessionID string, page, limit int) error {
	return c.sendHistory(ctx, client, sessionID, page, limit)
}

func (c *Coordinator) sendHistory(ctx context.Context, client *hub.Client, sessionID string, page, limit int) error {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > c.cfg.HistoryPageSize {
		limit = c.cfg.HistoryPageSize
	}

	msgs, total, err := c.repo.ListMessages(ctx, sessionID, page, limit)
	if err != nil {
		return err
	}

	viewer := client.User().ID
	out := make([]domain.AiMessageResponse, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].ToResponse(viewer)
	}

	client.SendMessage(&domain.AIHistoryEvent{
		Type: domain.MsgTypeMessageHistory,
		AiHistoryPage: domain.AiHistoryPage{
			Messages:   out,
			Page:       page,
			TotalCount: total,
			HasMore:    page*limit < total,
		},
	})
	client.SendMessage(&domain.HistoryCompleteEvent{
		Type: domain.MsgTypeHistoryComplete,
		Page: page,
	})
	return nil
}

// Submit appends a user turn, announces it and schedules the assistant
// reply. It returns once the user turn is broadcast. A deleted or inactive
// session yields ErrSessionClosed.
func (c *Coordinator) Submit(ctx context.Context, sessionID string, sender domain.User, text string) (*domain.AiMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > c.cfg.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	unlock := c.turns.Lock(sessionID)
	session, err := c.repo.GetSession(ctx, sessionID)
	if err == nil && !session.IsActive {
		err = ErrSessionClosed
	}
	if err != nil {
		unlock()
		return nil, sessionErr(err)
	}
	msg, err := c.append(ctx, sessionID, domain.AiRoleUser, sender.ID, sender.Username, text)
	if err != nil {
		unlock()
		return nil, sessionErr(err)
	}
	c.hub.Broadcast(hub.AIGroup(sessionID), &domain.AIThinkingEvent{
		Type:     domain.MsgTypeAIThinking,
		Username: c.cfg.Username,
	})
	unlock()

	// the reply outlives the sender's connection
	replyCtx := log.WithLogger(context.Background(), log.Ctx(ctx))
	c.wg.Add(1)
	go c.reply(replyCtx, *msg)

	return msg, nil
}

// append persists one turn and broadcasts it. Callers hold the turn lock.
func (c *Coordinator) append(ctx context.Context, sessionID string, role domain.AiRole, userID, username, text string) (*domain.AiMessage, error) {
	now := c.now().UTC()
	id, err := c.ids.Generate()
	if err != nil {
		return nil, err
	}

	msg := &domain.AiMessage{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		UserID:    userID,
		Username:  username,
		Content:   text,
		CreatedAt: now,
	}
	if err := c.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	c.hub.BroadcastEach(hub.AIGroup(sessionID), func(client *hub.Client) interface{} {
		return &domain.AIChatEvent{
			Type:              domain.MsgTypeChatMessage,
			AiMessageResponse: msg.ToResponse(client.User().ID),
		}
	})
	return msg, nil
}

func (c *Coordinator) reply(ctx context.Context, prompt domain.AiMessage) {
	defer c.wg.Done()

	unlock := c.replies.Lock(prompt.SessionID)
	defer unlock()

	l := log.Ctx(ctx).With().Str(log.FieldSessionID, prompt.SessionID).Logger()

	turns, err := c.buildContext(ctx, prompt)
	if errors.Is(err, repository.ErrSessionNotFound) {
		l.Debug().Msg("session removed before reply")
		return
	}
	if err != nil {
		l.Error().Err(err).Msg("failed to load session context")
		c.broadcastError(prompt.SessionID)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	text, err := c.provider.Complete(callCtx, turns)
	cancel()
	if err != nil {
		l.Warn().Err(err).Msg("completion failed")
		c.broadcastError(prompt.SessionID)
		return
	}

	unlockTurn := c.turns.Lock(prompt.SessionID)
	defer unlockTurn()

	_, err = c.append(ctx, prompt.SessionID, domain.AiRoleAssistant, "", c.cfg.Username, text)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSessionNotFound):
		l.Debug().Msg("session removed while the reply was pending")
	default:
		l.Error().Err(err).Msg("failed to store assistant reply")
		c.broadcastError(prompt.SessionID)
	}
}

func sessionErr(err error) error {
	if errors.Is(err, repository.ErrSessionNotFound) {
		return ErrSessionClosed
	}
	return err
}

// buildContext returns the persona, the newest session turns around prompt
// and prompt itself. Replies to earlier prompts count even when they were
// stored after prompt; user turns queued behind it do not.
func (c *Coordinator) buildContext(ctx context.Context, prompt domain.AiMessage) ([]Turn, error) {
	recent, err := c.repo.RecentMessages(ctx, prompt.SessionID, c.cfg.ContextMessages, prompt.ID)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(recent)+2)
	if c.cfg.Persona != "" {
		turns = append(turns, Turn{Role: RoleSystem, Content: c.cfg.Persona})
	}
	for _, m := range recent {
		turns = append(turns, toTurn(m))
	}
	return append(turns, toTurn(prompt)), nil
}

func toTurn(m domain.AiMessage) Turn {
	if m.Role == domain.AiRoleAssistant {
		return Turn{Role: RoleAssistant, Content: m.Content}
	}
	return Turn{Role: RoleUser, Content: m.Content}
}

func (c *Coordinator) broadcastError(sessionID string) {
	c.hub.Broadcast(hub.AIGroup(sessionID), &domain.AIErrorEvent{
		Type:    domain.MsgTypeAIError,
		Message: "The AI assistant could not answer. Please try again.",
	})
}

// Wait blocks until every scheduled reply has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
