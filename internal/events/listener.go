// Package events applies room lifecycle events to the live connections held
// by this process.
package events

import (
	"context"
	"time"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/repository"
	"github.com/weiawesome/wes-totp-chat/pkg/log"
	"github.com/weiawesome/wes-totp-chat/pkg/pubsub"
)

// Listener closes connections that lost their authorization: everyone in a
// deleted room, a member who left, and clients of a closed AI session.
type Listener struct {
	sub      pubsub.Subscriber
	hub      *hub.Hub
	sessions repository.AiRepository
	retry    time.Duration
	doneCh   chan struct{}
}

// NewListener creates a listener. sessions resolves the AI sessions of a room
// when a member leaves it.
func NewListener(sub pubsub.Subscriber, h *hub.Hub, sessions repository.AiRepository) *Listener {
	return &Listener{
		sub:      sub,
		hub:      h,
		sessions: sessions,
		retry:    2 * time.Second,
		doneCh:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when Run exits.
func (l *Listener) Done() <-chan struct{} { return l.doneCh }

// Run consumes room events until ctx is done. A dropped subscription is
// re-established after a short pause.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.doneCh)
	logger := log.L()

	for {
		events, err := l.sub.SubscribePattern(ctx, pubsub.PatternRoomEvents)
		if err == nil {
			l.consume(ctx, events)
		} else {
			logger.Warn().Err(err).Msg("room event subscription failed")
		}

		if ctx.Err() != nil {
			return nil
		}
		logger.Warn().Dur("retry", l.retry).Msg("room event subscription lost, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *Listener) consume(ctx context.Context, events <-chan *pubsub.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			l.Handle(ctx, evt)
		}
	}
}

// Handle applies one event.
func (l *Listener) Handle(ctx context.Context, evt *pubsub.Event) {
	logger := log.L().With().Str(log.FieldEvent, evt.Type).Str(log.FieldRoomID, evt.RoomID).Logger()

	switch evt.Type {
	case pubsub.EventRoomDeleted:
		var p pubsub.RoomDeletedPayload
		if err := evt.UnmarshalPayload(&p); err != nil {
			logger.Warn().Err(err).Msg("invalid room event payload")
			return
		}
		closed := l.hub.CloseGroup(hub.RoomGroup(p.RoomID), domain.CloseUnauthorized, "room deleted")
		for _, sid := range p.SessionIDs {
			closed += l.hub.CloseGroup(hub.AIGroup(sid), domain.CloseUnauthorized, "room deleted")
		}
		logger.Info().Int("closed", closed).Msg("room connections closed")

	case pubsub.EventMemberLeft:
		var p pubsub.MemberPayload
		if err := evt.UnmarshalPayload(&p); err != nil {
			logger.Warn().Err(err).Msg("invalid room event payload")
			return
		}
		closed := l.hub.DisconnectUser(hub.RoomGroup(p.RoomID), p.UserID, domain.CloseUnauthorized, "left room")
		sessions, err := l.sessions.ListSessions(ctx, p.RoomID)
		if err != nil {
			logger.Error().Err(err).Msg("failed to list ai sessions")
		}
		for _, s := range sessions {
			closed += l.hub.DisconnectUser(hub.AIGroup(s.ID), p.UserID, domain.CloseUnauthorized, "left room")
		}
		if closed > 0 {
			logger.Info().Str(log.FieldUserID, p.UserID).Int("closed", closed).Msg("member connections closed")
		}

	case pubsub.EventSessionClosed:
		var p pubsub.SessionClosedPayload
		if err := evt.UnmarshalPayload(&p); err != nil {
			logger.Warn().Err(err).Msg("invalid room event payload")
			return
		}
		closed := l.hub.CloseGroup(hub.AIGroup(p.SessionID), domain.CloseBadRoomRef, "session closed")
		if closed > 0 {
			logger.Info().Str(log.FieldSessionID, p.SessionID).Int("closed", closed).Msg("ai session connections closed")
		}
	}
}
