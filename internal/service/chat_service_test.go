package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-totp-chat/internal/domain"
	"github.com/weiawesome/wes-totp-chat/internal/hub"
	"github.com/weiawesome/wes-totp-chat/internal/testfixtures"
)

func TestChatService_AdmitReplaysHistoryBeforeJoin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))
	require.NoError(t, e.chatSvc.SendMessage(ctx, alice, "first"))
	drain(alice)

	bob := e.client("b", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	assert.Equal(t, domain.StateJoined, bob.Session.State())
	assert.Equal(t, roomID, bob.Session.RoomID())

	frames := drain(bob)
	require.NotEmpty(t, frames)
	assert.Equal(t, domain.MsgTypeMessageHistory, frames[0]["type"])
	history := frames[0]["messages"].([]interface{})
	require.Len(t, history, 1)
	assert.Equal(t, "first", history[0].(map[string]interface{})["content"])
	assert.Equal(t, false, history[0].(map[string]interface{})["is_self"])

	joins := ofType(drain(alice), domain.MsgTypeUserJoined)
	require.Len(t, joins, 1)
	assert.Equal(t, testfixtures.Bob.Username, joins[0]["username"])
	assert.Equal(t, 2, e.hub.GroupSize(hub.RoomGroup(roomID)))
}

func TestChatService_AdmitRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	carol := e.client("c", testfixtures.Carol)
	assert.ErrorIs(t, e.chatSvc.Admit(ctx, carol, roomID), ErrForbidden)
	assert.ErrorIs(t, e.chatSvc.Admit(ctx, carol, "room-1"), ErrBadReference)
	assert.Equal(t, 0, e.hub.GroupSize(hub.RoomGroup(roomID)))
	assert.Empty(t, drain(carol))
}

func TestChatService_RejoinWithinWindowIsQuiet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))

	first := e.client("b1", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, first, roomID))
	e.chatSvc.Disconnect(ctx, first)
	e.hub.Unregister(first)
	drain(alice)

	e.clock.Advance(2 * time.Second)
	second := e.client("b2", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, second, roomID))
	assert.Empty(t, ofType(drain(alice), domain.MsgTypeUserJoined))

	e.chatSvc.Disconnect(ctx, second)
	e.hub.Unregister(second)
	e.clock.Advance(time.Minute)
	third := e.client("b3", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, third, roomID))
	assert.Len(t, ofType(drain(alice), domain.MsgTypeUserJoined), 1)
}

func TestChatService_SendMessageValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	bob := e.client("b", testfixtures.Bob)
	assert.ErrorIs(t, e.chatSvc.SendMessage(ctx, bob, "hello"), ErrNotJoined)

	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	drain(bob)

	assert.ErrorIs(t, e.chatSvc.SendMessage(ctx, bob, "  \n "), ErrValidation)
	assert.ErrorIs(t, e.chatSvc.SendMessage(ctx, bob, strings.Repeat("x", 1001)), ErrValidation)
	assert.NoError(t, e.chatSvc.SendMessage(ctx, bob, strings.Repeat("x", 1000)))

	count, err := e.messages.Count(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func messageContents(frames []map[string]interface{}) []string {
	var out []string
	for _, f := range ofType(frames, domain.MsgTypeMessage) {
		content, _ := f["content"].(string)
		out = append(out, content)
	}
	return out
}

func TestChatService_ConcurrentSendsKeepOneOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	bob := e.client("b", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))
	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	drain(alice)
	drain(bob)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		for _, c := range []*hub.Client{alice, bob} {
			wg.Add(1)
			go func(c *hub.Client, n int) {
				defer wg.Done()
				assert.NoError(t, e.chatSvc.SendMessage(ctx, c, fmt.Sprintf("%s-%d", c.ID, n)))
			}(c, i)
		}
	}
	wg.Wait()

	seenByAlice := messageContents(drain(alice))
	seenByBob := messageContents(drain(bob))
	require.Len(t, seenByAlice, 20)
	assert.Equal(t, seenByAlice, seenByBob)

	stored, total, err := e.messages.ListRecent(ctx, roomID, 0, 50)
	require.NoError(t, err)
	require.Equal(t, 20, total)
	persisted := make([]string, len(stored))
	for i, m := range stored {
		persisted[i] = m.Content
	}
	assert.Equal(t, seenByAlice, persisted)
}

func TestChatService_SendAfterLeaveIsRefused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	bob := e.client("b", testfixtures.Bob)
	bobTab := e.client("b2", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))
	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	require.NoError(t, e.chatSvc.Admit(ctx, bobTab, roomID))
	drain(alice)

	_, err := e.roomSvc.LeaveRoom(ctx, testfixtures.Bob, roomID)
	require.NoError(t, err)

	assert.ErrorIs(t, e.chatSvc.SendMessage(ctx, bob, "still here?"), ErrForbidden)
	code, _ := bob.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)

	assert.ErrorIs(t, e.chatSvc.LoadMore(ctx, bobTab, 0, 10), ErrForbidden)
	code, _ = bobTab.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)

	assert.Empty(t, messageContents(drain(alice)))
	assert.Equal(t, 1, e.hub.GroupSize(hub.RoomGroup(roomID)))
	count, err := e.messages.Count(ctx, roomID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChatService_SendAfterRoomDeletionIsRefused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))

	left, err := e.roomSvc.LeaveRoom(ctx, testfixtures.Alice, roomID)
	require.NoError(t, err)
	require.Equal(t, domain.LeaveResultRoomDeleted, left.Result)

	assert.ErrorIs(t, e.chatSvc.SendMessage(ctx, alice, "anyone?"), ErrNotFound)
	code, _ := alice.CloseStatus()
	assert.Equal(t, domain.CloseUnauthorized, code)

	var rows int64
	require.NoError(t, e.db.Model(&domain.MessageModel{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestChatService_TypingSkipsSender(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	bob := e.client("b", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))
	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	drain(alice)
	drain(bob)

	require.NoError(t, e.chatSvc.Typing(ctx, bob, true))
	assert.Empty(t, drain(bob))

	typing := ofType(drain(alice), domain.MsgTypeTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, true, typing[0]["is_typing"])
	assert.Equal(t, testfixtures.Bob.Username, typing[0]["username"])
}

func TestChatService_LoadMore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	bob := e.client("b", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	for _, text := range []string{"one", "two", "three"} {
		e.clock.Advance(time.Second)
		require.NoError(t, e.chatSvc.SendMessage(ctx, bob, text))
	}
	drain(bob)

	require.NoError(t, e.chatSvc.LoadMore(ctx, bob, 1, 1))
	frames := drain(bob)
	require.Len(t, frames, 1)
	assert.Equal(t, domain.MsgTypeMessageHistory, frames[0]["type"])
	assert.Equal(t, float64(1), frames[0]["offset"])
	assert.Equal(t, float64(3), frames[0]["total_count"])
	assert.Equal(t, true, frames[0]["has_more"])
	msgs := frames[0]["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "two", msgs[0].(map[string]interface{})["content"])
}

func TestChatService_DisconnectAnnouncesLeave(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	roomID := e.createRoom(t, "standup")

	alice := e.client("a", testfixtures.Alice)
	bob := e.client("b", testfixtures.Bob)
	require.NoError(t, e.chatSvc.Admit(ctx, alice, roomID))
	require.NoError(t, e.chatSvc.Admit(ctx, bob, roomID))
	drain(alice)

	e.chatSvc.Disconnect(ctx, bob)
	assert.Equal(t, domain.StateClosed, bob.Session.State())
	assert.Equal(t, 1, e.hub.GroupSize(hub.RoomGroup(roomID)))

	left := ofType(drain(alice), domain.MsgTypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, testfixtures.Bob.Username, left[0]["username"])

	stranger := e.client("c", testfixtures.Carol)
	e.chatSvc.Disconnect(ctx, stranger)
	assert.Empty(t, drain(alice))
}
