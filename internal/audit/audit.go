package audit

import (
	"context"

	"github.com/weiawesome/wes-totp-chat/pkg/log"
)

// Audit actions.
const (
	ActionCreateRoom     = "room.create"
	ActionIssueCode      = "room.code.issue"
	ActionJoinRoom       = "room.join"
	ActionJoinRejected   = "room.join.rejected"
	ActionLeaveRoom      = "room.leave"
	ActionDeleteRoom     = "room.delete"
	ActionStartSession   = "ai.session.start"
	ActionCloseSession   = "ai.session.close"
	ActionReapSessions   = "ai.session.reap"
	ActionWSUnauthorized = "ws.unauthorized"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, roomID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, roomID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Str(FieldDetail, detail).
		Msg(msg)
}
