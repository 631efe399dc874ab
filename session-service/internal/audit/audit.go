package audit

import (
	"context"

	"github.com/weiawesome/wes-io-consult/pkg/log"
)

// Audit actions for session-service.
const (
	ActionRequest   = "consult.request"
	ActionCancel    = "consult.cancel"
	ActionAccept    = "consult.accept"
	ActionReject    = "consult.reject"
	ActionExpire    = "consult.expire"
	ActionEnd       = "consult.end"
	ActionForceEnd  = "consult.force_end"
	ActionAvailable = "provider.availability"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, participantID, sessionID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldParticipantID, participantID).
		Str(log.FieldSessionID, sessionID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, participantID, sessionID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldParticipantID, participantID).
		Str(log.FieldSessionID, sessionID).
		Str(FieldDetail, detail).
		Msg(msg)
}
