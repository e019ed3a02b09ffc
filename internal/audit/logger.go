// Package audit persists session lifecycle events as audit log rows.
package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"serreconnect/backend/internal/audit/domain"
	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

// ErrInvalidEvent is returned by Emit for events that cannot be audited.
var ErrInvalidEvent = errors.New("audit: invalid session event")

// Creator is the write side of the audit repository.
type Creator interface {
	Create(ctx context.Context, a *domain.AuditLog) error
}

// Logger writes session events to the audit repository. It satisfies the event emitter
// contract, so it can sit behind the async emitter directly or behind the Kafka worker.
type Logger struct {
	repo Creator
	log  *zap.Logger
}

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo Creator, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{repo: repo, log: log}
}

// Emit writes one audit log entry for ev.
func (l *Logger) Emit(ctx context.Context, ev *telemetrydomain.SessionEvent) error {
	entry := FromSessionEvent(ev)
	if entry == nil {
		return ErrInvalidEvent
	}
	if l.repo == nil {
		return nil
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		l.log.Warn("audit: failed to persist event",
			zap.String("action", entry.Action),
			zap.String("session_id", entry.SessionID),
			zap.Error(err))
		return err
	}
	return nil
}
