// Package telemetry publishes best-effort session events off the request path.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"serreconnect/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight emits. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EventEmitter sends one event synchronously.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.SessionEvent) error
}

// AsyncEmitter publishes events from a goroutine so callers are never blocked or failed by
// the event pipeline. The zero value and a nil *AsyncEmitter drop events.
type AsyncEmitter struct {
	emitter EventEmitter
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewAsyncEmitter wraps emitter. A nil emitter yields an AsyncEmitter that drops events.
func NewAsyncEmitter(emitter EventEmitter, log *zap.Logger) *AsyncEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncEmitter{emitter: emitter, log: log}
}

// Publish emits event in the background. The emit uses its own timeout rather than ctx, so a
// request finishing or being cancelled does not abort it.
func (a *AsyncEmitter) Publish(_ context.Context, event *domain.SessionEvent) {
	if a == nil || a.emitter == nil || event == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := a.emitter.Emit(emitCtx, event); err != nil {
			a.log.Warn("session event emit failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight emits or until ctx is done, whichever comes first.
func (a *AsyncEmitter) Drain(ctx context.Context) error {
	if a == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
