package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"serreconnect/backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.SessionEvent
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.SessionEvent) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.SessionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.SessionEvent(nil), m.events...)
}

func testEvent() *domain.SessionEvent {
	return &domain.SessionEvent{Type: domain.EventSessionCreated, SessionID: "s1", UserID: "u1", OccurredAt: time.Now()}
}

func TestAsyncEmitter_NilSafe(t *testing.T) {
	var a *AsyncEmitter
	a.Publish(context.Background(), testEvent())
	if err := a.Drain(context.Background()); err != nil {
		t.Errorf("Drain on nil: %v", err)
	}
	NewAsyncEmitter(nil, nil).Publish(context.Background(), testEvent())
	NewAsyncEmitter(&mockEventEmitter{}, nil).Publish(context.Background(), nil)
}

func TestAsyncEmitter_PublishAndDrain(t *testing.T) {
	m := &mockEventEmitter{}
	a := NewAsyncEmitter(m, zap.NewNop())
	for range 5 {
		a.Publish(context.Background(), testEvent())
	}
	if err := a.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := len(m.getEvents()); got != 5 {
		t.Errorf("emitted %d events, want 5", got)
	}
}

func TestAsyncEmitter_CancelledRequestDoesNotAbortEmit(t *testing.T) {
	m := &mockEventEmitter{delay: 20 * time.Millisecond}
	a := NewAsyncEmitter(m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	a.Publish(ctx, testEvent())
	cancel()
	if err := a.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(m.getEvents()) != 1 {
		t.Error("event should be emitted even after the request context is cancelled")
	}
}

func TestAsyncEmitter_ErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := &mockEventEmitter{emitErr: errors.New("broker down")}
	a := NewAsyncEmitter(m, zap.New(core))
	a.Publish(context.Background(), testEvent())
	_ = a.Drain(context.Background())
	if logs.FilterMessage("session event emit failed").Len() != 1 {
		t.Errorf("expected one warning, got %v", logs.All())
	}
}

func TestAsyncEmitter_DrainHonoursContext(t *testing.T) {
	m := &mockEventEmitter{delay: time.Second}
	a := NewAsyncEmitter(m, nil)
	a.Publish(context.Background(), testEvent())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := a.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain = %v, want DeadlineExceeded", err)
	}
}
