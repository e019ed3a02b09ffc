package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"serreconnect/backend/internal/session/domain"
)

// MemoryRepository keeps sessions in process memory. It is meant for tests and local runs;
// every operation holds one mutex, which gives the same atomicity as the SQL variant.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	newID    func() string
}

// NewMemoryRepository returns an empty in-memory session store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*domain.Session), newID: uuid.NewString}
}

func (r *MemoryRepository) Create(ctx context.Context, userID string, at time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newID()
	for _, exists := r.sessions[id]; exists; _, exists = r.sessions[id] {
		id = r.newID()
	}
	s := &domain.Session{ID: id, UserID: userID, IsActive: true, LastActivity: at, CreatedAt: at}
	r.sessions[id] = s
	out := *s
	return &out, nil
}

func (r *MemoryRepository) GetActive(ctx context.Context, id string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.IsActive {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (r *MemoryRepository) Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.IsActive {
		return nil, nil
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	out := *s
	return &out, nil
}

func (r *MemoryRepository) Invalidate(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	return true, nil
}

// Get returns a copy of the session whatever its state, or nil if it was never created.
func (r *MemoryRepository) Get(id string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	out := *s
	return &out
}

// Ping always succeeds.
func (r *MemoryRepository) Ping(context.Context) error { return nil }
