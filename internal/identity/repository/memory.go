package repository

import (
	"context"
	"sync"

	"serreconnect/backend/internal/identity/domain"
)

// MemoryRepository keeps identities in process memory. It backs SESSION_STORE=memory for local
// runs and tests; returned identities are copies.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Identity
	byEmail map[string]string
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*domain.Identity),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) FindByLoginKey(ctx context.Context, loginKey string) (*domain.Identity, error) {
	key := domain.NormalizeLoginKey(loginKey)
	if key == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[key]
	if !ok {
		return nil, nil
	}
	c := *r.byID[id]
	return &c, nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *i
	return &c, nil
}

func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	if err := i.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[i.Email]; ok {
		return ErrEmailTaken
	}
	c := *i
	r.byID[c.ID] = &c
	r.byEmail[c.Email] = c.ID
	return nil
}

// SetActive flips the active flag of an identity. It reports whether the identity exists.
func (r *MemoryRepository) SetActive(id string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if ok {
		i.IsActive = active
	}
	return ok
}
