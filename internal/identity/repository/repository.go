package repository

import (
	"context"
	"errors"

	"serreconnect/backend/internal/identity/domain"
)

// ErrEmailTaken is returned by Create when the login key is already registered.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for identities. Lookups return (nil, nil) when nothing matches.
type Repository interface {
	FindByLoginKey(ctx context.Context, loginKey string) (*domain.Identity, error)
	FindByID(ctx context.Context, id string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
}
