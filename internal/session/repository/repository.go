package repository

import (
	"context"
	"time"

	"serreconnect/backend/internal/session/domain"
)

// Repository persists sessions. Mutations are single atomic conditional updates at the
// store, so a touch racing an invalidate can never reactivate a session.
type Repository interface {
	// Create inserts a new active session for userID with a freshly generated id.
	Create(ctx context.Context, userID string, at time.Time) (*domain.Session, error)
	// GetActive returns the session only if it exists and is active; otherwise (nil, nil).
	GetActive(ctx context.Context, id string) (*domain.Session, error)
	// Touch sets last_activity to max(last_activity, at) if the session is still active and
	// returns the updated record, or (nil, nil) when the session is absent or inactive.
	Touch(ctx context.Context, id string, at time.Time) (*domain.Session, error)
	// Invalidate marks the session inactive. It reports whether this call changed the state;
	// invalidating an inactive or absent session returns (false, nil).
	Invalidate(ctx context.Context, id string) (bool, error)
}
