package domain

import "time"

// Session is the server-side record of one login. IsActive is terminal once false and
// LastActivity only moves forward while the session is active.
type Session struct {
	ID           string
	UserID       string
	IsActive     bool
	LastActivity time.Time
	CreatedAt    time.Time
}

// BelongsTo reports whether the session is owned by userID.
func (s *Session) BelongsTo(userID string) bool {
	return s != nil && userID != "" && s.UserID == userID
}
