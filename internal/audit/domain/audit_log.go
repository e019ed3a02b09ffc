package domain

import "time"

// AuditLog is one persisted session lifecycle or login event.
type AuditLog struct {
	ID        string
	UserID    string
	SessionID string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
