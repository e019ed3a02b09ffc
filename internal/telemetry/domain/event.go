package domain

import "time"

// EventType names a session lifecycle transition.
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventSessionLoggedOut EventType = "session.logged_out"
	EventSessionExpired   EventType = "session.expired"
	EventSessionRevoked   EventType = "session.revoked"
	EventLoginFailed      EventType = "login.failed"
)

// SessionEvent is published on the session events topic and persisted by the audit worker.
// LoginKeyHash is a SHA-256 of the normalized login key; the raw key is never published.
type SessionEvent struct {
	Type         EventType `json:"type"`
	SessionID    string    `json:"session_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	LoginKeyHash string    `json:"login_key_hash,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Valid reports whether the event carries a known type and a timestamp.
func (e *SessionEvent) Valid() bool {
	if e == nil || e.OccurredAt.IsZero() {
		return false
	}
	switch e.Type {
	case EventSessionCreated, EventSessionLoggedOut, EventSessionExpired, EventSessionRevoked, EventLoginFailed:
		return true
	}
	return false
}
