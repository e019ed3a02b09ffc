package audit

import (
	"encoding/json"

	"github.com/google/uuid"

	"serreconnect/backend/internal/audit/domain"
	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

// Audit actions recorded for session events.
const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionSessionExpired = "session_expired"
	ActionSessionRevoked = "session_revoked"
	ActionLoginFailure   = "login_failure"
)

// Audit resources.
const (
	ResourceSession  = "session"
	ResourceIdentity = "identity"
)

type failureMetadata struct {
	LoginKeyHash string `json:"login_key_hash"`
}

// FromSessionEvent maps a session event to an audit log entry. It returns nil for invalid events.
func FromSessionEvent(ev *telemetrydomain.SessionEvent) *domain.AuditLog {
	if !ev.Valid() {
		return nil
	}
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		SessionID: ev.SessionID,
		Resource:  ResourceSession,
		IP:        ev.ClientIP,
		CreatedAt: ev.OccurredAt.UTC(),
	}
	if entry.IP == "" {
		entry.IP = "unknown"
	}
	switch ev.Type {
	case telemetrydomain.EventSessionCreated:
		entry.Action = ActionLogin
	case telemetrydomain.EventSessionLoggedOut:
		entry.Action = ActionLogout
	case telemetrydomain.EventSessionExpired:
		entry.Action = ActionSessionExpired
	case telemetrydomain.EventSessionRevoked:
		entry.Action = ActionSessionRevoked
	case telemetrydomain.EventLoginFailed:
		entry.Action = ActionLoginFailure
		entry.Resource = ResourceIdentity
		if ev.LoginKeyHash != "" {
			meta, _ := json.Marshal(failureMetadata{LoginKeyHash: ev.LoginKeyHash})
			entry.Metadata = string(meta)
		}
	}
	return entry
}
