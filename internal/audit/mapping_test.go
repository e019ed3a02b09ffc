package audit

import (
	"testing"
	"time"

	telemetrydomain "serreconnect/backend/internal/telemetry/domain"
)

func TestFromSessionEvent(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	testCases := []struct {
		name         string
		ev           telemetrydomain.SessionEvent
		wantAction   string
		wantResource string
	}{
		{"created", telemetrydomain.SessionEvent{Type: telemetrydomain.EventSessionCreated, SessionID: "s", UserID: "u", OccurredAt: at}, ActionLogin, ResourceSession},
		{"logged out", telemetrydomain.SessionEvent{Type: telemetrydomain.EventSessionLoggedOut, SessionID: "s", OccurredAt: at}, ActionLogout, ResourceSession},
		{"expired", telemetrydomain.SessionEvent{Type: telemetrydomain.EventSessionExpired, SessionID: "s", OccurredAt: at}, ActionSessionExpired, ResourceSession},
		{"revoked", telemetrydomain.SessionEvent{Type: telemetrydomain.EventSessionRevoked, SessionID: "s", UserID: "owner", OccurredAt: at}, ActionSessionRevoked, ResourceSession},
		{"failed", telemetrydomain.SessionEvent{Type: telemetrydomain.EventLoginFailed, LoginKeyHash: "abc", ClientIP: "10.0.0.1", OccurredAt: at}, ActionLoginFailure, ResourceIdentity},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			entry := FromSessionEvent(&tc.ev)
			if entry == nil {
				t.Fatal("FromSessionEvent returned nil")
			}
			if entry.Action != tc.wantAction || entry.Resource != tc.wantResource {
				t.Errorf("action/resource = %s/%s, want %s/%s", entry.Action, entry.Resource, tc.wantAction, tc.wantResource)
			}
			if entry.ID == "" || !entry.CreatedAt.Equal(at) {
				t.Errorf("entry = %+v", entry)
			}
		})
	}
}

func TestFromSessionEvent_FailureMetadata(t *testing.T) {
	entry := FromSessionEvent(&telemetrydomain.SessionEvent{
		Type: telemetrydomain.EventLoginFailed, LoginKeyHash: "abc", OccurredAt: time.Now(),
	})
	if entry.Metadata != `{"login_key_hash":"abc"}` {
		t.Errorf("metadata = %q", entry.Metadata)
	}
	if entry.IP != "unknown" {
		t.Errorf("ip = %q, want unknown", entry.IP)
	}
}

func TestFromSessionEvent_Invalid(t *testing.T) {
	if FromSessionEvent(nil) != nil {
		t.Error("nil event should map to nil")
	}
	if FromSessionEvent(&telemetrydomain.SessionEvent{Type: "bogus", OccurredAt: time.Now()}) != nil {
		t.Error("unknown type should map to nil")
	}
}
