package domain

import (
	"errors"
	"testing"
)

func TestIdentity_Validate(t *testing.T) {
	i := &Identity{Email: "  Alice@Example.COM ", PasswordDigest: "$2a$..."}
	if err := i.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if i.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", i.Email)
	}
	if i.Role != RoleUser {
		t.Errorf("Role = %q, want %q", i.Role, RoleUser)
	}
	if i.Username != "alice@example.com" {
		t.Errorf("Username = %q, want email fallback", i.Username)
	}
}

func TestIdentity_ValidateFailures(t *testing.T) {
	testCases := []struct {
		name string
		i    Identity
	}{
		{"missing email", Identity{PasswordDigest: "x"}},
		{"missing digest", Identity{Email: "a@b.c"}},
		{"unknown role", Identity{Email: "a@b.c", PasswordDigest: "x", Role: "root"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.i.Validate(); !errors.Is(err, ErrInvalidIdentity) {
				t.Errorf("Validate = %v, want ErrInvalidIdentity", err)
			}
		})
	}
}
