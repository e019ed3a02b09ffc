package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidIdentity is wrapped by every Validate failure.
var ErrInvalidIdentity = errors.New("invalid identity")

// Role names used for authorization.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is a login-capable account. Email is the login key and is stored normalized
// (trimmed, lower case).
type Identity struct {
	ID             string
	Username       string
	Email          string
	PasswordDigest string
	Role           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeLoginKey trims and lower-cases a login key.
func NormalizeLoginKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// Validate validates the identity for persistence and fills defaults. Returns the first failure.
func (i *Identity) Validate() error {
	i.Email = NormalizeLoginKey(i.Email)
	if i.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidIdentity)
	}
	if i.PasswordDigest == "" {
		return fmt.Errorf("%w: password digest is required", ErrInvalidIdentity)
	}
	if i.Role == "" {
		i.Role = RoleUser
	}
	if !ValidRole(i.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, i.Role)
	}
	if i.Username == "" {
		i.Username = i.Email
	}
	return nil
}
