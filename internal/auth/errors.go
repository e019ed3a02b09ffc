// Package auth holds the types shared by every authentication boundary: the tagged
// failure kinds returned by login and validation, and the per-request Principal.
package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication or authorization failure.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidToken       Kind = "invalid_token"
	KindSessionNotFound    Kind = "session_not_found"
	KindSessionExpired     Kind = "session_expired"
	KindForbidden          Kind = "forbidden"
	KindStoreUnavailable   Kind = "store_unavailable"
)

// Error is a tagged failure. Op names the operation that failed (e.g. "session.touch")
// and Err is the underlying cause, if any. Neither is shown to clients.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrSessionExpired) works
// regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrSessionNotFound    = &Error{Kind: KindSessionNotFound}
	ErrSessionExpired     = &Error{Kind: KindSessionExpired}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrStoreUnavailable   = &Error{Kind: KindStoreUnavailable}
)

// E builds a tagged error.
func E(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" for untagged errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsUnauthenticated reports whether err must be surfaced as a generic "unauthenticated"
// outcome. Forbidden and StoreUnavailable are deliberately excluded.
func IsUnauthenticated(err error) bool {
	switch KindOf(err) {
	case KindInvalidCredentials, KindInvalidToken, KindSessionNotFound, KindSessionExpired:
		return true
	}
	return false
}
