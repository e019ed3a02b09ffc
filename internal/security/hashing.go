package security

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrCorruptCredential is returned by Verify when the stored digest is not a valid bcrypt hash.
var ErrCorruptCredential = errors.New("corrupt credential digest")

// Hasher hashes and verifies login passwords using bcrypt. Plaintext passwords must
// never be logged or persisted by callers. Safe for concurrent use.
type Hasher struct {
	Cost int

	dummyOnce   sync.Once
	dummyDigest []byte
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to 4–31.
// Zero or negative selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns a salted bcrypt digest of plaintext, suitable for storage.
// Two calls with the same input produce different digests.
func (h *Hasher) Hash(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether plaintext matches digest. A mismatch is (false, nil);
// only a malformed digest yields ErrCorruptCredential.
func (h *Hasher) Verify(plaintext, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, ErrCorruptCredential
	}
}

// VerifyDummy spends the same bcrypt work as Verify against a fixed digest. Login calls it
// when no identity matches the login key so unknown keys are not faster to reject.
func (h *Hasher) VerifyDummy(plaintext string) {
	h.dummyOnce.Do(func() {
		h.dummyDigest, _ = bcrypt.GenerateFromPassword([]byte("serreconnect-dummy-credential"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummyDigest, []byte(plaintext))
}
