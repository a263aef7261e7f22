package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies short-lived secrets (OTP codes) using bcrypt, which salts
// every hash and compares in constant time. Callers must not log or persist plaintext secrets.
type Hasher struct {
	Cost int
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

// Hash produces a salted bcrypt hash of secret suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash. Returns nil if they match; returns an
// error (including bcrypt.ErrMismatchedHashAndPassword) if they do not or on invalid hash.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}
