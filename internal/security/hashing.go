// Package security hashes principal secrets for the local principal provider.
package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretLength is returned when a secret is empty or longer than bcrypt accepts (72 bytes).
var ErrSecretLength = errors.New("security: secret must be 1 to 72 bytes")

const maxSecretBytes = 72

// Hasher hashes and verifies secrets using bcrypt. Callers must not log or
// persist plaintext secrets.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost clamped to 4–31.
// Zero or negative picks bcrypt.DefaultCost.
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

// Hash returns the bcrypt hash of secret as a string suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	if len(secret) == 0 || len(secret) > maxSecretBytes {
		return "", ErrSecretLength
	}
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns nil when secret matches hash; otherwise an error
// (bcrypt.ErrMismatchedHashAndPassword on mismatch).
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}

// NeedsRehash reports whether hash was produced with a cost other than h.Cost.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err != nil || cost != h.Cost
}
