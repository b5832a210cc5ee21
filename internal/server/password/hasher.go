// Package password implements one-way credential hashing for stored user
// secrets. Hashes are salted bcrypt blobs with a tunable cost.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/dkarpov/authvault/internal/common"
)

type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns a salted bcrypt blob for the given secret.
func (h *Hasher) Hash(secret string) (string, error) {
	blob, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}
	return string(blob), nil
}

// Verify reports whether secret matches the stored blob. The comparison is
// constant-time with respect to the hash bytes. A blob that bcrypt cannot
// parse yields ErrCorruptCredential, never a plain false: it means the
// stored credential itself is damaged.
func (h *Hasher) Verify(secret, blob string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(blob), []byte(secret))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", common.ErrCorruptCredential, err)
}

// DummyVerify burns the same amount of CPU as a failed Verify against a real
// hash. Login calls it for unknown identities so response timing does not
// reveal whether an account exists.
func (h *Hasher) DummyVerify(secret string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
}

// bcrypt hash of an unguessable throwaway value, cost 10.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
