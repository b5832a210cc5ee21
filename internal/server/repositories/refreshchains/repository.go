// Package refreshchains declares the storage contract for per-subject
// refresh-token chains. Only the id (jti) of the currently valid refresh
// token is persisted; the signed token itself never touches storage.
package refreshchains

import (
	"context"
	"time"

	"github.com/dkarpov/authvault/internal/server/models"
)

type Repository interface {
	// Replace starts a fresh chain for userID: any previous chain head is
	// discarded and tokenID becomes the only valid refresh id.
	Replace(ctx context.Context, userID, tokenID string, validity time.Duration) error

	// Rotate atomically swaps the chain head from oldTokenID to newTokenID.
	// It is a compare-and-swap: the update applies only while oldTokenID is
	// still current and the chain is not revoked. The return value reports
	// whether this caller won; exactly one of two racing rotations can.
	Rotate(ctx context.Context, userID, oldTokenID, newTokenID string, validity time.Duration) (bool, error)

	// Find returns the chain state for userID, common.ErrorNotFound when the
	// subject has never logged in.
	Find(ctx context.Context, userID string) (*models.RefreshChain, error)

	// Revoke marks the chain revoked. Revoking an absent or already revoked
	// chain is not an error.
	Revoke(ctx context.Context, userID string) error
}
