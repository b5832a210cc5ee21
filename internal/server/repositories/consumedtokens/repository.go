// Package consumedtokens declares the storage contract for redeemed
// single-use token ids. Decoding a verification token only proves signature
// and expiry; this set is what makes redemption exactly-once.
package consumedtokens

import (
	"context"

	"github.com/dkarpov/authvault/internal/server/models"
)

type Repository interface {
	// Consume records the token id as redeemed. It returns false when the id
	// was already present, i.e. somebody redeemed this token before.
	Consume(ctx context.Context, token *models.ConsumedToken) (bool, error)

	// DeleteExpired prunes rows whose tokens the codec would reject on
	// expiry anyway. Returns the number of rows removed.
	DeleteExpired(ctx context.Context) (int64, error)
}
