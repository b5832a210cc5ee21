package models

import "time"

// ConsumedToken marks a single-use verification or reset token (by jti) as
// redeemed. Rows can be pruned once ExpiresAt has passed, since the codec
// rejects the token on expiry anyway.
type ConsumedToken struct {
	TokenID    string
	UserID     string
	Purpose    string
	ConsumedAt time.Time
	ExpiresAt  time.Time
}
