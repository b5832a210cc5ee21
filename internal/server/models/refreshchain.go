package models

import "time"

// RefreshChain is the per-subject refresh session state. TokenID holds the
// jti of the only refresh token that is currently valid for the user;
// rotation swaps it, revocation keeps the row but flips Revoked.
type RefreshChain struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
	Revoked   bool
	UpdatedAt time.Time
}
