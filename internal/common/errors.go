// Package common defines shared constants and sentinel errors used across
// the authvault components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrAlreadyExists  = errors.New("already exists")

	// Token lifecycle errors.
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenMalformed  = errors.New("token malformed")
	ErrPurposeMismatch = errors.New("token purpose mismatch")
	ErrTokenConsumed   = errors.New("token already consumed")

	// ErrSessionCompromised signals refresh-token reuse; the whole chain is
	// revoked before it is returned.
	ErrSessionCompromised = errors.New("session compromised")

	// Rate limiting.
	ErrTooManyRequests = errors.New("too many requests")

	// Data integrity fault: a stored credential blob that bcrypt cannot
	// parse. Surfaced as 500, never as a failed login.
	ErrCorruptCredential = errors.New("corrupt credential")
)
