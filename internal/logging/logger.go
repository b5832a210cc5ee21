// Package logging decouples the auth core from a concrete logging backend.
// Services hold the Logger interface; main wires in the slog adapter.
package logging

import "context"

// Logger writes structured records. Args alternate keys and values, slog
// style:
//
//	log.Warn(ctx, "refresh token reuse detected", "user_id", id)
type Logger interface {
	Info(ctx context.Context, msg string, args ...any)

	// Warn records suspicious but survivable conditions; the audit-relevant
	// security events (reuse detection, rate-limit degradation) go here.
	Warn(ctx context.Context, msg string, args ...any)

	Error(ctx context.Context, msg string, args ...any)

	// With returns a derived logger carrying the given pairs on every record.
	// Packages tag themselves once with With("module", ...) at construction.
	With(args ...any) Logger
}
