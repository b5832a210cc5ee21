// Package mail defines the outbound mail collaborator. Delivery is
// fire-and-forget from the auth core's perspective: failures are logged by
// the dispatcher, never retried by callers.
package mail

import "context"

// Templates the auth core asks the dispatcher to render.
const (
	TemplateVerifyEmail   = "verify_email"
	TemplateResetPassword = "reset_password"
)

// Dispatcher delivers a templated message carrying a single-use token.
type Dispatcher interface {
	Send(ctx context.Context, recipient, template, tokenString string) error
}
