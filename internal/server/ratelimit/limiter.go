// Package ratelimit bounds request frequency per client key and route class
// using fixed-window counters. Two backends exist: an in-process one and a
// Redis-backed one for multi-instance deployments.
package ratelimit

import (
	"context"
	"time"
)

// Rule is the budget for one route class: at most Limit requests per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter counts requests per (key, route) pair. Windows for different
// pairs are fully independent.
//
// Allow consumes one unit of budget and reports whether the request may
// proceed; when it may not, retryAfter hints how long until the window
// resets. Blocked peeks at the budget without consuming it, so callers can
// refuse an operation that previous failures have already exhausted.
type Limiter interface {
	Allow(ctx context.Context, key, route string) (allowed bool, retryAfter time.Duration, err error)
	Blocked(ctx context.Context, key, route string) (blocked bool, retryAfter time.Duration, err error)
}

// Rules maps a route class name to its budget. Routes without an entry fall
// back to the Default rule.
type Rules struct {
	Default  Rule
	PerRoute map[string]Rule
}

func (r Rules) rule(route string) Rule {
	if rule, ok := r.PerRoute[route]; ok {
		return rule
	}
	return r.Default
}
