package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	windowStart time.Time
	count       int
}

// MemoryLimiter keeps fixed-window counters in process memory. A single
// mutex guards the bucket map; increments are therefore atomic and two
// concurrent requests can never both take the last slot.
type MemoryLimiter struct {
	mu      sync.Mutex
	rules   Rules
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter(rules Rules) *MemoryLimiter {
	return &MemoryLimiter{
		rules:   rules,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key, route string) (bool, time.Duration, error) {
	rule := l.rules.rule(route)

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.fetch(key, route, rule)
	if b.count >= rule.Limit {
		return false, l.retryAfter(b, rule), nil
	}

	b.count++
	return true, 0, nil
}

func (l *MemoryLimiter) Blocked(ctx context.Context, key, route string) (bool, time.Duration, error) {
	rule := l.rules.rule(route)

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.fetch(key, route, rule)
	if b.count >= rule.Limit {
		return true, l.retryAfter(b, rule), nil
	}
	return false, 0, nil
}

// fetch returns the live bucket for key+route, resetting it when its window
// has rolled over. Caller must hold l.mu.
func (l *MemoryLimiter) fetch(key, route string, rule Rule) *bucket {
	k := route + ":" + key

	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{windowStart: l.now()}
		l.buckets[k] = b
		return b
	}

	if l.now().Sub(b.windowStart) >= rule.Window {
		b.windowStart = l.now()
		b.count = 0
	}
	return b
}

func (l *MemoryLimiter) retryAfter(b *bucket, rule Rule) time.Duration {
	remaining := rule.Window - l.now().Sub(b.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}
