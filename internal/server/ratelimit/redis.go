package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkarpov/authvault/internal/logging"
)

// RedisLimiter keeps fixed-window counters in Redis so the budget is shared
// across server instances. The window is implemented with INCR plus a TTL
// set when the key is first created.
//
// When the store is unreachable the configured policy applies: failOpen
// admits the request, fail-closed refuses it. Either way the store error is
// returned so the caller can log it; it is a deliberate choice, not an
// accident of error propagation.
type RedisLimiter struct {
	client   *redis.Client
	rules    Rules
	failOpen bool
	logger   logging.Logger
}

func NewRedisLimiter(client *redis.Client, rules Rules, failOpen bool, logger logging.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		rules:    rules,
		failOpen: failOpen,
		logger:   logger.With("module", "ratelimit"),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key, route string) (bool, time.Duration, error) {
	rule := l.rules.rule(route)
	k := l.key(key, route)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Error(ctx, "rate limit store unreachable", "error", err, "fail_open", l.failOpen)
		return l.failOpen, 0, err
	}

	if incr.Val() > int64(rule.Limit) {
		retryAfter, err := l.client.TTL(ctx, k).Result()
		if err != nil || retryAfter < 0 {
			retryAfter = rule.Window
		}
		return false, retryAfter, nil
	}

	return true, 0, nil
}

func (l *RedisLimiter) Blocked(ctx context.Context, key, route string) (bool, time.Duration, error) {
	rule := l.rules.rule(route)
	k := l.key(key, route)

	count, err := l.client.Get(ctx, k).Int64()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		l.logger.Error(ctx, "rate limit store unreachable", "error", err, "fail_open", l.failOpen)
		return !l.failOpen, 0, err
	}

	if count >= int64(rule.Limit) {
		retryAfter, ttlErr := l.client.TTL(ctx, k).Result()
		if ttlErr != nil || retryAfter < 0 {
			retryAfter = rule.Window
		}
		return true, retryAfter, nil
	}

	return false, 0, nil
}

func (l *RedisLimiter) key(key, route string) string {
	return fmt.Sprintf("ratelimit:%s:%s", route, key)
}
