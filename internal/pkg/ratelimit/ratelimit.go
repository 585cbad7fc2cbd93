package ratelimit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Result carries the limiter verdict plus advisory header values. Remaining
// and ResetAt are for X-RateLimit-* headers only and must never feed
// correctness decisions.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key over a rolling window. The first request
// in a window sets the window's lifetime; every count within that lifetime
// shares one ceiling.
//
// The limiter fails open: it exists for abuse mitigation, not correctness,
// so a broken counter store must not block legitimate traffic.
type Limiter struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewLimiter creates a rate limiter from an injected Redis client
func NewLimiter(client *redis.Client, max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{client: client, max: max, window: window}
}

// Max returns the configured ceiling
func (l *Limiter) Max() int {
	return l.max
}

// Check counts one request against key and reports whether it may proceed
func (l *Limiter) Check(ctx context.Context, key string) Result {
	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[RateLimit] Store failure for %s, failing open: %v", key, err)
		return Result{Allowed: true, Remaining: l.max, ResetAt: time.Now().Add(l.window)}
	}

	count := incr.Val()
	expiry := ttl.Val()

	// First hit in a window: the counter has no lifetime yet.
	if expiry < 0 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			log.Warnf("[RateLimit] Failed to set window for %s: %v", key, err)
		}
		expiry = l.window
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   count <= int64(l.max),
		Remaining: remaining,
		ResetAt:   time.Now().Add(expiry),
	}
}
