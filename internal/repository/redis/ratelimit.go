package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/codeshare/internal/domain"
)

const rateLimitWindow = time.Minute

// RateLimiter counts requests per caller in fixed one-minute windows
type RateLimiter struct {
	client *Client
	limit  int64
}

// NewRateLimiter allows requestsPerMinute plus burst requests per window
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  int64(requestsPerMinute + burst),
	}
}

// Allow counts one request for key and reports whether it fits in the current window
func (r *RateLimiter) Allow(ctx context.Context, key string) (domain.RateDecision, error) {
	fullKey := r.client.key("ratelimit", key)

	pipe := r.client.rdb.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, rateLimitWindow)
	ttl := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.RateDecision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	// PTTL is negative for keys without an expiry; treat that as a fresh window
	window := ttl.Val()
	if window <= 0 {
		window = rateLimitWindow
	}

	count := incr.Val()
	remaining := r.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return domain.RateDecision{
		Allowed:   count <= r.limit,
		Limit:     int(r.limit),
		Remaining: int(remaining),
		ResetAt:   time.Now().Add(window),
	}, nil
}
