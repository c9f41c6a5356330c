package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/util"
)

const rateLimitPrefix = "rate_limit:"

// ErrRateLimited is returned when a counter exceeds its ceiling within the
// current window. The message is the caller-visible error code.
var ErrRateLimited = errors.New("RATE_LIMITED")

// Counter is the atomic increment-and-expire primitive backing the limiter.
// *client.RedisClient satisfies it.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

// RateLimiter is a fixed-window counter keyed by an arbitrary string
// (ip:<addr>, id:<identifier>). The increment and expiry run as one atomic
// unit so a counter can never survive its window.
type RateLimiter struct {
	counter Counter
}

func NewRateLimiter(counter Counter) *RateLimiter {
	return &RateLimiter{counter: counter}
}

// Bump increments the counter for key, resets its expiry to window from now,
// and fails with ErrRateLimited once the post-increment count exceeds max.
func (l *RateLimiter) Bump(ctx context.Context, key string, window time.Duration, max int) error {
	count, err := l.counter.IncrWithExpire(ctx, rateLimitPrefix+key, window)
	if err != nil {
		util.Error("Failed to bump rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("failed to bump rate limit counter: %w", err)
	}

	if count > int64(max) {
		util.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("max", max))
		return ErrRateLimited
	}

	util.Debug("Rate limit counter bumped",
		zap.String("key", key),
		zap.Int64("count", count),
		zap.Duration("window", window))
	return nil
}
