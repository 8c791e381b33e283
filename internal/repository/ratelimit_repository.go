package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitRepository tracks short-lived attempt counters in Redis for
// credential-guessing protection.
type RateLimitRepository struct {
	client *redis.Client
}

// NewRateLimitRepository constructs a rate limit repository.
func NewRateLimitRepository(client *redis.Client) *RateLimitRepository {
	return &RateLimitRepository{client: client}
}

// Hit increments the counter for key and returns the value within the
// current window. The window TTL is set on first increment only.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if r.client == nil {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit hit %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Reset clears the counter for key, typically after a successful login.
func (r *RateLimitRepository) Reset(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("rate limit reset %s: %w", key, err)
	}
	return nil
}
