package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter implements domain.RateLimiter with a sliding window over a
// Redis sorted set, evaluated atomically in Lua. Every upstream client
// (Birdeye, Jupiter, Solana RPC) shares this limiter, so the budget holds
// across restarts and across multiple bot processes.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		script: redis.NewScript(slidingWindowLua),
	}
}

// Allow reports whether one more request fits the window, counting it when
// it does.
func (rl *RateLimiter) Allow(ctx context.Context, ratedKey string, limit int, window time.Duration) (bool, error) {
	res, err := rl.script.Run(ctx, rl.rdb,
		[]string{key("ratelimit", ratedKey)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", ratedKey, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit %s: short script reply (%d)", ratedKey, len(res))
	}
	return res[0] == 1, nil
}

// waitPoll is how often Wait re-checks the window.
const waitPoll = 50 * time.Millisecond

// Wait blocks until one request per second fits for the key. Callers with
// larger budgets use Allow directly.
func (rl *RateLimiter) Wait(ctx context.Context, ratedKey string) error {
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		allowed, err := rl.Allow(ctx, ratedKey, 1, time.Second)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis: rate limit wait %s: %w", ratedKey, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
