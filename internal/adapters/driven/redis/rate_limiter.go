package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

// DefaultRateLimitPrefix namespaces rate limiter keys
const DefaultRateLimitPrefix = "posbridge:ratelimit:"

// Verify interface compliance
var (
	_ driven.RateLimiter = (*RateLimiter)(nil)
	_ driven.Throttler   = (*RateLimiter)(nil)
)

// RateLimiter is a sliding window limiter shared by every replica through a
// Redis sorted set. Members are admissions scored by unix milliseconds.
type RateLimiter struct {
	client redis.UniversalClient
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

// RateLimiterConfig configures a shared limiter for one budget key.
type RateLimiterConfig struct {
	Prefix string
	Key    string
	Limit  int
	Window time.Duration
}

// NewRateLimiter creates a limiter for cfg.Key.
func NewRateLimiter(client redis.UniversalClient, cfg RateLimiterConfig) *RateLimiter {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRateLimitPrefix
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 5
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		client: client,
		// the hash tag keeps the window and block keys in one cluster slot
		key:    prefix + "{" + cfg.Key + "}",
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// allowScript returns {1, 0} when admitted, otherwise {0, retry_ms}.
// A block key set by BlockFor takes precedence over the window.
var allowScript = redis.NewScript(`
	local key = KEYS[1]
	local block_key = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	local blocked = redis.call("pttl", block_key)
	if blocked > 0 then
		return {0, blocked}
	end

	redis.call("zremrangebyscore", key, "-inf", now - window_ms)
	local current = redis.call("zcard", key)
	if current < limit then
		redis.call("zadd", key, now, member)
		redis.call("pexpire", key, window_ms)
		return {1, 0}
	end

	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	local retry = 1
	if #oldest > 0 then
		retry = tonumber(oldest[2]) + window_ms - now
		if retry < 1 then
			retry = 1
		end
	end
	return {0, retry}
`)

// allow makes one admission attempt.
func (r *RateLimiter) allow(ctx context.Context) (time.Duration, bool, error) {
	res, err := allowScript.Run(ctx, r.client,
		[]string{r.key, r.blockKey()},
		r.now().UnixMilli(),
		r.window.Milliseconds(),
		r.limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("rate limit %s: %w", r.key, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("rate limit %s: unexpected script reply %v", r.key, res)
	}
	if res[0] == 1 {
		return 0, true, nil
	}
	return time.Duration(res[1]) * time.Millisecond, false, nil
}

// Wait blocks until the shared window admits the call.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.RateLimitWaitTime.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	for {
		delay, ok, err := r.allow(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *RateLimiter) blockKey() string {
	return r.key + ":block"
}

// extendBlockScript sets the block key unless a longer block is in place.
var extendBlockScript = redis.NewScript(`
	local ttl = tonumber(ARGV[1])
	if redis.call("pttl", KEYS[1]) >= ttl then
		return 0
	end
	redis.call("set", KEYS[1], "1", "PX", ttl)
	return 1
`)

// BlockFor stops admissions on every replica for at least d. A longer
// block already in place is kept.
func (r *RateLimiter) BlockFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if err := extendBlockScript.Run(ctx, r.client, []string{r.blockKey()}, ms).Err(); err != nil {
		return fmt.Errorf("block rate limit %s: %w", r.key, err)
	}
	return nil
}

// Reset drops the window and any block.
func (r *RateLimiter) Reset(ctx context.Context) error {
	return r.client.Del(ctx, r.key, r.blockKey()).Err()
}
