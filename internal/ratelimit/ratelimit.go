// Package ratelimit bounds the aggregate bank request rate across all worker
// processes. The bucket state lives in redis so no single process owns it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter gates one outbound bank attempt. Acquire blocks until a slot is
// available or the context is done.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Noop is used when the configured limit is zero (limiter disabled).
type Noop struct{}

func (Noop) Acquire(ctx context.Context) error { return nil }

// Token bucket with capacity 1, refilled at maxRPS tokens per second. Refill
// and take happen in one Lua script so concurrent workers never observe a
// half-updated bucket.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local capacity = 1.0

local tokens = tonumber(redis.call("HGET", key, "tokens"))
local ts_ms = tonumber(redis.call("HGET", key, "ts_ms"))

if tokens == nil then
  tokens = capacity
end
if ts_ms == nil then
  ts_ms = now_ms
end

local elapsed = math.max(0, now_ms - ts_ms) / 1000.0
tokens = math.min(capacity, tokens + elapsed * rate)

if tokens >= 1.0 then
  tokens = tokens - 1.0
  redis.call("HSET", key, "tokens", tokens, "ts_ms", now_ms)
  return {1, "0"}
end

local wait_seconds = (1.0 - tokens) / rate
redis.call("HSET", key, "tokens", tokens, "ts_ms", now_ms)
return {0, tostring(wait_seconds)}
`)

type TokenBucket struct {
	rdb    *redis.Client
	key    string
	maxRPS float64
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func NewTokenBucket(rdb *redis.Client, key string, maxRPS float64) (*TokenBucket, error) {
	if maxRPS <= 0 {
		return nil, fmt.Errorf("maxRPS must be > 0")
	}
	return &TokenBucket{
		rdb:    rdb,
		key:    key,
		maxRPS: maxRPS,
		sleep:  sleepCtx,
		now:    time.Now,
	}, nil
}

func (l *TokenBucket) Acquire(ctx context.Context) error {
	for {
		nowMS := l.now().UnixMilli()
		res, err := tokenBucketScript.Run(ctx, l.rdb, []string{l.key}, nowMS, l.maxRPS).Slice()
		if err != nil {
			return fmt.Errorf("rate limiter unavailable: %w", err)
		}
		if len(res) != 2 {
			return fmt.Errorf("rate limiter unavailable: unexpected reply %v", res)
		}

		allowed, _ := res[0].(int64)
		if allowed == 1 {
			return nil
		}

		waitSeconds := parseWaitSeconds(res[1])
		if waitSeconds <= 0 {
			waitSeconds = 1 / l.maxRPS
		}
		if err := l.sleep(ctx, time.Duration(waitSeconds*float64(time.Second))); err != nil {
			return err
		}
	}
}

func parseWaitSeconds(v interface{}) float64 {
	switch x := v.(type) {
	case string:
		var f float64
		if _, err := fmt.Sscanf(x, "%g", &f); err == nil {
			return f
		}
	case int64:
		return float64(x)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Build returns a shared limiter, or Noop when maxRPS is zero.
func Build(rdb *redis.Client, key string, maxRPS float64) (Limiter, error) {
	if maxRPS <= 0 {
		return Noop{}, nil
	}
	return NewTokenBucket(rdb, key, maxRPS)
}
