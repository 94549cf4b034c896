// Package ratelimit throttles chain submissions per agent. The bucket
// state lives in Redis so multiple coordinator instances sharing a
// wallet observe one budget of submissions per agent. With no Redis
// configured the limiter is a no-op allow.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key (e.g. "submit:agent:a")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, floating point)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

-- Retrieve current state
local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

-- Initialize if missing
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

-- Refill
local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

-- Consume
local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

-- Update state (expire in 60s to self-clean)
redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// Policy bounds an agent's submission rate.
type Policy struct {
	PerMinute int // refill rate, submissions per minute
	Burst     int // bucket capacity
}

// Limiter gates submissions per agent.
type Limiter interface {
	Allow(ctx context.Context, agentID string) (bool, error)
}

// NoopLimiter allows everything; used when no Redis is configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(ctx context.Context, agentID string) (bool, error) { return true, nil }

// RedisLimiter implements Limiter using a Redis token bucket.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
}

// NewRedisLimiter creates a limiter backed by Redis.
func NewRedisLimiter(addr, password string, db int, policy Policy) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiter{client: rdb, policy: policy}
}

// NewRedisLimiterFromClient wraps an existing client, for tests.
func NewRedisLimiterFromClient(client *redis.Client, policy Policy) *RedisLimiter {
	return &RedisLimiter{client: client, policy: policy}
}

// Allow executes the Lua script to check and update the token bucket.
func (l *RedisLimiter) Allow(ctx context.Context, agentID string) (bool, error) {
	key := fmt.Sprintf("submit:agent:%s", agentID)

	rate := float64(l.policy.PerMinute) / 60.0
	if rate <= 0 {
		rate = 1.0
	}
	burst := l.policy.Burst
	if burst <= 0 {
		burst = 1
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{key}, rate, burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}

	allowedVal, _ := results[0].(int64)
	return allowedVal == 1, nil
}
