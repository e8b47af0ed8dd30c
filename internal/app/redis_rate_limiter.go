package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// payAttemptScript counts one payment attempt in the current window bucket. The counter stops
// at limit+1, so a client hammering a rejected window neither inflates the count nor pushes the
// expiry out. KEYS[1] is the bucket key, ARGV[1] the bucket's remaining milliseconds and ARGV[2]
// the limit.
var payAttemptScript = redis.NewScript(`
local limit = tonumber(ARGV[2])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= limit then
  current = redis.call("INCR", KEYS[1])
  if current == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
  end
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

const minRateLimitWindow = time.Second

// RedisRateLimiter limits payment attempts per payer in clock-aligned windows. Every node
// sharing the Redis instance sees the same bucket for the same minute, so a payer cannot
// spread attempts across replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "arcdrop"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":") + ":rate_limit"

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
		now:    time.Now,
	}
}

// ConsumeRateLimit counts one attempt by subject within scope and returns the attempts seen in
// the current window, capped at limit+1. A nil client or a non-positive limit disables
// limiting and always reports zero.
func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	key, remaining, ok := r.bucket(scope, subject, window)
	if !ok {
		return 0, 0, nil
	}

	rawResult, err := payAttemptScript.Run(ctx, r.client, []string{key}, remaining.Milliseconds(), limit).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("consume rate limit: %w", err)
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}
	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(currentCount), retryAfter, nil
}

// bucket names the window that now falls into and how long it has left. Payer emails are
// case-insensitive, so the subject is lowercased before it becomes part of the key.
func (r *RedisRateLimiter) bucket(scope, subject string, window time.Duration) (string, time.Duration, bool) {
	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.ToLower(strings.TrimSpace(subject))
	if normalizedScope == "" || normalizedSubject == "" {
		return "", 0, false
	}
	if window < minRateLimitWindow {
		window = minRateLimitWindow
	}
	window = window.Truncate(time.Millisecond)

	now := r.now().UnixMilli()
	windowMs := window.Milliseconds()
	start := now - now%windowMs
	remaining := time.Duration(start+windowMs-now) * time.Millisecond

	key := fmt.Sprintf("%s:%s:%s:%d", r.prefix, normalizedScope, normalizedSubject, start/windowMs)
	return key, remaining, true
}
