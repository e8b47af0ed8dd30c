package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyInFlight = "in-flight"

// ErrIdempotencyInFlight means another request holding the same key has not finished.
var ErrIdempotencyInFlight = errors.New("a request with this idempotency key is still being processed")

// StoredResponse is a replayable HTTP response.
type StoredResponse struct {
	StatusCode int             `json:"status"`
	Body       json.RawMessage `json:"body"`
}

// RedisIdempotencyStore reserves idempotency keys with SETNX and caches the final response.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyStore {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "arcdrop"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, prefix: trimmedPrefix + ":idempotency", ttl: ttl}
}

// Enabled reports whether a Redis client is attached.
func (s *RedisIdempotencyStore) Enabled() bool {
	return s != nil && s.client != nil
}

// Reserve claims key for a new request. It returns the cached response when the key already
// completed, ErrIdempotencyInFlight while the first request is running, and (nil, nil) when
// the caller now owns the key.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, scope, key string) (*StoredResponse, error) {
	if !s.Enabled() {
		return nil, nil
	}
	redisKey := s.key(scope, key)
	claimed, err := s.client.SetNX(ctx, redisKey, idempotencyInFlight, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if claimed {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; treat as a fresh claim.
			return s.Reserve(ctx, scope, key)
		}
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	if raw == idempotencyInFlight {
		return nil, ErrIdempotencyInFlight
	}
	var stored StoredResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, fmt.Errorf("decode idempotent response: %w", err)
	}
	return &stored, nil
}

// Complete stores the final response for key.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	if !s.Enabled() {
		return nil
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(scope, key), payload, s.ttl).Err()
}

// Release drops a reservation so the request can be retried, used when processing failed
// with a retryable error.
func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Del(ctx, s.key(scope, key)).Err()
}

func (s *RedisIdempotencyStore) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, strings.TrimSpace(scope), strings.TrimSpace(key))
}
