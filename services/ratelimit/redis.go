package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript opens the window on the first hit and reports the
// remaining TTL so callers can compute ResetAt.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore is a distributed Store backed by Redis counters
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store that namespaces keys under prefix
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Increment implements Store
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Result()
	if err != nil {
		return Window{}, fmt.Errorf("redis increment: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return Window{}, fmt.Errorf("unexpected script result: %#v", res)
	}
	count, _ := arr[0].(int64)
	ttl, _ := arr[1].(int64)
	return Window{
		Count:   count,
		ResetAt: s.now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Peek implements Store
func (s *RedisStore) Peek(ctx context.Context, key string) (Window, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, s.key(key))
	ttl := pipe.PTTL(ctx, s.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Window{}, false, fmt.Errorf("redis peek: %w", err)
	}

	count, err := get.Int64()
	if errors.Is(err, redis.Nil) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("redis peek: %w", err)
	}
	return Window{Count: count, ResetAt: s.now().Add(ttl.Val())}, true, nil
}

// Reset implements Store
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	return nil
}
