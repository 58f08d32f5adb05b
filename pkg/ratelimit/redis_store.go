package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store: window counters live in Redis so
// every gateway replica enforces the same per-minute limits instead of
// each holding its own in-process count. Increment is a single Lua
// script so the read-compare-write that resets a stale window never
// races with a concurrent increment from another replica.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisWindowKey(key string) string { return "ratelimit:window:" + key }

// windowTTL bounds how long a stale window hash lingers in Redis after
// its minute ends; DeleteExpired is a no-op against this store because
// the TTL already reclaims it.
const windowTTL = 2 * time.Minute

// incrementScript atomically resets the window when its stored start
// doesn't match the caller's windowStart, otherwise increments it, and
// always refreshes the TTL.
var incrementScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'start')
if start == false or start ~= ARGV[1] then
	redis.call('HSET', KEYS[1], 'start', ARGV[1], 'requests', ARGV[2], 'tokens', ARGV[3])
else
	redis.call('HINCRBY', KEYS[1], 'requests', ARGV[2])
	redis.call('HINCRBY', KEYS[1], 'tokens', ARGV[3])
end
redis.call('EXPIRE', KEYS[1], ARGV[4])
local requests = redis.call('HGET', KEYS[1], 'requests')
local tokens = redis.call('HGET', KEYS[1], 'tokens')
return {requests, tokens}
`)

func (s *RedisStore) Increment(ctx context.Context, key string, windowStart time.Time, requests, tokens int64) (*Window, error) {
	res, err := incrementScript.Run(ctx, s.rdb, []string{redisWindowKey(key)},
		formatWindowStart(windowStart), requests, tokens, int64(windowTTL.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis increment %s: %w", key, err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("ratelimit: redis increment %s: unexpected script result %v", key, res)
	}
	reqCount, err := parseScriptInt(vals[0])
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis increment %s: %w", key, err)
	}
	tokCount, err := parseScriptInt(vals[1])
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis increment %s: %w", key, err)
	}
	return &Window{Key: key, WindowStart: windowStart, RequestCount: reqCount, TokenCount: tokCount}, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string, windowStart time.Time) (*Window, error) {
	vals, err := s.rdb.HMGet(ctx, redisWindowKey(key), "start", "requests", "tokens").Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis peek %s: %w", key, err)
	}
	start, _ := vals[0].(string)
	if start == "" || start != formatWindowStart(windowStart) {
		return &Window{Key: key, WindowStart: windowStart}, nil
	}
	reqCount, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	tokCount, _ := strconv.ParseInt(fmt.Sprint(vals[2]), 10, 64)
	return &Window{Key: key, WindowStart: windowStart, RequestCount: reqCount, TokenCount: tokCount}, nil
}

func (s *RedisStore) RecentRequestCount(ctx context.Context, key string, since time.Time) (int64, error) {
	vals, err := s.rdb.HMGet(ctx, redisWindowKey(key), "start", "requests").Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis recent request count %s: %w", key, err)
	}
	start, _ := vals[0].(string)
	if start == "" {
		return 0, nil
	}
	windowStart, err := parseWindowStart(start)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis recent request count %s: %w", key, err)
	}
	w := Window{WindowStart: windowStart}
	if w.end().Before(since) {
		return 0, nil
	}
	reqCount, _ := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	return reqCount, nil
}

// DeleteExpired is a no-op: windowTTL already reclaims stale window
// hashes without a sweep.
func (s *RedisStore) DeleteExpired(ctx context.Context, cutoff time.Time) error {
	return nil
}

func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	pattern := redisWindowKey(prefix) + "*"
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("ratelimit: redis scan %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis delete by prefix %s: %w", prefix, err)
	}
	return nil
}

func formatWindowStart(t time.Time) string {
	return strconv.FormatInt(t.UTC().Unix(), 10)
}

func parseWindowStart(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func parseScriptInt(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return strconv.ParseInt(fmt.Sprint(t), 10, 64)
	}
}
