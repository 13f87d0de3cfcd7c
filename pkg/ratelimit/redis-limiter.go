package ratelimit

import (
	"context"
	"fmt"
	"imagecache/pkg/models"
	"imagecache/pkg/utils/logger"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitNamespace = "imagecache:ratelimit:"

// tokenBucketScript refills and consumes atomically so every instance sharing
// the redis sees one bucket per key. Times are in milliseconds.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(state[1]) or max_tokens
local last_refill = tonumber(state[2]) or now

if now > last_refill then
	tokens = math.min(max_tokens, tokens + (now - last_refill) * refill_per_ms)
	last_refill = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('PEXPIRE', key, ttl)

local reset_ms = 0
if tokens < max_tokens then
	reset_ms = math.ceil((max_tokens - tokens) / refill_per_ms)
end

return {allowed, math.floor(tokens), now + reset_ms}
`)

// RedisRateLimiter shares buckets between instances through redis. When redis
// is unreachable requests are allowed if failOpen is set and denied otherwise.
type RedisRateLimiter struct {
	client    *redis.Client
	namespace string
	failOpen  bool
	logger    *logger.Logger
	ctx       context.Context
}

func NewRedisRateLimiter(config *models.RedisConfig, failOpen bool, logger *logger.Logger) *RedisRateLimiter {
	db := 0
	if config.DB != nil {
		db = *config.DB
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       db,
	})

	namespace := config.KeyNamespace
	if namespace == "" {
		namespace = defaultRateLimitNamespace
	} else if namespace[len(namespace)-1] != ':' {
		namespace += ":"
	}

	return &RedisRateLimiter{
		client:    client,
		namespace: namespace,
		failOpen:  failOpen,
		logger:    logger,
		ctx:       context.Background(),
	}
}

func (r *RedisRateLimiter) AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time) {
	now := time.Now()
	if limit <= 0 {
		return false, 0, now.Add(window)
	}

	refillPerMs := refillPerSecond(limit, window) / 1000
	ttl := (2 * window).Milliseconds()

	result, err := tokenBucketScript.Run(r.ctx, r.client, []string{r.key(key)},
		limit, refillPerMs, now.UnixMilli(), ttl).Result()
	if err != nil {
		return r.unavailable(fmt.Errorf("rate limit script failed: %w", err), limit, now, window)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		return r.unavailable(fmt.Errorf("unexpected rate limit script result %v", result), limit, now, window)
	}

	allowed, ok1 := toInt64(values[0])
	remaining, ok2 := toInt64(values[1])
	resetMs, ok3 := toInt64(values[2])
	if !ok1 || !ok2 || !ok3 {
		return r.unavailable(fmt.Errorf("unexpected rate limit script result %v", values), limit, now, window)
	}

	return allowed == 1, remaining, time.UnixMilli(resetMs)
}

func (r *RedisRateLimiter) unavailable(err error, limit int64, now time.Time, window time.Duration) (bool, int64, time.Time) {
	r.logger.Error(err.Error())
	if r.failOpen {
		return true, limit, now.Add(window)
	}
	return false, 0, now.Add(window)
}

// toInt64 accepts the number types a redis reply can carry.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func (r *RedisRateLimiter) Reset(key string) {
	r.client.Del(r.ctx, r.key(key))
}

func (r *RedisRateLimiter) Health() error {
	return r.client.Ping(r.ctx).Err()
}

func (r *RedisRateLimiter) key(k string) string {
	return r.namespace + k
}

func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}
