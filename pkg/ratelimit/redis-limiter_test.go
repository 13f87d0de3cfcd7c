package ratelimit

import (
	"imagecache/pkg/models"
	"imagecache/pkg/utils/logger"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// nothing listens on port 1, so every script call fails
func newUnreachableRedisLimiter(t *testing.T, namespace string, failOpen bool) *RedisRateLimiter {
	t.Helper()
	limiter := NewRedisRateLimiter(&models.RedisConfig{
		Address:      "127.0.0.1:1",
		KeyNamespace: namespace,
	}, failOpen, logger.NewNopLogger())
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

func TestNewRedisRateLimiter_Namespace(t *testing.T) {
	assert.Equal(t, defaultRateLimitNamespace, newUnreachableRedisLimiter(t, "", true).namespace)
	assert.Equal(t, "images:", newUnreachableRedisLimiter(t, "images", true).namespace)
	assert.Equal(t, "images:", newUnreachableRedisLimiter(t, "images:", true).namespace)
	assert.Equal(t, "images:10.0.0.7", newUnreachableRedisLimiter(t, "images", true).key("10.0.0.7"))
}

func TestRedisRateLimiter_Unreachable(t *testing.T) {
	allowed, remaining, _ := newUnreachableRedisLimiter(t, "", true).AllowWithLimit("key", 10, time.Minute)
	assert.True(t, allowed)
	assert.Equal(t, int64(10), remaining)

	allowed, remaining, _ = newUnreachableRedisLimiter(t, "", false).AllowWithLimit("key", 10, time.Minute)
	assert.False(t, allowed)
	assert.Equal(t, int64(0), remaining)

	assert.Error(t, newUnreachableRedisLimiter(t, "", true).Health())
}

func TestRedisRateLimiter_ZeroLimitSkipsRedis(t *testing.T) {
	allowed, _, _ := newUnreachableRedisLimiter(t, "", true).AllowWithLimit("key", 0, time.Minute)
	assert.False(t, allowed)
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{int64(7), 7, true},
		{7, 7, true},
		{7.9, 7, true},
		{"7", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := toInt64(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}
