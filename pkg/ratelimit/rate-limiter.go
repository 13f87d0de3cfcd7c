package ratelimit

import (
	"fmt"
	"imagecache/pkg/models"
	"imagecache/pkg/utils/logger"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	STORAGE_MEMORY = "memory"
	STORAGE_REDIS  = "redis"
)

const (
	KEY_TYPE_IP     = "ip"
	KEY_TYPE_HEADER = "header"
)

// IRateLimiter is a token bucket per key. Remaining is the number of tokens
// left after the call and resetTime is when the bucket is full again.
type IRateLimiter interface {
	AllowWithLimit(key string, limit int64, window time.Duration) (allowed bool, remaining int64, resetTime time.Time)
	Reset(key string)
	Health() error
	Close() error
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	ResetTime time.Time
	Limit     int64
	Key       string
}

// SetDefaults fills every unset field of config.
func SetDefaults(config *models.RateLimitConfig) {
	if config == nil {
		return
	}

	if config.Requests == nil {
		requests := int64(60)
		config.Requests = &requests
	}
	if config.Window == nil {
		window := time.Minute
		config.Window = &window
	}
	if config.StatusCode == nil {
		statusCode := fasthttp.StatusTooManyRequests
		config.StatusCode = &statusCode
	}
	if config.FailOpen == nil {
		failOpen := true
		config.FailOpen = &failOpen
	}

	if config.Storage == "" {
		config.Storage = STORAGE_MEMORY
	}
	if len(config.KeyBy) == 0 {
		config.KeyBy = []string{KEY_TYPE_IP}
	}
	if config.Message == "" {
		config.Message = "Rate limit exceeded"
	}
}

// NewRateLimiter builds the backend selected by config.Storage. A nil or
// disabled config yields a nil limiter.
func NewRateLimiter(config *models.RateLimitConfig, logger *logger.Logger) (IRateLimiter, error) {
	if config == nil || !config.Enabled {
		return nil, nil
	}

	SetDefaults(config)

	if *config.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be > 0, got %s", config.Window.String())
	}

	switch strings.ToLower(config.Storage) {
	case STORAGE_MEMORY:
		return NewMemoryRateLimiter(*config.Window, logger), nil
	case STORAGE_REDIS:
		if config.Redis == nil {
			return nil, fmt.Errorf("redis configuration required for redis rate limiter")
		}
		return NewRedisRateLimiter(config.Redis, *config.FailOpen, logger), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit storage type: %s", config.Storage)
	}
}

// BuildKey derives the bucket key for a request. A missing header falls back
// to the client IP so the key is never empty.
func BuildKey(ctx *fasthttp.RequestCtx, config *models.RateLimitConfig) string {
	if config == nil || len(config.KeyBy) == 0 {
		return ClientIP(ctx)
	}

	var parts []string
	for _, keyType := range config.KeyBy {
		if keyType == KEY_TYPE_IP {
			parts = append(parts, ClientIP(ctx))
		} else if strings.HasPrefix(keyType, KEY_TYPE_HEADER+":") {
			headerName := strings.TrimPrefix(keyType, KEY_TYPE_HEADER+":")
			headerValue := string(ctx.Request.Header.Peek(headerName))
			if headerValue != "" {
				parts = append(parts, headerValue)
			} else {
				parts = append(parts, ClientIP(ctx))
			}
		} else {
			parts = append(parts, keyType)
		}
	}

	return strings.Join(parts, ":")
}

// ClientIP prefers X-Forwarded-For, then X-Real-IP, then the peer address.
func ClientIP(ctx *fasthttp.RequestCtx) string {
	if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	if xri := string(ctx.Request.Header.Peek("X-Real-IP")); xri != "" {
		return xri
	}

	return ctx.RemoteIP().String()
}

func refillPerSecond(limit int64, window time.Duration) float64 {
	return float64(limit) / window.Seconds()
}
