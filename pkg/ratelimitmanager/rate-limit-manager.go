package ratelimitmanager

import (
	"fmt"
	"imagecache/pkg/models"
	"imagecache/pkg/ratelimit"
	"imagecache/pkg/utils/logger"
	"math"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

const healthCheckInterval = 30 * time.Second

// RateLimitManager applies one rate limit config to incoming requests and
// watches the health of its backend.
type RateLimitManager struct {
	limiter      ratelimit.IRateLimiter
	config       *models.RateLimitConfig
	logger       *logger.Logger
	healthTicker *time.Ticker
	stopChan     chan struct{}
	closeOnce    sync.Once
}

// NewRateLimitManager takes ownership of limiter. config must already carry
// defaults, as NewRateLimiter leaves it.
func NewRateLimitManager(limiter ratelimit.IRateLimiter, config *models.RateLimitConfig, logger *logger.Logger) *RateLimitManager {
	manager := &RateLimitManager{
		limiter:  limiter,
		config:   config,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	manager.startHealthMonitoring()

	return manager
}

// Check consumes one token for the request. Requests always pass when the
// limiter is missing or disabled.
func (rlm *RateLimitManager) Check(ctx *fasthttp.RequestCtx) *ratelimit.RateLimitResult {
	if rlm.limiter == nil || rlm.config == nil || !rlm.config.Enabled {
		return &ratelimit.RateLimitResult{Allowed: true, Remaining: -1, Limit: -1}
	}

	key := ratelimit.BuildKey(ctx, rlm.config)
	limit := *rlm.config.Requests
	allowed, remaining, resetTime := rlm.limiter.AllowWithLimit(key, limit, *rlm.config.Window)

	if allowed {
		rlm.logger.Debug(fmt.Sprintf("Rate limit check passed for key '%s': %d/%d remaining", key, remaining, limit))
	} else {
		rlm.logger.Warn(fmt.Sprintf("Rate limit exceeded for key '%s', reset at %v", key, resetTime))
	}

	return &ratelimit.RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetTime: resetTime,
		Limit:     limit,
		Key:       key,
	}
}

// SetHeaders writes the X-RateLimit-* headers enabled in the config.
func (rlm *RateLimitManager) SetHeaders(ctx *fasthttp.RequestCtx, result *ratelimit.RateLimitResult) {
	if result == nil || result.Limit < 0 || rlm.config == nil || rlm.config.Headers == nil {
		return
	}

	headers := rlm.config.Headers
	if headers.IncludeLimit {
		ctx.Response.Header.Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
	}
	if headers.IncludeRemaining {
		ctx.Response.Header.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
	}
	if headers.IncludeReset {
		ctx.Response.Header.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
	}
}

// Reject answers a denied request with the configured status, message and
// a Retry-After rounded up to whole seconds.
func (rlm *RateLimitManager) Reject(ctx *fasthttp.RequestCtx, result *ratelimit.RateLimitResult) {
	statusCode := fasthttp.StatusTooManyRequests
	message := "Rate limit exceeded"
	if rlm.config != nil {
		if rlm.config.StatusCode != nil {
			statusCode = *rlm.config.StatusCode
		}
		if rlm.config.Message != "" {
			message = rlm.config.Message
		}
	}

	rlm.SetHeaders(ctx, result)

	secs := max(int(math.Ceil(time.Until(result.ResetTime).Seconds())), 0)
	ctx.Response.Header.Set("Retry-After", fmt.Sprintf("%d", secs))

	ctx.SetStatusCode(statusCode)
	ctx.SetBodyString(message)
}

func (rlm *RateLimitManager) Reset(key string) {
	if rlm.limiter == nil {
		return
	}
	rlm.logger.Debug(fmt.Sprintf("Resetting rate limit for key: %s", key))
	rlm.limiter.Reset(key)
}

func (rlm *RateLimitManager) startHealthMonitoring() {
	if rlm.limiter == nil {
		return
	}

	rlm.healthTicker = time.NewTicker(healthCheckInterval)

	go func() {
		for {
			select {
			case <-rlm.healthTicker.C:
				rlm.performHealthCheck()
			case <-rlm.stopChan:
				return
			}
		}
	}()
}

func (rlm *RateLimitManager) performHealthCheck() {
	if err := rlm.limiter.Health(); err != nil {
		rlm.logger.Error(fmt.Sprintf("Rate limiter health check failed: %v", err))
	}
}

func (rlm *RateLimitManager) Close() error {
	var err error
	rlm.closeOnce.Do(func() {
		if rlm.healthTicker != nil {
			rlm.healthTicker.Stop()
		}
		close(rlm.stopChan)
		if rlm.limiter != nil {
			err = rlm.limiter.Close()
		}
	})
	return err
}
