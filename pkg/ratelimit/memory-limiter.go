package ratelimit

import (
	"imagecache/pkg/utils/logger"
	"math"
	"sync"
	"time"
)

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// MemoryRateLimiter keeps one token bucket per key in process memory. Buckets
// idle for two windows are dropped by a background sweep.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	ttl       time.Duration
	logger    *logger.Logger
	stop      chan struct{}
	closeOnce sync.Once
}

func NewMemoryRateLimiter(window time.Duration, logger *logger.Logger) *MemoryRateLimiter {
	limiter := &MemoryRateLimiter{
		buckets: make(map[string]*tokenBucket),
		ttl:     window * 2,
		logger:  logger,
		stop:    make(chan struct{}),
	}

	go limiter.sweep()

	return limiter
}

func (m *MemoryRateLimiter) AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time) {
	now := time.Now()
	if limit <= 0 {
		return false, 0, now.Add(window)
	}

	m.mu.Lock()
	bucket, exists := m.buckets[key]
	if !exists {
		bucket = &tokenBucket{tokens: float64(limit), lastRefill: now}
		m.buckets[key] = bucket
	}
	m.mu.Unlock()

	return bucket.take(now, float64(limit), refillPerSecond(limit, window))
}

// take refills by the elapsed time, including fractions of a second, then
// consumes one token when available.
func (b *tokenBucket) take(now time.Time, limit float64, rate float64) (bool, int64, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(limit, b.tokens+elapsed*rate)
		b.lastRefill = now
	}

	allowed := false
	if b.tokens >= 1 {
		b.tokens--
		allowed = true
	}

	reset := now
	if b.tokens < limit {
		reset = now.Add(time.Duration((limit - b.tokens) / rate * float64(time.Second)))
	}
	return allowed, int64(b.tokens), reset
}

func (m *MemoryRateLimiter) sweep() {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for key, bucket := range m.buckets {
				bucket.mu.Lock()
				idle := now.Sub(bucket.lastRefill)
				bucket.mu.Unlock()

				if idle > m.ttl {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *MemoryRateLimiter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

func (m *MemoryRateLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryRateLimiter) Health() error {
	return nil
}

func (m *MemoryRateLimiter) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Debug("Closing memory rate limiter")
		close(m.stop)
		m.mu.Lock()
		m.buckets = make(map[string]*tokenBucket)
		m.mu.Unlock()
	})
	return nil
}
