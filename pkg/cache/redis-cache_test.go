package cache

import (
	"imagecache/pkg/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisCache_DefaultValues(t *testing.T) {
	cache := NewRedisCache(&models.RedisConfig{Address: "localhost:6379"})
	defer cache.Close()

	assert.Equal(t, defaultRedisNamespace, cache.namespace)
	assert.Equal(t, time.Duration(0), cache.defaultTTL)
	assert.Equal(t, 0, cache.client.Options().DB)
}

func TestNewRedisCache_NamespaceFormatting(t *testing.T) {
	db := 3
	cache := NewRedisCache(&models.RedisConfig{
		Address:      "localhost:6379",
		DB:           &db,
		KeyNamespace: "thumbs",
		DefaultTTL:   time.Hour,
	})
	defer cache.Close()

	assert.Equal(t, "thumbs:", cache.namespace)
	assert.Equal(t, "thumbs:https://example.com/a.png", cache.key("https://example.com/a.png"))
	assert.Equal(t, 3, cache.client.Options().DB)
	assert.Equal(t, time.Hour, cache.defaultTTL)
}

func TestRedisCache_UnreachableServerIsAnError(t *testing.T) {
	// Port 1 is reserved; nothing listens there.
	cache := NewRedisCache(&models.RedisConfig{Address: "127.0.0.1:1"})
	defer cache.Close()

	_, ok, err := cache.Get("k")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Error(t, cache.Health())
}
