package cache

import (
	"context"
	"errors"
	"imagecache/pkg/models"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisNamespace = "imagecache:images:"

// RedisCache is a durable tier kept in redis instead of the local cache
// directory, for hosts sharing one image store. Redis SET replaces a value in
// one step, so same-key writers cannot interleave.
type RedisCache struct {
	client     *redis.Client
	namespace  string
	defaultTTL time.Duration
	ctx        context.Context
}

func NewRedisCache(config *models.RedisConfig) *RedisCache {
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
		namespace = defaultRedisNamespace
	} else if namespace[len(namespace)-1] != ':' {
		namespace += ":"
	}

	return &RedisCache{
		client:     client,
		namespace:  namespace,
		defaultTTL: config.DefaultTTL,
		ctx:        context.Background(),
	}
}

// Set stores value under key. A zero default TTL keeps entries until redis
// evicts them.
func (r *RedisCache) Set(key string, value []byte) error {
	return r.client.Set(r.ctx, r.key(key), value, r.defaultTTL).Err()
}

func (r *RedisCache) Get(key string) ([]byte, bool, error) {
	val, err := r.client.Get(r.ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisCache) Delete(key string) {
	r.client.Del(r.ctx, r.key(key))
}

// Len counts the keys in this cache's namespace.
func (r *RedisCache) Len() int {
	var n int
	iter := r.client.Scan(r.ctx, 0, r.namespace+"*", 100).Iterator()
	for iter.Next(r.ctx) {
		n++
	}
	if iter.Err() != nil {
		return 0
	}
	return n
}

func (r *RedisCache) Health() error {
	return r.client.Ping(r.ctx).Err()
}

func (r *RedisCache) key(k string) string {
	return r.namespace + k
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
