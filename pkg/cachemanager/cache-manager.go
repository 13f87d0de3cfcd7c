// Package cachemanager resolves image keys through the memory tier, the
// durable tier and finally the network, populating the faster tiers on the
// way back.
package cachemanager

import (
	"imagecache/pkg/images"
	"imagecache/pkg/metrics"
	"imagecache/pkg/utils/logger"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IMemoryCache is the fast, volatile tier. Get may miss at any time.
type IMemoryCache interface {
	Set(key string, img *images.Image) error
	Get(key string) (*images.Image, bool)
	Delete(key string)
	Purge()
}

// IImageStore is the durable tier holding encoded images.
type IImageStore interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string)
	Close() error
}

// IFetcher loads an image from its source.
type IFetcher interface {
	Load(key string) (*images.Image, error)
}

// Source names the tier that answered a lookup.
type Source int

const (
	SourceNone Source = iota
	SourceMemory
	SourceStore
	SourceNetwork
)

func (s Source) String() string {
	switch s {
	case SourceMemory:
		return metrics.TierMemory
	case SourceStore:
		return metrics.TierStore
	case SourceNetwork:
		return metrics.TierNetwork
	default:
		return "none"
	}
}

type Config struct {
	Memory  IMemoryCache
	Store   IImageStore
	Fetcher IFetcher
	Codec   images.ICodec
	Logger  *logger.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Coalesce makes concurrent misses for one key share a single fetch.
	Coalesce bool
}

type CacheManager struct {
	memory   IMemoryCache
	store    IImageStore
	fetcher  IFetcher
	codec    images.ICodec
	logger   *logger.Logger
	metrics  *metrics.Metrics
	coalesce bool
	inflight singleflight.Group
}

func NewCacheManager(config *Config) *CacheManager {
	return &CacheManager{
		memory:   config.Memory,
		store:    config.Store,
		fetcher:  config.Fetcher,
		codec:    config.Codec,
		logger:   config.Logger,
		metrics:  config.Metrics,
		coalesce: config.Coalesce,
	}
}

// GetImage resolves key on its own goroutine and calls completion exactly
// once with the image, or nil when none could be produced.
func (cm *CacheManager) GetImage(key string, completion func(*images.Image)) {
	go func() {
		img, _ := cm.Lookup(key)
		if completion != nil {
			completion(img)
		}
	}()
}

// Get is the synchronous form of GetImage.
func (cm *CacheManager) Get(key string) (*images.Image, bool) {
	img, source := cm.Lookup(key)
	return img, source != SourceNone
}

// Lookup resolves key and reports which tier answered. The returned image is
// a copy the caller may modify.
func (cm *CacheManager) Lookup(key string) (*images.Image, Source) {
	if key == "" {
		cm.logger.Warn("Image key is empty; nothing to load")
		return nil, SourceNone
	}

	if img, ok := cm.memory.Get(key); ok {
		cm.metrics.Lookup(metrics.TierMemory, true)
		cm.logger.Debug("Cache HIT", zap.String("key", key), zap.Stringer("tier", SourceMemory))
		return img.Clone(), SourceMemory
	}
	cm.metrics.Lookup(metrics.TierMemory, false)

	if img, ok := cm.loadFromStore(key); ok {
		cm.cacheInMemory(key, img)
		return img.Clone(), SourceStore
	}

	img := cm.loadFromNetwork(key)
	if img == nil {
		return nil, SourceNone
	}
	return img.Clone(), SourceNetwork
}

func (cm *CacheManager) loadFromStore(key string) (*images.Image, bool) {
	data, ok, err := cm.store.Get(key)
	if err != nil {
		cm.logger.Warn("Durable cache read failed; treating as miss", zap.String("key", key), zap.Error(err))
	}
	if !ok {
		cm.metrics.Lookup(metrics.TierStore, false)
		return nil, false
	}

	img, err := cm.codec.Decode(data)
	if err != nil {
		cm.logger.Warn("Durable cache entry does not decode; dropping it", zap.String("key", key), zap.Error(err))
		cm.store.Delete(key)
		cm.metrics.Lookup(metrics.TierStore, false)
		return nil, false
	}

	cm.metrics.Lookup(metrics.TierStore, true)
	cm.logger.Debug("Cache HIT", zap.String("key", key), zap.Stringer("tier", SourceStore))
	return img, true
}

func (cm *CacheManager) loadFromNetwork(key string) *images.Image {
	if !cm.coalesce {
		return cm.fetchAndCache(key)
	}

	// A caller that missed both tiers just after an earlier flight finished
	// finds the image in memory instead of fetching it again.
	v, _, shared := cm.inflight.Do(key, func() (interface{}, error) {
		if img, ok := cm.memory.Get(key); ok {
			return img, nil
		}
		return cm.fetchAndCache(key), nil
	})
	if shared {
		cm.logger.Debug("Joined in-flight fetch", zap.String("key", key))
	}
	return v.(*images.Image)
}

// fetchAndCache loads key from the network and writes it through to memory
// and then to the durable tier. Only the fetch itself can fail the call.
func (cm *CacheManager) fetchAndCache(key string) *images.Image {
	begin := time.Now()
	img, err := cm.fetcher.Load(key)
	cm.metrics.ObserveFetch(begin, err)
	if err != nil {
		cm.metrics.Lookup(metrics.TierNetwork, false)
		cm.logger.Warn("Image load failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	cm.metrics.Lookup(metrics.TierNetwork, true)
	cm.logger.Info("Loaded image from network", zap.String("key", key), zap.Int("width", img.Width()), zap.Int("height", img.Height()))

	cm.cacheInMemory(key, img)
	cm.cacheInStore(key, img)
	return img
}

func (cm *CacheManager) cacheInMemory(key string, img *images.Image) {
	err := cm.memory.Set(key, img)
	cm.metrics.StoreWrite(metrics.TierMemory, err)
	if err != nil {
		cm.logger.Warn("Skipping memory cache", zap.String("key", key), zap.Error(err))
	}
}

func (cm *CacheManager) cacheInStore(key string, img *images.Image) {
	data, err := cm.codec.Encode(img)
	if err == nil {
		err = cm.store.Set(key, data)
	}
	cm.metrics.StoreWrite(metrics.TierStore, err)
	if err != nil {
		cm.logger.Warn("Durable cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	cm.logger.Debug("Cached image", zap.String("key", key), zap.Int("bytes", len(data)))
}

// Delete drops key from both tiers.
func (cm *CacheManager) Delete(key string) {
	cm.memory.Delete(key)
	cm.store.Delete(key)
}

func (cm *CacheManager) Close() error {
	cm.memory.Purge()
	return cm.store.Close()
}
