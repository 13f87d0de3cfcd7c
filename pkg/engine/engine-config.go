package engine

import (
	"fmt"
	"imagecache/pkg/cache"
	"imagecache/pkg/cachemanager"
	"imagecache/pkg/fetcher"
	"imagecache/pkg/images"
	"imagecache/pkg/metrics"
	"imagecache/pkg/models"
	"imagecache/pkg/ratelimit"
	"imagecache/pkg/ratelimitmanager"
	"imagecache/pkg/utils/fs"
	"imagecache/pkg/utils/hash"
	"imagecache/pkg/utils/logger"
	"os"
	"path/filepath"
	"strings"

	"github.com/valyala/fasthttp"
	"gopkg.in/yaml.v3"
)

const (
	appName = "imagecache"

	defaultHost           = "127.0.0.1"
	defaultPort           = 8080
	defaultMemoryCapacity = 256
	defaultMemoryBytes    = 256 * 1024 * 1024
	defaultMaxContentSize = 32 * 1024 * 1024
	defaultMaxPixels      = images.DefaultMaxPixels
)

type Engine struct {
	config           *models.ImageCacheConfig
	logger           *logger.Logger
	metrics          *metrics.Metrics
	metricsHandler   fasthttp.RequestHandler
	codec            images.ICodec
	cacheManager     *cachemanager.CacheManager
	rateLimitManager *ratelimitmanager.RateLimitManager
	pid              int
}

// LoadConfig reads the yaml file at configPath and fills every unset field
// with its default.
func LoadConfig(configPath string) (*models.ImageCacheConfig, error) {
	var config models.ImageCacheConfig

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read the config-path %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse the config at %s: %w", configPath, err)
	}

	if err := applyDefaults(&config, configPath); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(config *models.ImageCacheConfig, configPath string) error {
	if config.Log == nil {
		config.Log = &models.LogConfig{
			ToStdout: true,
			Prefix:   appName,
			Format:   models.LOG_FORMAT_CONSOLE,
		}
	}

	if config.Server == nil {
		config.Server = &models.ServerConfig{}
	}
	if config.Server.Host == "" {
		config.Server.Host = defaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = defaultPort
	}

	if config.Storage == nil {
		config.Storage = &models.StorageConfig{}
	}
	if config.Storage.Path == "" {
		storageRoot, err := fs.GetUserAppDataDir(appName)
		if err != nil {
			return fmt.Errorf("failed to determine app data dir: %w", err)
		}
		absConfigPath, err := filepath.Abs(configPath)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute config path: %w", err)
		}
		config.Storage.Path = filepath.Join(storageRoot, hash.HashString(absConfigPath))
	}

	if config.Memory == nil {
		config.Memory = &models.MemoryConfig{}
	}
	if config.Memory.Capacity == 0 {
		config.Memory.Capacity = defaultMemoryCapacity
	}
	if config.Memory.MaxBytes == 0 {
		config.Memory.MaxBytes = defaultMemoryBytes
	}

	if config.Store == nil {
		config.Store = &models.StoreConfig{}
	}
	if config.Store.Type == "" {
		config.Store.Type = models.STORE_DISK
	}
	if config.Store.Type == models.STORE_DISK && config.Store.Path == "" {
		cacheDir, err := fs.GetUserCacheDir(appName)
		if err != nil {
			return err
		}
		config.Store.Path = filepath.Join(cacheDir, "images")
	}

	if config.Fetch == nil {
		config.Fetch = &models.FetchConfig{}
	}
	if config.Fetch.MaxContentSize == 0 {
		config.Fetch.MaxContentSize = defaultMaxContentSize
	}
	if config.Fetch.MaxPixels == 0 {
		config.Fetch.MaxPixels = defaultMaxPixels
	}

	if config.RateLimit != nil && config.RateLimit.Enabled {
		ratelimit.SetDefaults(config.RateLimit)
	}

	return nil
}

func InstantiateEngine(configPath string) (*Engine, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return NewEngine(config)
}

// NewEngine wires the cache tiers, the fetcher and the manager described by
// an already defaulted config.
func NewEngine(config *models.ImageCacheConfig) (*Engine, error) {
	logger_, err := logger.NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("unable to instantiate the logger: %w", err)
	}

	memory, err := cache.NewMemoryCache(config.Memory.Capacity, config.Memory.MaxBytes)
	if err != nil {
		logger_.Close()
		return nil, err
	}

	store, err := newImageStore(config.Store)
	if err != nil {
		logger_.Close()
		return nil, err
	}

	codec := images.NewPNGCodec()
	codec.MaxPixels = config.Fetch.MaxPixels
	fetcher_, err := fetcher.NewFetcher(config.Fetch, codec, logger_)
	if err != nil {
		store.Close()
		logger_.Close()
		return nil, err
	}

	limiter, err := ratelimit.NewRateLimiter(config.RateLimit, logger_)
	if err != nil {
		store.Close()
		logger_.Close()
		return nil, fmt.Errorf("unable to instantiate the rate limiter: %w", err)
	}
	var rateLimitManager *ratelimitmanager.RateLimitManager
	if limiter != nil {
		rateLimitManager = ratelimitmanager.NewRateLimitManager(limiter, config.RateLimit, logger_)
		logger_.Info(fmt.Sprintf("Rate limiting image requests to %d per %s (%s)",
			*config.RateLimit.Requests, config.RateLimit.Window.String(), config.RateLimit.Storage))
	}

	metrics_ := metrics.NewMetrics()

	engine := &Engine{
		config:         config,
		logger:         logger_,
		metrics:        metrics_,
		metricsHandler: metrics_.Handler(),
		codec:          codec,
		cacheManager: cachemanager.NewCacheManager(&cachemanager.Config{
			Memory:   memory,
			Store:    store,
			Fetcher:  fetcher_,
			Codec:    codec,
			Logger:   logger_,
			Metrics:  metrics_,
			Coalesce: config.Fetch.Coalesce,
		}),
		rateLimitManager: rateLimitManager,
		pid:              os.Getpid(),
	}

	logger_.Info(fmt.Sprintf("Image cache ready (store=%s, memory capacity=%d, coalesce=%t)",
		config.Store.Type, config.Memory.Capacity, config.Fetch.Coalesce))
	return engine, nil
}

func newImageStore(config *models.StoreConfig) (cachemanager.IImageStore, error) {
	switch strings.ToLower(config.Type) {
	case models.STORE_DISK:
		return cache.NewDiskCache(config.Path)
	case models.STORE_REDIS:
		if config.Redis == nil {
			return nil, fmt.Errorf("redis configuration required for redis image store")
		}
		return cache.NewRedisCache(config.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported image store type: %s", config.Type)
	}
}

func (engine *Engine) CacheManager() *cachemanager.CacheManager {
	return engine.cacheManager
}

func (engine *Engine) Config() *models.ImageCacheConfig {
	return engine.config
}

func (engine *Engine) Logger() *logger.Logger {
	return engine.logger
}

// Close releases the rate limiter, the cache tiers and the logger.
func (engine *Engine) Close() error {
	var err error
	if engine.rateLimitManager != nil {
		if err = engine.rateLimitManager.Close(); err != nil {
			engine.logger.Error(fmt.Sprintf("Failed to close rate limit manager: %v", err))
		}
	}

	if cerr := engine.cacheManager.Close(); cerr != nil {
		engine.logger.Error(fmt.Sprintf("Failed to close the cache due to: %v", cerr))
		if err == nil {
			err = cerr
		}
	}

	if lerr := engine.logger.Close(); err == nil {
		err = lerr
	}
	return err
}
