package engine

import (
	"imagecache/pkg/models"
	"imagecache/pkg/ratelimit"
	"imagecache/pkg/utils/fs"
	"imagecache/pkg/utils/hash"
	"imagecache/pkg/utils/system"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig builds the config written by InitConfig. Storage is keyed
// by the hash of the absolute config path so several configs can coexist.
func DefaultConfig(configPath string) (*models.ImageCacheConfig, error) {
	appData, err := fs.GetUserAppDataDir(appName)
	if err != nil {
		return nil, err
	}

	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	storageDir := filepath.Join(appData, hash.HashString(absConfigPath))

	freePort, err := system.GetFreePort()
	if err != nil {
		return nil, err
	}

	requests := int64(120)
	window := time.Minute

	return &models.ImageCacheConfig{
		Log: &models.LogConfig{
			ToFile:   true,
			FilePath: filepath.Join(storageDir, "imagecache.log"),
			ToStdout: true,
			Prefix:   appName,
			Format:   models.LOG_FORMAT_CONSOLE,
		},
		Server: &models.ServerConfig{
			Host: defaultHost,
			Port: uint16(freePort),
		},
		Storage: &models.StorageConfig{
			Path: storageDir,
		},
		Memory: &models.MemoryConfig{
			Capacity: defaultMemoryCapacity,
			MaxBytes: defaultMemoryBytes,
		},
		Store: &models.StoreConfig{
			Type: models.STORE_DISK,
			Path: filepath.Join(storageDir, "images"),
		},
		Fetch: &models.FetchConfig{
			MaxContentSize: defaultMaxContentSize,
			MaxPixels:      defaultMaxPixels,
			Include:        []string{},
			Exclude:        []string{},
			Coalesce:       true,
		},
		RateLimit: &models.RateLimitConfig{
			Enabled:  true,
			Requests: &requests,
			Window:   &window,
			KeyBy:    []string{ratelimit.KEY_TYPE_IP},
			Storage:  ratelimit.STORAGE_MEMORY,
			Headers: &models.RateLimitHeadersConfig{
				IncludeLimit:     true,
				IncludeRemaining: true,
				IncludeReset:     true,
			},
		},
	}, nil
}

func InitConfig(configPath string) error {
	defaultConfig, err := DefaultConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	return enc.Encode(defaultConfig)
}
