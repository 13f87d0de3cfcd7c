package models

import "time"

const (
	STORE_DISK  = "disk"
	STORE_REDIS = "redis"
)

const (
	LOG_FORMAT_CONSOLE = "console"
	LOG_FORMAT_JSON    = "json"
)

type LogConfig struct {
	ToFile       bool   `yaml:"toFile"`
	FilePath     string `yaml:"filePath"`
	ToStdout     bool   `yaml:"toStdout"`
	Prefix       string `yaml:"prefix"`
	Format       string `yaml:"format"`
	DebugEnabled bool   `yaml:"debugEnabled"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// MemoryConfig bounds the in-memory tier by entry count and by decoded pixel bytes.
type MemoryConfig struct {
	Capacity int    `yaml:"capacity"`
	MaxBytes uint64 `yaml:"maxBytes"`
}

type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	DB           *int          `yaml:"db"`
	KeyNamespace string        `yaml:"keyNamespace"`
	DefaultTTL   time.Duration `yaml:"defaultTtl"`
}

// StoreConfig selects the durable tier. Type is either "disk" or "redis".
type StoreConfig struct {
	Type  string       `yaml:"type"`
	Path  string       `yaml:"path"`
	Redis *RedisConfig `yaml:"redis"`
}

// FetchConfig controls network loads. MaxContentSize bounds the encoded body
// and MaxPixels the decoded image. Hosts that resolve to loopback, private or
// link-local addresses are refused unless AllowPrivateNetworks is set.
type FetchConfig struct {
	MaxContentSize       uint64   `yaml:"maxContentSize"`
	MaxPixels            uint64   `yaml:"maxPixels"`
	Include              []string `yaml:"include"`
	Exclude              []string `yaml:"exclude"`
	Coalesce             bool     `yaml:"coalesce"`
	AllowPrivateNetworks bool     `yaml:"allowPrivateNetworks"`
}

type RateLimitHeadersConfig struct {
	IncludeLimit     bool `yaml:"includeLimit"`
	IncludeRemaining bool `yaml:"includeRemaining"`
	IncludeReset     bool `yaml:"includeReset"`
}

// RateLimitConfig guards the image endpoint. KeyBy entries are "ip" or
// "header:<name>". FailOpen only applies to the redis backend.
type RateLimitConfig struct {
	Enabled    bool                    `yaml:"enabled"`
	Requests   *int64                  `yaml:"requests"`
	Window     *time.Duration          `yaml:"window"`
	KeyBy      []string                `yaml:"keyBy"`
	StatusCode *int                    `yaml:"statusCode"`
	Message    string                  `yaml:"message"`
	Headers    *RateLimitHeadersConfig `yaml:"headers"`
	Storage    string                  `yaml:"storage"`
	Redis      *RedisConfig            `yaml:"redis"`
	FailOpen   *bool                   `yaml:"failOpen"`
}

type ImageCacheConfig struct {
	Log       *LogConfig       `yaml:"log"`
	Server    *ServerConfig    `yaml:"server"`
	Storage   *StorageConfig   `yaml:"storage"`
	Memory    *MemoryConfig    `yaml:"memory"`
	Store     *StoreConfig     `yaml:"store"`
	Fetch     *FetchConfig     `yaml:"fetch"`
	RateLimit *RateLimitConfig `yaml:"rateLimit"`
}
