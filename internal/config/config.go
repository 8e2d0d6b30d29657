// Package config provides Viper-based configuration for storysync.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STORYSYNC_API_BASE_URL.
const EnvPrefix = "STORYSYNC"

// Config represents the complete storysync configuration.
type Config struct {
	DataDir  string         `mapstructure:"data_dir"`
	API      APIConfig      `mapstructure:"api"`
	Network  NetworkConfig  `mapstructure:"network"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Compress CompressConfig `mapstructure:"compress"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig configures the remote story service.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Token   string        `mapstructure:"token"`
}

// NetworkConfig configures the connectivity prober.
type NetworkConfig struct {
	// ProbeURL defaults to the API base URL.
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// SyncConfig configures the offline queue and its scheduler.
type SyncConfig struct {
	DrainInterval   time.Duration `mapstructure:"drain_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxQueueSize    int           `mapstructure:"max_queue_size"`
}

// CacheConfig configures cache retention.
type CacheConfig struct {
	Retention      time.Duration `mapstructure:"retention"`
	ImageRetention time.Duration `mapstructure:"image_retention"`
	PrefetchImages bool          `mapstructure:"prefetch_images"`
}

// CompressConfig configures photo compression before queueing.
type CompressConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	MaxDimension int  `mapstructure:"max_dimension"`
	MaxBytes     int  `mapstructure:"max_bytes"`
	Quality      int  `mapstructure:"quality"`
}

// ServerConfig configures the local HTTP surface.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	Metrics        bool     `mapstructure:"metrics"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A missing
// config file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("storysync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/storysync")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Network.ProbeURL == "" {
		cfg.Network.ProbeURL = cfg.API.BaseURL
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".storysync")

	v.SetDefault("api.base_url", "https://story-api.dicoding.dev/v1")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.token", "")

	v.SetDefault("network.probe_url", "")
	v.SetDefault("network.probe_interval", 15*time.Second)
	v.SetDefault("network.probe_timeout", 5*time.Second)

	v.SetDefault("sync.drain_interval", 5*time.Minute)
	v.SetDefault("sync.cleanup_interval", 24*time.Hour)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.max_queue_size", 500)

	v.SetDefault("cache.retention", 7*24*time.Hour)
	v.SetDefault("cache.image_retention", 30*24*time.Hour)
	v.SetDefault("cache.prefetch_images", true)

	v.SetDefault("compress.enabled", false)
	v.SetDefault("compress.max_dimension", 1920)
	v.SetDefault("compress.max_bytes", 1<<20)
	v.SetDefault("compress.quality", 85)

	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if cfg.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1")
	}
	if cfg.Sync.MaxQueueSize < 1 {
		return fmt.Errorf("sync.max_queue_size must be at least 1")
	}
	if cfg.Compress.Quality < 1 || cfg.Compress.Quality > 100 {
		return fmt.Errorf("compress.quality must be between 1 and 100")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", cfg.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s (must be json or console)", cfg.Logging.Format)
	}
	return nil
}

// BlobDir is where offline photos are stored.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// ImageDir is where pre-fetched story photos are stored.
func (c *Config) ImageDir() string {
	return filepath.Join(c.DataDir, "images")
}
