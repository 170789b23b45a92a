// Package config loads and validates the runtime configuration. A config
// document is YAML, checked against an embedded JSON Schema and a strict
// semantic version field before any component sees it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied before validation.
const (
	DefaultRedisAddr     = "localhost:6379"
	DefaultKeyPrefix     = "tickwork"
	DefaultRestURL       = "https://api.bybit.com"
	DefaultDownloadURL   = "https://api2.bybit.com/quote/public/support/download/list-files"
	DefaultCacheDir      = "downloads"
	DefaultRatePerSecond = 5.0
	DefaultRateBurst     = 5
	DefaultQueueCapacity = 3
	DefaultFeedAddr      = ":8081"
	DefaultMetricsAddr   = ":9090"
	DefaultSampleRatio   = 1.0
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Config is the root configuration document.
type Config struct {
	// Version is the config document version, strict MAJOR.MINOR.PATCH.
	Version string `yaml:"version" json:"version"`

	Redis     RedisConfig     `yaml:"redis" json:"redis"`
	Bybit     BybitConfig     `yaml:"bybit" json:"bybit"`
	Flow      FlowConfig      `yaml:"flow" json:"flow"`
	Replay    ReplayConfig    `yaml:"replay" json:"replay"`
	Feed      FeedConfig      `yaml:"feed" json:"feed"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// RedisConfig locates the market store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// BybitConfig configures the exchange connector.
type BybitConfig struct {
	RestURL     string `yaml:"rest_url" json:"rest_url"`
	DownloadURL string `yaml:"download_url" json:"download_url"`
	CacheDir    string `yaml:"cache_dir" json:"cache_dir"`
	// RatePerSecond and RateBurst bound outbound request rate.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst" json:"rate_burst"`
}

// FlowConfig configures the dataflow runtime.
type FlowConfig struct {
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`
}

// ReplayConfig selects wall-clock paced replay over plain backtest iteration.
type ReplayConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// FeedConfig configures the WebSocket replay feed server.
type FeedConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns a Config with every field at its default value. The
// version is the caller's to set; Default leaves it empty so validation
// catches documents that never declared one.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:      DefaultRedisAddr,
			KeyPrefix: DefaultKeyPrefix,
		},
		Bybit: BybitConfig{
			RestURL:       DefaultRestURL,
			DownloadURL:   DefaultDownloadURL,
			CacheDir:      DefaultCacheDir,
			RatePerSecond: DefaultRatePerSecond,
			RateBurst:     DefaultRateBurst,
		},
		Flow: FlowConfig{
			QueueCapacity: DefaultQueueCapacity,
		},
		Feed: FeedConfig{
			Addr: DefaultFeedAddr,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: DefaultSampleRatio,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML config document, applies defaults for omitted fields,
// and validates the result against the embedded schema and the strict
// version rule.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config against the embedded JSON Schema and the
// semantic version rule. Defaults should already be applied; zero values in
// required fields are schema violations.
func (c *Config) Validate() error {
	if err := validateVersion(c.Version); err != nil {
		return err
	}

	result, err := validateSchema(c)
	if err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, result.Errors[0].Error())
	}
	return nil
}
