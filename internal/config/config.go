// Package config provides configuration management for Lore.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for Lore.
type Config struct {
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Cache      CacheConfig      `yaml:"cache"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
}

// EmbeddingsConfig configures the embedding engines.
type EmbeddingsConfig struct {
	Strategy  string               `yaml:"strategy"`
	Model     string               `yaml:"model"`
	Dimension int                  `yaml:"dimension"`
	MaxLength int                  `yaml:"max_length"`
	Normalize bool                 `yaml:"normalize"`
	Primary   PrimaryEngineConfig  `yaml:"primary"`
	Fallback  FallbackEngineConfig `yaml:"fallback"`
}

// PrimaryEngineConfig configures the llama.cpp server engine.
type PrimaryEngineConfig struct {
	URL       string `yaml:"url"`
	ModelPath string `yaml:"model_path"`
}

// FallbackEngineConfig configures the Ollama engine.
type FallbackEngineConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig configures embedding result caching.
type CacheConfig struct {
	MaxSize      int  `yaml:"max_size"`
	TTLSeconds   int  `yaml:"ttl_seconds"`
	SweepSeconds int  `yaml:"sweep_seconds"`
	Persistent   bool `yaml:"persistent"`
}

// ResilienceConfig configures retry and circuit breaking for engine calls.
type ResilienceConfig struct {
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig configures where data is stored.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "lore")

	return &Config{
		Embeddings: EmbeddingsConfig{
			Strategy:  "auto",
			Model:     "nomic-embed-text",
			Dimension: 768,
			MaxLength: 8192,
			Normalize: true,
			Primary: PrimaryEngineConfig{
				URL:       "http://localhost:8080",
				ModelPath: filepath.Join(dataDir, "models", "nomic-embed-text.gguf"),
			},
			Fallback: FallbackEngineConfig{
				URL: "http://localhost:11434",
			},
		},
		Cache: CacheConfig{
			MaxSize:      1024,
			TTLSeconds:   3600,
			SweepSeconds: 300,
			Persistent:   true,
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialDelayMs: 200,
				MaxDelayMs:     5000,
				Multiplier:     2.0,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				CooldownSeconds:  30,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Path: dataDir,
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Embeddings.Strategy {
	case "auto", "primary", "fallback":
	default:
		return errors.New("embeddings.strategy must be 'auto', 'primary' or 'fallback'")
	}
	if c.Embeddings.Model == "" {
		return errors.New("embeddings.model must be set")
	}
	if c.Embeddings.Dimension < 1 {
		return errors.New("embeddings.dimension must be at least 1")
	}
	if c.Embeddings.MaxLength < 0 {
		return errors.New("embeddings.max_length cannot be negative")
	}
	if c.Cache.MaxSize < 1 {
		return errors.New("cache.max_size must be at least 1")
	}
	if c.Cache.TTLSeconds < 1 {
		return errors.New("cache.ttl_seconds must be at least 1")
	}
	if c.Resilience.Retry.MaxAttempts < 1 {
		return errors.New("resilience.retry.max_attempts must be at least 1")
	}
	if c.Resilience.Retry.Multiplier < 1 {
		return errors.New("resilience.retry.multiplier must be at least 1")
	}
	if c.Resilience.Breaker.FailureThreshold < 1 {
		return errors.New("resilience.breaker.failure_threshold must be at least 1")
	}
	if c.Resilience.Breaker.SuccessThreshold < 1 {
		return errors.New("resilience.breaker.success_threshold must be at least 1")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of trace, debug, info, warn, error")
	}
	return nil
}

// RetryInitialDelay returns the initial backoff delay as a duration.
func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.Resilience.Retry.InitialDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff delay cap as a duration.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.Resilience.Retry.MaxDelayMs) * time.Millisecond
}

// BreakerCooldown returns the open-state cooldown as a duration.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Resilience.Breaker.CooldownSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// CacheSweepInterval returns the cache sweep cadence as a duration.
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.Cache.SweepSeconds) * time.Second
}

// Load loads configuration from the YAML file, falling back to defaults
// for any missing values.
func Load() (*Config, error) {
	cfg := Default()

	configPath, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config dir
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // No config file, use defaults
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to the YAML file. The write is atomic so a
// crash mid-save never leaves a truncated config behind.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return renameio.WriteFile(configPath, data, 0644)
}

// ConfigDir returns the directory where config files are stored.
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "lore"), nil
}

// ConfigPath returns the path to the main config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// DataDir returns the data directory from config, creating it if needed.
func (c *Config) DataDir() (string, error) {
	if err := os.MkdirAll(c.Storage.Path, 0755); err != nil {
		return "", err
	}
	return c.Storage.Path, nil
}

// CachePath returns the path to the persistent embedding cache database.
func (c *Config) CachePath() (string, error) {
	dataDir, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "embeddings.db"), nil
}
