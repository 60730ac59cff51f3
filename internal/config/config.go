package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ligustah/bdex/pkg/manifest"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "BDEX"

// Config defines configuration for the bdex CLI.
type Config struct {
	ManifestURL  string      `yaml:"manifest_url" split_words:"true"`
	Workers      int         `yaml:"workers"`
	SkipHash     bool        `yaml:"skip_hash" split_words:"true"`
	KeepBlocks   bool        `yaml:"keep_blocks" split_words:"true"`
	Verbose      bool        `yaml:"verbose"`
	VerifyBlocks bool        `yaml:"verify_blocks" split_words:"true"`
	VerifyOutput bool        `yaml:"verify_output" split_words:"true"`
	Progress     bool        `yaml:"progress"`
	BlockStore   string      `yaml:"block_store" split_words:"true"`
	Retry        RetryConfig `yaml:"retry"`
	HTTP         HTTPConfig  `yaml:"http"`
}

// RetryConfig defines the per-block retry behavior.
type RetryConfig struct {
	Attempts     int           `yaml:"attempts"`
	StallBackoff time.Duration `yaml:"stall_backoff" split_words:"true"`
}

// HTTPConfig defines transport behavior.
type HTTPConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent" split_words:"true"`
	RateLimit       float64       `yaml:"rate_limit" split_words:"true"`
	RetryAttempts   int           `yaml:"retry_attempts" split_words:"true"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" split_words:"true"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff" split_words:"true"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		ManifestURL: manifest.DefaultURLTemplate,
		Workers:     8,
		Retry: RetryConfig{
			Attempts:     8,
			StallBackoff: time.Second,
		},
		HTTP: HTTPConfig{
			Timeout:         30 * time.Second,
			UserAgent:       "bdex/1.0",
			RetryBackoff:    time.Second,
			RetryMaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	ManifestURL  string          `yaml:"manifest_url"`
	Workers      int             `yaml:"workers"`
	SkipHash     bool            `yaml:"skip_hash"`
	KeepBlocks   bool            `yaml:"keep_blocks"`
	Verbose      bool            `yaml:"verbose"`
	VerifyBlocks bool            `yaml:"verify_blocks"`
	VerifyOutput bool            `yaml:"verify_output"`
	Progress     bool            `yaml:"progress"`
	BlockStore   string          `yaml:"block_store"`
	Retry        yamlRetryConfig `yaml:"retry"`
	HTTP         yamlHTTPConfig  `yaml:"http"`
}

type yamlRetryConfig struct {
	Attempts     int    `yaml:"attempts"`
	StallBackoff string `yaml:"stall_backoff"`
}

type yamlHTTPConfig struct {
	Timeout         string  `yaml:"timeout"`
	UserAgent       string  `yaml:"user_agent"`
	RateLimit       float64 `yaml:"rate_limit"`
	RetryAttempts   int     `yaml:"retry_attempts"`
	RetryBackoff    string  `yaml:"retry_backoff"`
	RetryMaxBackoff string  `yaml:"retry_max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.ManifestURL != "" {
		cfg.ManifestURL = yc.ManifestURL
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	cfg.SkipHash = yc.SkipHash
	cfg.KeepBlocks = yc.KeepBlocks
	cfg.Verbose = yc.Verbose
	cfg.VerifyBlocks = yc.VerifyBlocks
	cfg.VerifyOutput = yc.VerifyOutput
	cfg.Progress = yc.Progress
	if yc.BlockStore != "" {
		cfg.BlockStore = yc.BlockStore
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := parseDuration("retry.stall_backoff", yc.Retry.StallBackoff, &cfg.Retry.StallBackoff); err != nil {
		return Config{}, err
	}

	if err := parseDuration("http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout); err != nil {
		return Config{}, err
	}
	if yc.HTTP.UserAgent != "" {
		cfg.HTTP.UserAgent = yc.HTTP.UserAgent
	}
	if yc.HTTP.RateLimit != 0 {
		cfg.HTTP.RateLimit = yc.HTTP.RateLimit
	}
	if yc.HTTP.RetryAttempts != 0 {
		cfg.HTTP.RetryAttempts = yc.HTTP.RetryAttempts
	}
	if err := parseDuration("http.retry_backoff", yc.HTTP.RetryBackoff, &cfg.HTTP.RetryBackoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration("http.retry_max_backoff", yc.HTTP.RetryMaxBackoff, &cfg.HTTP.RetryMaxBackoff); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func parseDuration(key, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the BDEX_ prefix, nested keys are joined with
// an underscore (BDEX_RETRY_ATTEMPTS, BDEX_HTTP_RATE_LIMIT). Variables that
// are not set leave the current value alone.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ManifestURL == "" {
		return errors.New("config: manifest_url is required")
	}
	if !strings.Contains(c.ManifestURL, "%s") {
		return errors.New("config: manifest_url must contain %s")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.Retry.Attempts <= 0 {
		return errors.New("config: retry.attempts must be positive")
	}
	if c.Retry.StallBackoff < 0 {
		return errors.New("config: retry.stall_backoff must not be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("config: http.rate_limit must not be negative")
	}
	if c.HTTP.RetryAttempts < 0 {
		return errors.New("config: http.retry_attempts must not be negative")
	}
	return nil
}
