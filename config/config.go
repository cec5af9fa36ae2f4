// Package config loads the YAML configuration shared by the gateway and the CLI.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	resilientfetch "github.com/opengovern/resilient-fetch"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Backend BackendConfig `yaml:"backend"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the auth gateway.
type ServerConfig struct {
	Addr              string   `yaml:"addr"`
	CookieDomain      string   `yaml:"cookie_domain"`
	LoginPath         string   `yaml:"login_path"`
	ProtectedPrefixes []string `yaml:"protected_prefixes"`
	Upstream          string   `yaml:"upstream"` // Pages origin behind the session guard
}

// FetchConfig configures Fetchers built by the gateway and the CLI.
type FetchConfig struct {
	BaseURL       string        `yaml:"base_url"`
	RefreshPath   string        `yaml:"refresh_path"`
	SetCookiePath string        `yaml:"set_cookie_path"`
	Timeout       time.Duration `yaml:"timeout"`
}

// BackendConfig points at the API that mints tokens.
type BackendConfig struct {
	RefreshURL string `yaml:"refresh_url"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Jitter        bool          `yaml:"jitter"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.LoginPath == "" {
		c.Server.LoginPath = "/login"
	}
	if len(c.Server.ProtectedPrefixes) == 0 {
		c.Server.ProtectedPrefixes = []string{"/activities/", "/users/"}
	}
	if c.Fetch.RefreshPath == "" {
		c.Fetch.RefreshPath = resilientfetch.DefaultRefreshEndpoint
	}
	if c.Fetch.SetCookiePath == "" {
		c.Fetch.SetCookiePath = "/api/auth/set-cookie"
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = resilientfetch.DefaultTimeout
	}
	def := resilientfetch.DefaultRetryPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = def.MaxAttempts
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = def.BackoffFactor
	}
	if c.Retry.MinDelay == 0 {
		c.Retry.MinDelay = def.MinDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = def.MaxDelay
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	c.applyDefaults()
	if err := c.Retry.Policy().Validate(); err != nil {
		return err
	}
	if c.Backend.RefreshURL != "" && !strings.Contains(c.Backend.RefreshURL, "://") {
		return fmt.Errorf("backend refresh_url must be absolute: %q", c.Backend.RefreshURL)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	return nil
}

// Policy converts the retry section into a RetryPolicy.
func (r RetryConfig) Policy() resilientfetch.RetryPolicy {
	return resilientfetch.RetryPolicy{
		MaxAttempts:   r.MaxAttempts,
		BackoffFactor: r.BackoffFactor,
		MinDelay:      r.MinDelay,
		MaxDelay:      r.MaxDelay,
		Jitter:        r.Jitter,
	}
}

// FetcherConfig builds the FetcherConfig shared by every Fetcher of the process.
func (c *Config) FetcherConfig(logger *zap.Logger) resilientfetch.FetcherConfig {
	return resilientfetch.FetcherConfig{
		BaseURL:         c.Fetch.BaseURL,
		RefreshEndpoint: c.Fetch.RefreshPath,
		Retry:           c.Retry.Policy(),
		Timeout:         c.Fetch.Timeout,
		Logger:          logger,
	}
}

// Logger builds a zap logger for the logging section.
func (l LoggingConfig) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
