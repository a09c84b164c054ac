// Package common provides shared utilities for depot: configuration,
// logging, and the per-request identity.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for depot.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Auth        AuthConfig      `toml:"auth"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	CORS        CORSConfig      `toml:"cors"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
}

// RequestTimeout returns the per-request deadline.
func (c *ServerConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// StorageConfig holds paths for the three storage areas.
type StorageConfig struct {
	DatabasePath  string `toml:"database_path"`  // SQLite file
	CachePath     string `toml:"cache_path"`     // Badger directory
	SignaturesDir string `toml:"signatures_dir"` // content-addressed signature blobs
}

// AuthConfig holds token signing configuration. Both secrets are mandatory
// outside development mode.
type AuthConfig struct {
	AccessTokenSecret  string `toml:"access_token_secret"`
	RefreshTokenSecret string `toml:"refresh_token_secret"`
	AccessTokenExpiry  string `toml:"access_token_expiry"`  // duration string, default "15m"
	RefreshTokenExpiry string `toml:"refresh_token_expiry"` // duration string, default "168h"
}

// GetAccessTokenExpiry parses and returns the access token lifetime.
func (c *AuthConfig) GetAccessTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.AccessTokenExpiry)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// GetRefreshTokenExpiry parses and returns the refresh token lifetime.
func (c *AuthConfig) GetRefreshTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.RefreshTokenExpiry)
	if err != nil {
		return 7 * 24 * time.Hour
	}
	return d
}

// RateLimitConfig holds per-tier request budgets over a sliding window.
type RateLimitConfig struct {
	WindowMinutes int `toml:"window_minutes"` // default 15
	Auth          int `toml:"auth"`           // login/register/refresh, default 5
	Mutation      int `toml:"mutation"`       // POST/PUT/PATCH/DELETE, default 30
	General       int `toml:"general"`        // everything else, default 100
}

// Window returns the rate limit window duration.
func (c *RateLimitConfig) Window() time.Duration {
	if c.WindowMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.WindowMinutes) * time.Minute
}

// CORSConfig holds the browser origin allow-list.
type CORSConfig struct {
	Origins []string `toml:"origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			RequestTimeoutMS: 30000,
		},
		Storage: StorageConfig{
			DatabasePath:  "data/depot.db",
			CachePath:     "data/cache",
			SignaturesDir: "data/signatures",
		},
		Auth: AuthConfig{
			AccessTokenExpiry:  "15m",
			RefreshTokenExpiry: "168h",
		},
		RateLimit: RateLimitConfig{
			WindowMinutes: 15,
			Auth:          5,
			Mutation:      30,
			General:       100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DEPOT_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("DEPOT_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("DEPOT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if ms := os.Getenv("REQUEST_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			config.Server.RequestTimeoutMS = v
		}
	}
	if level := os.Getenv("DEPOT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("DATABASE_PATH"); path != "" {
		config.Storage.DatabasePath = path
	}
	if path := os.Getenv("CACHE_PATH"); path != "" {
		config.Storage.CachePath = path
	}
	if path := os.Getenv("SIGNATURES_DIR"); path != "" {
		config.Storage.SignaturesDir = path
	}

	if v := os.Getenv("ACCESS_TOKEN_SECRET"); v != "" {
		config.Auth.AccessTokenSecret = v
	}
	if v := os.Getenv("REFRESH_TOKEN_SECRET"); v != "" {
		config.Auth.RefreshTokenSecret = v
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		config.CORS.Origins = parts
	}

	if v := os.Getenv("RATE_LIMIT_AUTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.Auth = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_MUTATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.Mutation = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_GENERAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.RateLimit.General = n
		}
	}
}

// Validate checks startup-critical configuration. Outside development mode,
// both token secrets must be set and the CORS origin list must be non-empty;
// the process refuses to start otherwise.
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.Auth.AccessTokenSecret == "" {
		return fmt.Errorf("ACCESS_TOKEN_SECRET is required outside development mode")
	}
	if c.Auth.RefreshTokenSecret == "" {
		return fmt.Errorf("REFRESH_TOKEN_SECRET is required outside development mode")
	}
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required outside development mode")
	}
	for _, origin := range c.CORS.Origins {
		if origin == "" {
			return fmt.Errorf("CORS_ORIGINS must not contain empty origins")
		}
	}
	return nil
}

// IsProduction returns true if running outside development mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
