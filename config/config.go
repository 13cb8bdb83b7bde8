package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

/* Config é um pacote auxiliar. Poderia ser uma lib externa
 * Values come from an optional .env file (toml) and are overridden by the environment.
 */

type Config struct {
	Port                  string  `mapstructure:"PORT"`
	BackendURL            string  `mapstructure:"BACKEND_URL"`
	RequestTimeoutSeconds int     `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	QueryMaxRetries       int     `mapstructure:"QUERY_MAX_RETRIES"`
	RateLimitRPS          float64 `mapstructure:"RATE_LIMIT_RPS"`
	CacheGraceSeconds     int     `mapstructure:"CACHE_GRACE_SECONDS"`
	LogLevel              string  `mapstructure:"LOG_LEVEL"`
	LogJSON               bool    `mapstructure:"LOG_JSON"`
	CatalogFile           string  `mapstructure:"CATALOG_FILE"`
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"BACKEND_URL":             "http://localhost:5000/api",
	"REQUEST_TIMEOUT_SECONDS": 10,
	"QUERY_MAX_RETRIES":       3,
	"RATE_LIMIT_RPS":          20.0,
	"CACHE_GRACE_SECONDS":     60,
	"LOG_LEVEL":               "info",
	"LOG_JSON":                true,
	"CATALOG_FILE":            "catalog.yaml",
}

// GetConfig reads .env from the working directory
func GetConfig() (*Config, error) {
	return Load(".")
}

// Load reads .env from the first of paths that has one. A missing file is not an error.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("toml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the values that have no safe fallback
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.QueryMaxRetries < 0 {
		return fmt.Errorf("QUERY_MAX_RETRIES cannot be negative")
	}
	if c.CacheGraceSeconds < 0 {
		return fmt.Errorf("CACHE_GRACE_SECONDS cannot be negative")
	}
	return nil
}

// RequestTimeout bounds a single backend request
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CacheGrace is how long unused cache entries are kept
func (c *Config) CacheGrace() time.Duration {
	return time.Duration(c.CacheGraceSeconds) * time.Second
}

/* FetchTimeout bounds a cached read including its retries.
 * Attempts take at most RequestTimeout each and the backoff between them is capped at 2s.
 */
func (c *Config) FetchTimeout() time.Duration {
	attempts := time.Duration(c.QueryMaxRetries + 1)
	return attempts*c.RequestTimeout() + time.Duration(c.QueryMaxRetries)*2*time.Second
}
