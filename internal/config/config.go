package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	RedisURL      string `envconfig:"REDIS_URL" required:"true"`
	RedisPoolSize int    `envconfig:"RW_REDIS_POOL_SIZE" default:"8"`

	MergeLockTTLSeconds int    `envconfig:"RW_MERGE_LOCK_TTL_SECONDS" default:"30"`
	CORSAllowedOrigins  string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.RedisPoolSize < 1 {
		return fmt.Errorf("RW_REDIS_POOL_SIZE must be >= 1")
	}
	if c.MergeLockTTLSeconds < 1 {
		return fmt.Errorf("RW_MERGE_LOCK_TTL_SECONDS must be >= 1")
	}
	return nil
}

func (c *Config) MergeLockTTL() time.Duration {
	if c == nil || c.MergeLockTTLSeconds < 1 {
		return 30 * time.Second
	}
	return time.Duration(c.MergeLockTTLSeconds) * time.Second
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
