// Package config loads the relay's runtime settings from the environment.
package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Feed drivers.
const (
	FeedRedis    = "redis"
	FeedPostgres = "postgres"
	FeedMemory   = "memory"
)

// Config holds all configuration for the relay.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`
	Env  string `env:"ENV" envDefault:"development"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=chatrelay port=5432 sslmode=disable"`
	RedisURL    string `env:"REDIS_URL"`

	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"chatrelay"`

	// AuthHeader and AuthCookie are the fallback credential sources after Authorization.
	AuthHeader string `env:"AUTH_HEADER" envDefault:"X-Auth-Token"`
	AuthCookie string `env:"AUTH_COOKIE" envDefault:"access_token"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	FeedDriver         string        `env:"FEED_DRIVER" envDefault:"redis"`
	FeedStream         string        `env:"FEED_STREAM" envDefault:"chat:messages"`
	FeedStreamMaxLen   int64         `env:"FEED_STREAM_MAXLEN" envDefault:"100000"`
	FeedBackoffInitial time.Duration `env:"FEED_BACKOFF_INITIAL" envDefault:"500ms"`
	FeedBackoffMax     time.Duration `env:"FEED_BACKOFF_MAX" envDefault:"30s"`

	// RoomMaxPending bounds how many undelivered messages one subscriber may queue.
	RoomMaxPending int `env:"ROOM_MAX_PENDING" envDefault:"4096"`
}

// Load reads .env (if present) and the process environment, then validates the result.
func Load() (*Config, error) {
	cfg, err := Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without Validate, for tools that use only part of the configuration.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.FeedDriver {
	case FeedRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when FEED_DRIVER=redis")
		}
	case FeedPostgres, FeedMemory:
	default:
		return errors.New("FEED_DRIVER must be one of redis, postgres, memory")
	}
	if c.RoomMaxPending <= 0 {
		return errors.New("ROOM_MAX_PENDING must be positive")
	}
	if c.IsProduction() {
		if c.DatabaseDSN == "" {
			return errors.New("DATABASE_DSN is required in production")
		}
		if c.JWTSecret == "" || c.JWTSecret == "dev-secret-change-me" {
			return errors.New("JWT_SECRET is required in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
