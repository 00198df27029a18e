// Package config loads relay configuration from the environment, with
// an optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the relay server configuration.
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Addr string

	// PresencePerSecond caps presence frames relayed per connection.
	PresencePerSecond int
}

// RedisConfig configures the optional snapshot store.
type RedisConfig struct {
	// Addr empty means run without redis.
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() (*Config, error) {
	// Ignore error: .env is optional in production.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:              envOr("LISTEN_ADDR", ":8080"),
			PresencePerSecond: 20,
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}

	if v := os.Getenv("PRESENCE_PER_SECOND"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PRESENCE_PER_SECOND: %w", err)
		}

		cfg.Server.PresencePerSecond = n
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}

		cfg.Redis.DB = n
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
