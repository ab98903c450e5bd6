// Package config reads settings for the relay and the sync client from the
// environment. A .env file in the working directory is loaded first when
// present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

type Config struct {
	// relay
	Port            string
	RedisURL        string
	DatabaseURL     string
	FrontendBaseURL string
	RateLimitRPS    int

	// client
	RelayURL        string
	CatalogURL      string
	Room            string
	LeaseWindow     time.Duration
	CatalogCacheTTL time.Duration
	Strict          bool

	LogLevel log.Level
}

func Load() (Config, error) {
	// missing .env is fine
	_ = godotenv.Load()

	level, err := log.ParseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	cfg := Config{
		Port:            getenv("PORT", "3004"),
		RedisURL:        getenv("REDIS_URL", ""),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		FrontendBaseURL: strings.TrimRight(getenv("FRONTEND_BASE_URL", ""), "/"),
		RateLimitRPS:    getenvInt("RATE_LIMIT_RPS", 20),

		RelayURL:        getenv("RELAY_URL", "http://localhost:3004"),
		CatalogURL:      getenv("CATALOG_URL", ""),
		Room:            getenv("ROOM", ""),
		LeaseWindow:     getenvDuration("LEASE_WINDOW", time.Second),
		CatalogCacheTTL: getenvDuration("CATALOG_CACHE_TTL", 10*time.Minute),
		Strict:          getenvBool("STRICT", false),

		LogLevel: level,
	}
	return cfg, nil
}

// ValidateClient checks the settings the sync client cannot run without.
func (c Config) ValidateClient() error {
	var errs []error
	if c.RelayURL == "" {
		errs = append(errs, errors.New("RELAY_URL is empty"))
	}
	if c.Room == "" {
		errs = append(errs, errors.New("ROOM is empty"))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	raw := getenv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
