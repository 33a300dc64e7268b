// Package config loads the server settings from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort                   = "8080"
	defaultCacheTTLSeconds        = 30
	defaultLockTTLSeconds         = 10
	defaultLockWaitSeconds        = 5
	defaultShutdownTimeoutSeconds = 5
	defaultRequestTimeoutSeconds  = 30
)

// Config keeps the runtime configuration for the server.
type Config struct {
	Port string

	// DatabaseURL selects the PostgreSQL store when set.
	DatabaseURL string
	// RedisURL enables the session cache (with DatabaseURL) and the shared
	// per-game lock.
	RedisURL string
	// StateDir selects the JSON file store when DatabaseURL is empty. With
	// neither set, sessions live in memory only.
	StateDir string

	CacheTTL        time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	// LoadExample seeds an EXAMPLE game with the classroom scenario.
	LoadExample bool
}

// Addr renders the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Load builds Config from environment variables.
func Load() (*Config, error) {
	cacheTTL, err := getInt("CACHE_TTL_SECONDS", defaultCacheTTLSeconds)
	if err != nil {
		return nil, err
	}
	lockTTL, err := getInt("LOCK_TTL_SECONDS", defaultLockTTLSeconds)
	if err != nil {
		return nil, err
	}
	lockWait, err := getInt("LOCK_WAIT_SECONDS", defaultLockWaitSeconds)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := getInt("REQUEST_TIMEOUT_SECONDS", defaultRequestTimeoutSeconds)
	if err != nil {
		return nil, err
	}
	shutdown, err := getInt("SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSeconds)
	if err != nil {
		return nil, err
	}
	loadExample, err := getBool("LOAD_EXAMPLE", false)
	if err != nil {
		return nil, err
	}

	for key, v := range map[string]int{
		"CACHE_TTL_SECONDS":        cacheTTL,
		"LOCK_TTL_SECONDS":         lockTTL,
		"LOCK_WAIT_SECONDS":        lockWait,
		"REQUEST_TIMEOUT_SECONDS":  requestTimeout,
		"SHUTDOWN_TIMEOUT_SECONDS": shutdown,
	} {
		if v <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}

	return &Config{
		Port:            getString("PORT", defaultPort),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		StateDir:        os.Getenv("STATE_DIR"),
		CacheTTL:        seconds(cacheTTL),
		LockTTL:         seconds(lockTTL),
		LockWait:        seconds(lockWait),
		RequestTimeout:  seconds(requestTimeout),
		ShutdownTimeout: seconds(shutdown),
		LoadExample:     loadExample,
	}, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("convert %s value %q to bool: %w", key, value, err)
	}
	return parsed, nil
}
