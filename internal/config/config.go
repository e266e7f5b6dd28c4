// Package config provides configuration management for the cache service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the service starts
// safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Operations server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path, stdout when empty
//
// Local Tier (L1):
//   - L1_MAX_SIZE: Maximum number of L1 entries before LRU eviction (default: 1000)
//   - COMPRESSION_THRESHOLD_BYTES: Payloads larger than this are gzip
//     compressed before the remote tier, 0 disables compression (default: 1024)
//   - CACHE_TTL_OVERRIDES: Per-data-type TTL overrides as comma separated
//     "type=duration" pairs, e.g. "user=10m,reports=1h"
//
// Circuit Breaker:
//   - CB_ENGINE: Breaker implementation - "native" or "gobreaker" (default: native)
//   - CB_FAILURE_THRESHOLD: Consecutive failures before the breaker opens (default: 5)
//   - CB_RECOVERY_TIMEOUT: Open duration before a half-open probe (default: 30s)
//   - CB_HALF_OPEN_TRIALS: Successes required to close from half-open (default: 3)
//
// Remote Tier (L2):
//   - REDIS_ADDRESS: Redis server address; empty disables the remote tier
//     and the cache runs L1-only
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//   - REDIS_KEY_PREFIX: Prefix applied to every remote key (default: cache:)
//   - REDIS_DIAL_TIMEOUT: Connection dial timeout (default: 5s)
//   - REDIS_READ_TIMEOUT: Socket read timeout (default: 3s)
//   - REDIS_WRITE_TIMEOUT: Socket write timeout (default: 3s)
//   - REDIS_OP_TIMEOUT: Per-operation deadline applied by the store (default: 2s)
//
// Cache Warming:
//   - WARM_SCHEDULE: Cron expression for scheduled re-warming, empty
//     disables the schedule (optional seconds field, e.g. "*/5 * * * *")
//
// Example usage:
//
//	// Load configuration from environment
//	config := config.Load()
//
//	// Validate configuration
//	if err := config.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
//
//	// Use configuration
//	server := &http.Server{
//		Addr: ":" + config.Port,
//	}
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	cacheerrors "tiercache/internal/common/errors"
	"tiercache/internal/warmup"
)

// Config holds all configuration values for the cache service. All fields
// correspond to environment variables that can be set to override the
// default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port     string // Operations server port number
	LogLevel string // Logging level (debug, info, warn, error)
	LogFile  string // Log file path, stdout when empty

	// Local tier configuration
	L1MaxSize            int    // Maximum L1 entries before LRU eviction
	CompressionThreshold int    // Compression threshold in bytes, 0 disables
	TTLOverrides         string // Per-data-type TTL overrides ("type=duration" pairs)

	// Circuit breaker configuration for the remote tier
	BreakerEngine           string        // Breaker implementation ("native" or "gobreaker")
	BreakerFailureThreshold int           // Consecutive failures before opening
	BreakerRecoveryTimeout  time.Duration // Open duration before a half-open probe
	BreakerHalfOpenTrials   int           // Successes required to close from half-open

	// Redis configuration for the remote tier; an empty address disables
	// the remote tier entirely
	RedisAddress      string        // Redis server address (host:port)
	RedisPassword     string        // Redis authentication password
	RedisDB           int           // Redis database number (0-15)
	RedisPoolSize     int           // Redis connection pool size
	RedisKeyPrefix    string        // Prefix applied to every remote key
	RedisDialTimeout  time.Duration // Connection dial timeout
	RedisReadTimeout  time.Duration // Socket read timeout
	RedisWriteTimeout time.Duration // Socket write timeout
	RedisOpTimeout    time.Duration // Per-operation deadline

	// Cache warming configuration
	WarmSchedule string // Cron expression for re-warming, empty disables
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding
// default value is used.
//
// This function does not validate the configuration - call Validate() on
// the returned Config to ensure all values are valid.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		// Local tier configuration
		L1MaxSize:            getIntEnv("L1_MAX_SIZE", 1000),
		CompressionThreshold: getIntEnv("COMPRESSION_THRESHOLD_BYTES", 1024),
		TTLOverrides:         getEnv("CACHE_TTL_OVERRIDES", ""),

		// Circuit breaker configuration
		BreakerEngine:           getEnv("CB_ENGINE", "native"),
		BreakerFailureThreshold: getIntEnv("CB_FAILURE_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getDurationEnv("CB_RECOVERY_TIMEOUT", 30*time.Second),
		BreakerHalfOpenTrials:   getIntEnv("CB_HALF_OPEN_TRIALS", 3),

		// Redis configuration
		RedisAddress:      getEnv("REDIS_ADDRESS", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getIntEnv("REDIS_DB", 0),
		RedisPoolSize:     getIntEnv("REDIS_POOL_SIZE", 10),
		RedisKeyPrefix:    getEnv("REDIS_KEY_PREFIX", "cache:"),
		RedisDialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisOpTimeout:    getDurationEnv("REDIS_OP_TIMEOUT", 2*time.Second),

		// Warming configuration
		WarmSchedule: getEnv("WARM_SCHEDULE", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value
// if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable value or returns a
// default value if the variable is not set or fails to parse.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable value or returns
// a default value if the variable is not set or fails to parse.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// RemoteEnabled reports whether a remote tier is configured.
func (c *Config) RemoteEnabled() bool {
	return c.RedisAddress != ""
}

// ParseTTLOverrides parses a CACHE_TTL_OVERRIDES value into a TTL-by-data-type
// map. The format is comma separated "type=duration" pairs; a zero duration
// means never expires. An empty input yields an empty map.
func ParseTTLOverrides(raw string) (map[string]time.Duration, error) {
	overrides := make(map[string]time.Duration)
	if strings.TrimSpace(raw) == "" {
		return overrides, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, cacheerrors.ConfigError("CACHE_TTL_OVERRIDES entries must be 'type=duration' pairs, got '" + pair + "'")
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, cacheerrors.ConfigError("CACHE_TTL_OVERRIDES has an invalid duration for '" + name + "': " + err.Error())
		}
		if ttl < 0 {
			return nil, cacheerrors.ConfigError("CACHE_TTL_OVERRIDES duration for '" + name + "' must not be negative")
		}
		overrides[name] = ttl
	}
	return overrides, nil
}

// Validate performs comprehensive validation on the configuration to ensure
// all values are valid before the service starts.
//
// This method checks:
//   - Port and size ranges
//   - Circuit breaker thresholds
//   - Redis settings when a remote tier is configured
//   - TTL override and cron expression syntax
//
// Returns a descriptive error if validation fails, nil if the configuration
// is valid.
func (c *Config) Validate() error {
	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return cacheerrors.ConfigError("PORT must be a valid port number between 1 and 65535")
	}

	// Validate local tier settings
	if c.L1MaxSize < 1 {
		return cacheerrors.ConfigError("L1_MAX_SIZE must be a positive number")
	}
	if c.CompressionThreshold < 0 {
		return cacheerrors.ConfigError("COMPRESSION_THRESHOLD_BYTES must not be negative")
	}
	if _, err := ParseTTLOverrides(c.TTLOverrides); err != nil {
		return err
	}

	// Validate circuit breaker settings
	switch c.BreakerEngine {
	case "", "native", "gobreaker":
		// Valid breaker engines
	default:
		return cacheerrors.ConfigError("CB_ENGINE must be 'native' or 'gobreaker'")
	}
	if c.BreakerFailureThreshold < 1 {
		return cacheerrors.ConfigError("CB_FAILURE_THRESHOLD must be a positive number")
	}
	if c.BreakerRecoveryTimeout <= 0 {
		return cacheerrors.ConfigError("CB_RECOVERY_TIMEOUT must be a positive duration")
	}
	if c.BreakerHalfOpenTrials < 1 {
		return cacheerrors.ConfigError("CB_HALF_OPEN_TRIALS must be a positive number")
	}

	// Validate Redis config if a remote tier is configured
	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return cacheerrors.ConfigError("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return cacheerrors.ConfigError("REDIS_POOL_SIZE must be a positive number")
		}
		if c.RedisDialTimeout < 0 || c.RedisReadTimeout < 0 || c.RedisWriteTimeout < 0 || c.RedisOpTimeout < 0 {
			return cacheerrors.ConfigError("redis timeouts must not be negative")
		}
	}

	// Validate warm schedule if provided
	if c.WarmSchedule != "" {
		if err := warmup.ValidateSpec(c.WarmSchedule); err != nil {
			return cacheerrors.ConfigError("WARM_SCHEDULE is not a valid cron expression")
		}
	}

	return nil
}
