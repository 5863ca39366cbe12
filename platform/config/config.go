// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
//
// Defaults are applied exactly once, here, at load time. Call sites never
// fall back to implicit defaults. The per-organization routing configuration
// (strategy weights, reassignment limits, ...) is a database record owned by
// the routing domain, not part of this package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRouteRatePerMinute() float64
	GetRouteRateBurst() int
}

// SchedulerConfig provides settings for the asynq-backed scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EngineConfig provides process-level tuning for the decision engine.
// These are infrastructure knobs; organization-facing tunables live in the
// routing_configurations table.
type EngineConfig interface {
	GetReservationTimeout() time.Duration
	GetReserveRetryLimit() int
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                string
	HTTPAddr           string
	DatabaseURL        string
	CORSAllowAll       bool
	CORSOrigins        []string
	CORSAllowCreds     bool
	RouteRatePerMinute float64
	RouteRateBurst     int
	RedisURL           string
	RedisTLSInsecure   bool
	AsynqQueueName     string
	AsynqConcurrency   int
	ReservationTimeout time.Duration
	ReserveRetryLimit  int
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string             { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool           { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string        { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool         { return c.CORSAllowCreds }
func (c *Config) GetRouteRatePerMinute() float64  { return c.RouteRatePerMinute }
func (c *Config) GetRouteRateBurst() int          { return c.RouteRateBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// EngineConfig implementation
func (c *Config) GetReservationTimeout() time.Duration { return c.ReservationTimeout }
func (c *Config) GetReserveRetryLimit() int            { return c.ReserveRetryLimit }

// =============================================================================
// Loading
// =============================================================================

// Load reads configuration from the environment (and an optional .env file)
// and applies documented defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                getEnv("APP_ENV", "development"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		CORSAllowAll:       strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true"),
		CORSOrigins:        splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200")),
		CORSAllowCreds:     strings.EqualFold(getEnv("CORS_ALLOW_CREDS", "true"), "true"),
		RouteRatePerMinute: getEnvFloat("ROUTE_RATE_PER_MINUTE", 300),
		RouteRateBurst:     getEnvInt("ROUTE_RATE_BURST", 50),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisTLSInsecure:   strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:     getEnv("ASYNQ_QUEUE", "routing"),
		AsynqConcurrency:   getEnvInt("ASYNQ_CONCURRENCY", 10),
		ReservationTimeout: getEnvDuration("RESERVATION_TIMEOUT", 250*time.Millisecond),
		ReserveRetryLimit:  getEnvInt("RESERVE_RETRY_LIMIT", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ReserveRetryLimit < 1 {
		return nil, fmt.Errorf("RESERVE_RETRY_LIMIT must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
