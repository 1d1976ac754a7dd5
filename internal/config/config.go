// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/noticectl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config struct — populated from environment variables.
type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Notice dispatch transport
	DispatchBaseURL string
	DispatchTimeout time.Duration

	// Sweeps
	SweepEnabled bool
	SweepWorkers int
	// Cron specs per flavor; empty disables that flavor's schedule.
	CronDueDate            string
	CronDueDateNotRealTime string
	CronFeeFine            string
	CronOverdueFine        string
	CronRequestExpiration  string

	// Fee/fine balance-change listener
	ListenerEnabled bool

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		DispatchBaseURL: envOr("NOTICE_TRANSPORT_URL", ""),
		DispatchTimeout: time.Duration(envInt("NOTICE_TRANSPORT_TIMEOUT_SECONDS", 10)) * time.Second,

		SweepEnabled: envBool("SWEEP_ENABLED", true),
		SweepWorkers: envInt("SWEEP_WORKERS", 4),

		// Real-time flavors run often; the day-gated flavor once an hour is
		// plenty since it can fire at most once per local day anyway.
		CronDueDate:            envOr("SWEEP_CRON_DUE_DATE", "*/5 * * * *"),
		CronDueDateNotRealTime: envOr("SWEEP_CRON_DUE_DATE_NOT_REAL_TIME", "0 * * * *"),
		CronFeeFine:            envOr("SWEEP_CRON_FEE_FINE", "*/5 * * * *"),
		CronOverdueFine:        envOr("SWEEP_CRON_OVERDUE_FINE", "*/5 * * * *"),
		CronRequestExpiration:  envOr("SWEEP_CRON_REQUEST_EXPIRATION", "*/5 * * * *"),

		ListenerEnabled: envBool("FEE_FINE_LISTENER_ENABLED", true),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
