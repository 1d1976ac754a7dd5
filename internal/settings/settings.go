// Package settings reads tenant-level runtime settings from the settings
// table. Values are cached briefly so a sweep re-reads each key at most once
// per invocation. Parse failures silently fall back to defaults; a bad
// setting must never fail a sweep.
package settings

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencirc/noticesvc/internal/cache"
	"github.com/opencirc/noticesvc/internal/notices"
)

// Setting keys.
const (
	KeyNoticesLimit   = "schedulerNoticesLimit"
	KeyTenantTimezone = "tenantTimezone"
)

// Store reads tenant settings with a short TTL cache in front.
type Store struct {
	pool   *pgxpool.Pool
	cache  *cache.Cache
	logger *slog.Logger
}

// New builds a settings store on the shared pool.
func New(pool *pgxpool.Pool, c *cache.Cache, logger *slog.Logger) *Store {
	return &Store{pool: pool, cache: c, logger: logger}
}

// NoticesLimit returns the sweep batch cap. Absent, empty or non-numeric
// values yield the engine default.
func (s *Store) NoticesLimit(ctx context.Context) int {
	raw, ok := s.get(ctx, KeyNoticesLimit)
	if !ok {
		return notices.DefaultNoticesLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.logger.Warn("invalid notices limit setting, using default",
			"value", raw, "default", notices.DefaultNoticesLimit)
		return notices.DefaultNoticesLimit
	}
	return n
}

// Timezone returns the tenant timezone for day-gated sweeps; unknown or
// missing zones fall back to UTC.
func (s *Store) Timezone(ctx context.Context) *time.Location {
	raw, ok := s.get(ctx, KeyTenantTimezone)
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(raw)
	if err != nil {
		s.logger.Warn("invalid tenant timezone setting, using UTC", "value", raw)
		return time.UTC
	}
	return loc
}

// Set writes a setting value (operational tooling path).
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return err
	}
	s.cache.Delete("setting:" + key)
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, bool) {
	cacheKey := "setting:" + key
	if data, ok := s.cache.Get(cacheKey); ok {
		return string(data), true
	}

	var value string
	err := s.pool.QueryRow(ctx, "setting_by_key", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("settings read failed", "key", key, "error", err)
		return "", false
	}
	s.cache.Set(cacheKey, []byte(value), cache.TTLSettings)
	return value, true
}
