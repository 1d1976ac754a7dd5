// Package db provides a pgxpool-based connection pool with prepared
// statement registration and health checking.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencirc/noticesvc/internal/config"
)

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// registerPreparedStatements registers the entity and settings lookups the
// sweep resolver issues for every claimed notice. Preparing them eliminates
// parse overhead on the hot path.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Entity resolution
		"loan_by_id":            "SELECT id, user_id, item_id, due_date, status, declared_lost, aged_to_lost, claimed_returned FROM loans WHERE id = $1",
		"item_by_id":            "SELECT id, title, barcode, call_number, location FROM items WHERE id = $1",
		"user_by_id":            "SELECT id, barcode, first_name, last_name, email FROM users WHERE id = $1",
		"account_by_id":         "SELECT id, loan_id, user_id, fee_fine_type, amount, remaining, status FROM accounts WHERE id = $1",
		"fee_fine_action_by_id": "SELECT id, account_id, action_type, amount, action_date FROM fee_fine_actions WHERE id = $1",
		"request_by_id":         "SELECT id, user_id, item_id, status, expiration_date, hold_shelf_expiration_date FROM requests WHERE id = $1",
		"template_by_id":        "SELECT id, name, active FROM templates WHERE id = $1",

		// Tenant settings
		"setting_by_key": "SELECT value FROM settings WHERE key = $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
