// Package database provides PostgreSQL persistence for positions, completed
// trades, learned coefficients, pattern stats, and price bars, plus the Redis
// coefficient cache.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnTimeoutSecs int
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	timeout := time.Duration(cfg.ConnTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "Database").Logger()
	log.Info().Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations...")

	migrations := []string{
		// Positions, one row per (token, chain, timeframe)
		`CREATE TABLE IF NOT EXISTS positions (
			id UUID PRIMARY KEY,
			token VARCHAR(64) NOT NULL,
			chain VARCHAR(32) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'DORMANT',
			total_quantity DECIMAL(30, 12) NOT NULL DEFAULT 0,
			total_investment DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_extracted DECIMAL(20, 8) NOT NULL DEFAULT 0,
			total_tokens_bought DECIMAL(30, 12) NOT NULL DEFAULT 0,
			total_tokens_sold DECIMAL(30, 12) NOT NULL DEFAULT 0,
			allocation_cap DECIMAL(20, 8) NOT NULL DEFAULT 0,
			entry_context JSONB NOT NULL DEFAULT '{}',
			execution_history JSONB NOT NULL DEFAULT '{}',
			bars_count INTEGER NOT NULL DEFAULT 0,
			first_entry_at TIMESTAMPTZ,
			closed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (token, chain, timeframe)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_timeframe ON positions(timeframe)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,

		// Completed trades, immutable, one row per full exit
		`CREATE TABLE IF NOT EXISTS completed_trades (
			id UUID PRIMARY KEY,
			position_id UUID NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
			entry_price DECIMAL(20, 10) NOT NULL,
			exit_price DECIMAL(20, 10) NOT NULL,
			entry_at TIMESTAMPTZ NOT NULL,
			exit_at TIMESTAMPTZ NOT NULL,
			return_pct DECIMAL(12, 6) NOT NULL DEFAULT 0,
			max_drawdown DECIMAL(12, 6) NOT NULL DEFAULT 0,
			max_gain DECIMAL(12, 6) NOT NULL DEFAULT 0,
			risk_reward DECIMAL(12, 6) NOT NULL DEFAULT 0,
			has_risk_reward BOOLEAN NOT NULL DEFAULT FALSE,
			entry_context JSONB NOT NULL DEFAULT '{}',
			closed_by VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_completed_trades_position ON completed_trades(position_id)`,
		`CREATE INDEX IF NOT EXISTS idx_completed_trades_exit_at ON completed_trades(exit_at)`,

		// Learned coefficients, keyed by (module, kind, dimension, value)
		`CREATE TABLE IF NOT EXISTS coefficients (
			module VARCHAR(32) NOT NULL,
			kind VARCHAR(16) NOT NULL,
			dimension VARCHAR(32) NOT NULL,
			value TEXT NOT NULL,
			weight DECIMAL(8, 5) NOT NULL DEFAULT 1.0,
			rr_short DECIMAL(12, 6) NOT NULL DEFAULT 0,
			rr_long DECIMAL(12, 6) NOT NULL DEFAULT 0,
			n BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (module, kind, dimension, value)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_coefficients_module ON coefficients(module)`,

		// Pattern scope stats, full running state as JSONB
		`CREATE TABLE IF NOT EXISTS pattern_stats (
			pattern VARCHAR(64) NOT NULL,
			action VARCHAR(20) NOT NULL,
			signature TEXT NOT NULL,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (pattern, action, signature)
		)`,

		// OHLC bars backing the R/R extreme queries
		`CREATE TABLE IF NOT EXISTS price_bars (
			token VARCHAR(64) NOT NULL,
			chain VARCHAR(32) NOT NULL,
			timeframe VARCHAR(8) NOT NULL,
			bar_time TIMESTAMPTZ NOT NULL,
			open DECIMAL(20, 10) NOT NULL,
			high DECIMAL(20, 10) NOT NULL,
			low DECIMAL(20, 10) NOT NULL,
			close DECIMAL(20, 10) NOT NULL,
			volume DECIMAL(24, 8) NOT NULL DEFAULT 0,
			PRIMARY KEY (token, chain, timeframe, bar_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_bars_lookup ON price_bars(token, chain, timeframe, bar_time)`,

		// Operators allowed to pause/resume positions
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'operator',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login_at TIMESTAMPTZ
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
