// Package storage persists run logs, order records, fills, and PnL
// snapshots in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"tradeloop/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	status TEXT NOT NULL,
	usage_json TEXT NOT NULL DEFAULT '',
	error_text TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at DESC);

CREATE TABLE IF NOT EXISTS open_orders (
	order_id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	side TEXT NOT NULL,
	limit_price TEXT NOT NULL,
	base_size TEXT NOT NULL,
	status TEXT NOT NULL,
	stop_price TEXT,
	client_order_id TEXT NOT NULL DEFAULT '',
	end_time TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_open_orders_product ON open_orders(product_id);

CREATE TABLE IF NOT EXISTS executed_orders (
	order_id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	ts_submitted TIMESTAMP NOT NULL,
	ts_submitted_inferred INTEGER NOT NULL DEFAULT 0,
	ts_filled TIMESTAMP,
	side TEXT NOT NULL,
	limit_price TEXT NOT NULL,
	base_size TEXT NOT NULL,
	status TEXT NOT NULL,
	filled_size TEXT,
	stop_price TEXT,
	post_only INTEGER NOT NULL DEFAULT 0,
	client_order_id TEXT NOT NULL DEFAULT '',
	end_time TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executed_orders_product ON executed_orders(product_id, ts_submitted);

CREATE TABLE IF NOT EXISTS fills (
	fill_id TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	trade_time TIMESTAMP NOT NULL,
	side TEXT NOT NULL,
	price TEXT NOT NULL,
	size TEXT NOT NULL,
	maker INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_fills_product_time ON fills(product_id, trade_time);

CREATE TABLE IF NOT EXISTS pnl_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	summary_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pnl_snapshots_product ON pnl_snapshots(product_id, created_at DESC);

CREATE TABLE IF NOT EXISTS plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	prompt TEXT NOT NULL,
	response TEXT NOT NULL,
	accepted INTEGER NOT NULL DEFAULT 0,
	error_text TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_plans_product ON plans(product_id, created_at DESC);

CREATE TABLE IF NOT EXISTS price_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	best_bid TEXT NOT NULL,
	best_ask TEXT NOT NULL,
	mid TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_snapshots_product ON price_snapshots(product_id, ts DESC);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	currency TEXT NOT NULL,
	available TEXT NOT NULL,
	hold TEXT NOT NULL,
	total TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_product ON portfolio_snapshots(product_id, created_at DESC);

CREATE TABLE IF NOT EXISTS prompt_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	recap TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompt_history_kind ON prompt_history(kind, created_at DESC);
`

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger core.ILogger
}

// NewStore opens (or creates) the database at dbPath, enables WAL mode, and
// applies the schema.
func NewStore(dbPath string, logger core.ILogger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.WithField("component", "storage"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
