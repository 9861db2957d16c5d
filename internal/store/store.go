// =============================================================================
// Merchant Analytics - SQLite Store
// =============================================================================
//
// TABLES:
//   merchant_data   cleaned merchant rows          key (mid, period_key)
//   residual_data   cleaned residual rows          key id ("<mid>_<period>")
//   merged_data     merger output                  key (mid, period_key)
//   agent_earnings  calculator output              key (mid, agent_name, period_key)
//   ingestion_logs  one row per processed file
//   crm_merchants   CRM merchant accounts          key mid
//   crm_residuals   CRM residual report rows       key (mid, payout_month)
//   crm_volumes     CRM monthly volumes            key (mid, month)
//
// Upserts report how many rows were inserted and how many updated.
// Timestamps are stored as RFC 3339 text in UTC.
//
// =============================================================================

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS merchant_data (
	mid TEXT NOT NULL,
	period_key TEXT NOT NULL,
	merchant_dba TEXT NOT NULL DEFAULT '',
	total_volume REAL NOT NULL DEFAULT 0,
	total_txns REAL NOT NULL DEFAULT 0,
	source_tag TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (mid, period_key)
);

CREATE TABLE IF NOT EXISTS residual_data (
	id TEXT PRIMARY KEY,
	mid TEXT NOT NULL,
	period_key TEXT NOT NULL,
	net_profit REAL NOT NULL DEFAULT 0,
	bps REAL NOT NULL DEFAULT 0,
	agent_name TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_residual_period ON residual_data(period_key);

CREATE TABLE IF NOT EXISTS merged_data (
	mid TEXT NOT NULL,
	period_key TEXT NOT NULL,
	merchant_dba TEXT NOT NULL DEFAULT '',
	total_volume REAL NOT NULL DEFAULT 0,
	total_txns REAL NOT NULL DEFAULT 0,
	net_profit REAL NOT NULL DEFAULT 0,
	profit_margin REAL NOT NULL DEFAULT 0,
	source_tag TEXT NOT NULL DEFAULT '',
	record_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (mid, period_key)
);

CREATE TABLE IF NOT EXISTS agent_earnings (
	mid TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	period_key TEXT NOT NULL,
	split_percentage REAL NOT NULL,
	earnings REAL NOT NULL,
	PRIMARY KEY (mid, agent_name, period_key)
);

CREATE TABLE IF NOT EXISTS ingestion_logs (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	period_key TEXT NOT NULL,
	status TEXT NOT NULL,
	rows_total INTEGER NOT NULL DEFAULT 0,
	rows_success INTEGER NOT NULL DEFAULT 0,
	rows_failed INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crm_merchants (
	mid TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	processor TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crm_residuals (
	mid TEXT NOT NULL,
	payout_month TEXT NOT NULL,
	merchant_name TEXT NOT NULL DEFAULT '',
	transactions REAL NOT NULL DEFAULT 0,
	sales_amount REAL NOT NULL DEFAULT 0,
	income REAL NOT NULL DEFAULT 0,
	expenses REAL NOT NULL DEFAULT 0,
	net_profit REAL NOT NULL DEFAULT 0,
	bps REAL NOT NULL DEFAULT 0,
	commission_pct REAL NOT NULL DEFAULT 0,
	agent_net REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (mid, payout_month)
);

CREATE TABLE IF NOT EXISTS crm_volumes (
	mid TEXT NOT NULL,
	month TEXT NOT NULL,
	gross_volume REAL NOT NULL DEFAULT 0,
	transaction_count INTEGER NOT NULL DEFAULT 0,
	avg_ticket REAL NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (mid, month)
);
`

// UpsertResult counts the rows an upsert touched.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("database ready", slog.String("path", path))
	return &Store{db: db, now: time.Now, logger: logger.With("component", "store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// exists reports whether query returns a row.
func exists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
