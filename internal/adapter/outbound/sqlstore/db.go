// Package sqlstore persists access policies, governed table rows and audit
// records in PostgreSQL (pgx) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver
)

// Dialect selects SQL syntax and the database/sql driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect validates a store driver name.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case Postgres, SQLite:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", s)
	}
}

func (d Dialect) driverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) timestampType() string {
	if d == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// DB wraps a database handle with its dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn and verifies the connection. SQLite databases are
// limited to one open connection, which also keeps ":memory:" databases
// shared across calls.
func Open(ctx context.Context, dialect Dialect, dsn string) (*DB, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch dialect {
	case SQLite:
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("sqlite pragma %q: %w", pragma, err)
			}
		}
	case Postgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{db: db, dialect: dialect}, nil
}

// New wraps an existing handle.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

// Dialect returns the SQL dialect.
func (d *DB) Dialect() Dialect { return d.dialect }

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// Migrate creates the policy and audit tables when they are missing.
func (d *DB) Migrate(ctx context.Context) error {
	ts := d.dialect.timestampType()
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ai_datasources (
			id TEXT PRIMARY KEY,
			table_schema TEXT NOT NULL DEFAULT 'public',
			table_name TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			access_level TEXT NOT NULL DEFAULT 'none',
			is_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			allowed_columns TEXT NOT NULL DEFAULT '[]',
			excluded_columns TEXT NOT NULL DEFAULT '[]',
			max_rows_per_query INTEGER NOT NULL DEFAULT 100,
			guard TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ai_datasources_resource ON ai_datasources (LOWER(table_name))`,

		`CREATE TABLE IF NOT EXISTS ai_tool_calls (
			id TEXT PRIMARY KEY,
			created_at ` + ts + ` NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL,
			tool_args TEXT NOT NULL DEFAULT '{}',
			success BOOLEAN NOT NULL,
			result TEXT,
			error_message TEXT NOT NULL DEFAULT '',
			is_dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			duration_ms BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_tool_calls_user ON ai_tool_calls (user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_tool_calls_session ON ai_tool_calls (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_tool_calls_tool ON ai_tool_calls (tool_name, created_at)`,
	}
	for _, m := range migrations {
		if _, err := d.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
