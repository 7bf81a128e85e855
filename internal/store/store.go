package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is used for every TEXT timestamp column.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// migration upgrades the schema by one user_version step.
type migration struct {
	version int
	name    string
	stmt    string
}

// migrations run in order on every Open; each is skipped once user_version
// has reached it.
var migrations = []migration{
	{
		version: 1,
		name:    "batch outcome index",
		stmt:    `CREATE INDEX IF NOT EXISTS idx_batches_outcome ON batches(session_id, outcome)`,
	},
}

// currentSchemaVersion is the user_version after all migrations.
var currentSchemaVersion = migrations[len(migrations)-1].version

// Store is the SQLite audit trail.
//
// The connection pool is capped at one connection: events arrive from the
// single engine goroutine and SQLite serialises writers anyway.
type Store struct {
	db *sql.DB
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long a write waits on a locked database.
// Default: 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *openConfig) {
		c.busyTimeout = d
	}
}

// Open creates or opens the audit database at path (":memory:" for a
// throwaway one), then applies pragmas, the schema and any pending
// migrations. Opening an existing file again is safe.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := openConfig{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initialize(db, cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func initialize(db *sql.DB, cfg openConfig) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := applyPragmas(db, cfg); err != nil {
		return err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return runMigrations(db)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query runs an ad hoc read. Callers close the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func applyPragmas(db *sql.DB, cfg openConfig) error {
	pragmas := []struct{ name, value string }{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"busy_timeout", fmt.Sprint(cfg.busyTimeout.Milliseconds())},
		{"foreign_keys", "ON"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("set user_version %d: %w", m.version, err)
		}
		version = m.version
	}
	return nil
}

// pragma returns the current value of a pragma as text.
func (s *Store) pragma(name string) (string, error) {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
