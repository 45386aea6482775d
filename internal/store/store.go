// Package store is the persistence layer: four tables (video_profiles,
// video_profile_references, video_assets, video_jobs) accessed through
// short transactions, with foreign-key enforcement on and an idempotent
// startup migration (spec §4.1).
//
// The production path is PostgreSQL via lib/pq, matching the teacher's
// storage manager. A pure-Go sqlite path (modernc.org/sqlite) backs unit
// tests so the transaction/cascade/rollback behavior is exercised without a
// network dependency.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect distinguishes the two SQL engines the store speaks.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Store wraps a *sql.DB with the dialect needed to rebind placeholders and
// pick the right DDL.
type Store struct {
	DB      *sql.DB
	dialect Dialect
}

// Open connects to PostgreSQL, configures the pool the way the teacher's
// storage manager does, and runs the startup migration.
func Open(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{DB: db, dialect: Postgres}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteForTests opens a pure-Go sqlite database (":memory:" or a file
// path) with foreign keys enabled, and runs the sqlite-dialect migration.
// It exists only so persistence-layer tests can exercise real transactions
// without a Postgres instance.
func OpenSQLiteForTests(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// A single shared connection; sqlite serializes writers anyway
	// and tests expect to see what they just wrote.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{DB: db, dialect: SQLite}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// rebind rewrites a query written with "?" placeholders into the dialect's
// native placeholder style ("$1", "$2", ... for Postgres, unchanged for
// sqlite). Keeping queries source in one placeholder style lets the same
// SQL text serve both engines, the way sqlx's Rebind does.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExecContext runs a rebound statement.
func (s *Store) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.DB.ExecContext(ctx, s.rebind(query), args...)
}

// QueryContext runs a rebound query.
func (s *Store) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.DB.QueryContext(ctx, s.rebind(query), args...)
}

// QueryRowContext runs a rebound single-row query.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.DB.QueryRowContext(ctx, s.rebind(query), args...)
}

// Tx is a rebinding wrapper around *sql.Tx, handed to the scope function
// passed to WithTx.
type Tx struct {
	tx      *sql.Tx
	rebind  func(string) string
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.rebind(query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.rebind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.rebind(query), args...)
}

// WithTx runs fn inside a transaction: commits on a nil return, rolls back
// otherwise. Transactions are short — no user-facing I/O happens inside
// fn (spec §4.1).
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx, rebind: s.rebind}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
