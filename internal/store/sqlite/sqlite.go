// Package sqlite is the default/dev E2 backend: a single-file
// modernc.org/sqlite database holding safeguard_approvals and
// safeguard_deferred_actions, migrated on open.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/revittco/safeguard/internal/store"
	_ "modernc.org/sqlite"
)

var _ store.Store = (*DB)(nil)

// queryable abstracts *sql.DB and *sql.Tx so the per-entity query code in
// approval.go/deferred.go works unchanged whether or not it is running
// inside Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the SQLite-backed store.Store implementation.
type DB struct {
	db *sql.DB
	q  queryable // db itself, or the *sql.Tx of an in-flight Tx call
}

// New opens path (creating it if absent), enables WAL journaling with a 5s
// busy timeout, and brings the schema up to date. All queries share the
// single connection configured below, so reads and writes from the managers
// and the sweeper run one at a time.
func New(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc.org/sqlite serializes internally; a single connection avoids
	// "database is locked" errors under SetMaxOpenConns > 1.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{db: db, q: db}, nil
}

// Ping checks database connectivity, for the composition root's
// readiness probe.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Tx runs fn against a DB whose queries are scoped to a single transaction,
// committing on a nil return and rolling back otherwise. Nothing in
// internal/approval or internal/deferred needs cross-table atomicity today
// (every state transition is already a single guarded UPDATE), but callers
// composing the two managers (e.g. approve-then-schedule) can reach for
// this to make that composition atomic too.
func (d *DB) Tx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&DB{db: d.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}
