package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

// migrations holds the embedded safeguard_approvals/safeguard_deferred_actions
// schema files, applied in filename order on every New().
//
//go:embed migrations/*.sql
var migrations embed.FS

// migrate brings db up to the highest embedded schema version, recording
// each applied step in schema_version so New() is idempotent across
// restarts.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`,
	).Scan(&applied); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	steps, err := pendingSteps(applied)
	if err != nil {
		return fmt.Errorf("enumerate migrations: %w", err)
	}

	for _, step := range steps {
		if err := runStep(ctx, db, step); err != nil {
			return fmt.Errorf("apply migration %03d: %w", step.version, err)
		}
	}
	return nil
}

// step pairs an embedded migration file with the version number parsed out
// of its NNN_ prefix.
type step struct {
	version int
	name    string
}

// pendingSteps returns every embedded migration newer than applied,
// ordered by version ascending.
func pendingSteps(applied int) ([]step, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var out []step
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		var ver int
		if _, err := fmt.Sscanf(e.Name(), "%03d_", &ver); err != nil {
			continue
		}
		if ver <= applied {
			continue
		}
		out = append(out, step{version: ver, name: e.Name()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// runStep executes one migration file and its schema_version bookkeeping
// insert inside a single transaction, so a mid-file failure leaves the
// prior version recorded rather than a half-applied schema.
func runStep(ctx context.Context, db *sql.DB, s step) error {
	sqlText, err := migrations.ReadFile("migrations/" + s.name)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(sqlText)); err != nil {
		return fmt.Errorf("exec %s: %w", s.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		s.version,
	); err != nil {
		return fmt.Errorf("record version %d: %w", s.version, err)
	}

	return tx.Commit()
}
