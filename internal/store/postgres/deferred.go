package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/revittco/safeguard/internal/safeguard"
	"github.com/revittco/safeguard/internal/store"
)

func (d *DB) CountDeferredActionsForYear(ctx context.Context, year int) (int, error) {
	var n int
	err := d.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM safeguard_deferred_actions
		WHERE deferred_id LIKE $1`,
		fmt.Sprintf("DEF-%04d-%%", year),
	).Scan(&n)
	return n, err
}

func (d *DB) CreateDeferredAction(ctx context.Context, a *store.DeferredAction) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = safeguard.DeferredPending
	}

	params, err := encodeJSON(a.Parameters)
	if err != nil {
		return err
	}
	context, err := encodeJSON(a.Context)
	if err != nil {
		return err
	}

	_, err = d.q.ExecContext(ctx, `
		INSERT INTO safeguard_deferred_actions
			(deferred_id, approval_id, tool_name, parameters, security_level,
			 delay_hours, scheduled_at, status, approved_by, approved_at,
			 approval_comment, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.DeferredID, a.ApprovalID, a.ToolName, params, string(a.SecurityLevel),
		a.DelayHours, a.ScheduledAt, string(a.Status), a.ApprovedBy, a.ApprovedAt,
		a.ApprovalComment, context, a.CreatedAt,
	)
	return mapConstraintError(err)
}

func (d *DB) GetDeferredAction(ctx context.Context, deferredID string) (*store.DeferredAction, error) {
	row := d.q.QueryRowContext(ctx, deferredSelect+` WHERE deferred_id = $1`, deferredID)
	a, err := scanDeferred(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) ListPendingDeferredActions(ctx context.Context, limit int) ([]store.DeferredAction, error) {
	rows, err := d.q.QueryContext(ctx,
		deferredSelect+` WHERE status = 'pending' ORDER BY scheduled_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeferredRows(rows)
}

func (d *DB) GetDueDeferredActions(ctx context.Context, now time.Time) ([]store.DeferredAction, error) {
	rows, err := d.q.QueryContext(ctx,
		deferredSelect+` WHERE status = 'pending' AND scheduled_at <= $1 ORDER BY scheduled_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeferredRows(rows)
}

func (d *DB) CancelDeferredAction(ctx context.Context, deferredID, cancelledBy, reason string, now time.Time) (*store.DeferredAction, error) {
	row := d.q.QueryRowContext(ctx, `
		UPDATE safeguard_deferred_actions
		SET status = $1, cancelled_by = $2, cancellation_reason = $3, cancelled_at = $4
		WHERE deferred_id = $5 AND status = 'pending'
		RETURNING `+deferredColumns,
		string(safeguard.DeferredCancelled), cancelledBy, reason, now, deferredID,
	)
	a, err := scanDeferred(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) MarkDeferredExecuted(ctx context.Context, deferredID string, result json.RawMessage, execErr string, now time.Time) error {
	status := safeguard.DeferredExecuted
	if execErr != "" {
		status = safeguard.DeferredFailed
	}
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_deferred_actions
		SET status = $1, executed_at = $2, execution_result = $3, execution_error = $4
		WHERE deferred_id = $5 AND status = 'pending'`,
		string(status), now, normalizeNullableJSON(result), execErr, deferredID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) DeferredStats(ctx context.Context) (*store.DeferredStats, error) {
	stats := &store.DeferredStats{Counts: map[safeguard.DeferredStatus]int{}}
	for _, s := range safeguard.AllDeferredStatuses {
		stats.Counts[s] = 0
	}

	rows, err := d.q.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM safeguard_deferred_actions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Counts[safeguard.DeferredStatus(status)] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

const deferredColumns = `
	deferred_id, approval_id, tool_name, parameters, security_level,
	delay_hours, scheduled_at, status, approved_by, approved_at,
	approval_comment, cancelled_by, cancelled_at, cancellation_reason,
	executed_at, execution_result, execution_error, context, created_at`

const deferredSelect = `SELECT` + deferredColumns + ` FROM safeguard_deferred_actions`

func scanDeferred(row rowScanner) (*store.DeferredAction, error) {
	var a store.DeferredAction
	var parameters, securityLevel, status, context string
	var cancelledAt, executedAt sql.NullTime
	var executionResult sql.NullString

	err := row.Scan(
		&a.DeferredID, &a.ApprovalID, &a.ToolName, &parameters, &securityLevel,
		&a.DelayHours, &a.ScheduledAt, &status, &a.ApprovedBy, &a.ApprovedAt,
		&a.ApprovalComment, &a.CancelledBy, &cancelledAt, &a.CancellationReason,
		&executedAt, &executionResult, &a.ExecutionError, &context, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if a.Parameters, err = decodeJSONObject(parameters); err != nil {
		return nil, err
	}
	if a.Context, err = decodeJSONObject(context); err != nil {
		return nil, err
	}
	a.SecurityLevel = safeguard.Level(securityLevel)
	a.Status = safeguard.DeferredStatus(status)
	if cancelledAt.Valid {
		t := cancelledAt.Time
		a.CancelledAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		a.ExecutedAt = &t
	}
	if executionResult.Valid {
		a.ExecutionResult = json.RawMessage(executionResult.String)
	}
	return &a, nil
}

func scanDeferredRows(rows *sql.Rows) ([]store.DeferredAction, error) {
	var out []store.DeferredAction
	for rows.Next() {
		a, err := scanDeferred(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
