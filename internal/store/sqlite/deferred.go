package sqlite

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
		WHERE deferred_id LIKE ?`,
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.DeferredID, a.ApprovalID, a.ToolName, params, string(a.SecurityLevel),
		a.DelayHours, formatTime(a.ScheduledAt), string(a.Status), a.ApprovedBy,
		formatTime(a.ApprovedAt), a.ApprovalComment, context, formatTime(a.CreatedAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetDeferredAction(ctx context.Context, deferredID string) (*store.DeferredAction, error) {
	row := d.q.QueryRowContext(ctx, deferredSelect+` WHERE deferred_id = ?`, deferredID)
	a, err := scanDeferred(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) ListPendingDeferredActions(ctx context.Context, limit int) ([]store.DeferredAction, error) {
	rows, err := d.q.QueryContext(ctx,
		deferredSelect+` WHERE status = 'pending' ORDER BY scheduled_at ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeferredRows(rows)
}

func (d *DB) GetDueDeferredActions(ctx context.Context, now time.Time) ([]store.DeferredAction, error) {
	rows, err := d.q.QueryContext(ctx,
		deferredSelect+` WHERE status = 'pending' AND scheduled_at <= ? ORDER BY scheduled_at ASC`,
		formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDeferredRows(rows)
}

func (d *DB) CancelDeferredAction(ctx context.Context, deferredID, cancelledBy, reason string, now time.Time) (*store.DeferredAction, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_deferred_actions
		SET status = ?, cancelled_by = ?, cancellation_reason = ?, cancelled_at = ?
		WHERE deferred_id = ? AND status = 'pending'`,
		string(safeguard.DeferredCancelled), cancelledBy, reason, formatTime(now),
		deferredID,
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return d.GetDeferredAction(ctx, deferredID)
}

func (d *DB) MarkDeferredExecuted(ctx context.Context, deferredID string, result json.RawMessage, execErr string, now time.Time) error {
	status := safeguard.DeferredExecuted
	if execErr != "" {
		status = safeguard.DeferredFailed
	}
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_deferred_actions
		SET status = ?, executed_at = ?, execution_result = ?, execution_error = ?
		WHERE deferred_id = ? AND status = 'pending'`,
		string(status), formatTime(now), normalizeNullableJSON(result), execErr, deferredID,
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

const deferredSelect = `
	SELECT deferred_id, approval_id, tool_name, parameters, security_level,
	       delay_hours, scheduled_at, status, approved_by, approved_at,
	       approval_comment, cancelled_by, cancelled_at, cancellation_reason,
	       executed_at, execution_result, execution_error, context, created_at
	FROM safeguard_deferred_actions`

func scanDeferred(row rowScanner) (*store.DeferredAction, error) {
	var a store.DeferredAction
	var parameters, securityLevel, scheduledAt, status, approvedAt, context, createdAt string
	var cancelledAt, executedAt *string
	var executionResult *string

	err := row.Scan(
		&a.DeferredID, &a.ApprovalID, &a.ToolName, &parameters, &securityLevel,
		&a.DelayHours, &scheduledAt, &status, &a.ApprovedBy, &approvedAt,
		&a.ApprovalComment, &a.CancelledBy, &cancelledAt, &a.CancellationReason,
		&executedAt, &executionResult, &a.ExecutionError, &context, &createdAt,
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
	a.ScheduledAt = parseTime(scheduledAt)
	a.ApprovedAt = parseTime(approvedAt)
	a.CreatedAt = parseTime(createdAt)
	a.CancelledAt = parseTimePtr(cancelledAt)
	a.ExecutedAt = parseTimePtr(executedAt)
	if executionResult != nil {
		a.ExecutionResult = json.RawMessage(*executionResult)
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
