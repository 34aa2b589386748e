package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/revittco/safeguard/internal/safeguard"
	"github.com/revittco/safeguard/internal/store"
)

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...any) error
}

func (d *DB) CreateApproval(ctx context.Context, a *store.ApprovalRequest) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = safeguard.ApprovalPending
	}

	args, err := encodeJSON(a.Arguments)
	if err != nil {
		return err
	}
	context, err := encodeJSON(a.Context)
	if err != nil {
		return err
	}

	_, err = d.q.ExecContext(ctx, `
		INSERT INTO safeguard_approvals
			(id, tool_name, arguments, security_level, requester_ip, context,
			 status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ToolName, args, string(a.SecurityLevel), a.RequesterIP, context,
		string(a.Status), formatTime(a.CreatedAt), formatTime(a.ExpiresAt),
	)
	return mapConstraintError(err)
}

func (d *DB) GetApproval(ctx context.Context, id string) (*store.ApprovalRequest, error) {
	row := d.q.QueryRowContext(ctx, approvalSelect+` WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) ListPendingApprovals(ctx context.Context, limit int, now time.Time) ([]store.ApprovalRequest, error) {
	rows, err := d.q.QueryContext(ctx,
		approvalSelect+` WHERE status = 'pending' AND expires_at > ? ORDER BY created_at DESC LIMIT ?`,
		formatTime(now), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ApprovalRequest
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (d *DB) ApproveApproval(ctx context.Context, id, approver, comment string, now time.Time) (*store.ApprovalRequest, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = ?, approver = ?, approval_comment = ?, approved_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		string(safeguard.ApprovalApproved), approver, comment, formatTime(now),
		id, formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return d.GetApproval(ctx, id)
}

func (d *DB) RejectApproval(ctx context.Context, id, approver, comment string, now time.Time) (*store.ApprovalRequest, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = ?, approver = ?, approval_comment = ?, approved_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`,
		string(safeguard.ApprovalRejected), approver, comment, formatTime(now),
		id, formatTime(now),
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res); err != nil {
		return nil, err
	}
	return d.GetApproval(ctx, id)
}

func (d *DB) ExpireApproval(ctx context.Context, id string, now time.Time) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = ?
		WHERE id = ? AND status = 'pending'`,
		string(safeguard.ApprovalExpired), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) ExpireOldApprovals(ctx context.Context, now time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = ?
		WHERE status = 'pending' AND expires_at < ?`,
		string(safeguard.ApprovalExpired), formatTime(now),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (d *DB) MarkApprovalExecuted(ctx context.Context, id string, result json.RawMessage, execErr string, now time.Time) error {
	status := safeguard.ApprovalExecuted
	if execErr != "" {
		status = safeguard.ApprovalFailed
	}
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals
		SET status = ?, executed_at = ?, execution_result = ?, execution_error = ?
		WHERE id = ?`,
		string(status), formatTime(now), normalizeNullableJSON(result), execErr, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

const approvalSelect = `
	SELECT id, tool_name, arguments, security_level, requester_ip, context,
	       status, created_at, expires_at, approved_at, executed_at,
	       approver, approval_comment, execution_result, execution_error
	FROM safeguard_approvals`

func scanApproval(row rowScanner) (*store.ApprovalRequest, error) {
	var a store.ApprovalRequest
	var arguments, context, securityLevel, status, createdAt, expiresAt string
	var approvedAt, executedAt *string
	var executionResult *string

	err := row.Scan(
		&a.ID, &a.ToolName, &arguments, &securityLevel, &a.RequesterIP, &context,
		&status, &createdAt, &expiresAt, &approvedAt, &executedAt,
		&a.Approver, &a.ApprovalComment, &executionResult, &a.ExecutionError,
	)
	if err != nil {
		return nil, err
	}

	if a.Arguments, err = decodeJSONObject(arguments); err != nil {
		return nil, err
	}
	if a.Context, err = decodeJSONObject(context); err != nil {
		return nil, err
	}
	a.SecurityLevel = safeguard.Level(securityLevel)
	a.Status = safeguard.ApprovalStatus(status)
	a.CreatedAt = parseTime(createdAt)
	a.ExpiresAt = parseTime(expiresAt)
	a.ApprovedAt = parseTimePtr(approvedAt)
	a.ExecutedAt = parseTimePtr(executedAt)
	if executionResult != nil {
		a.ExecutionResult = json.RawMessage(*executionResult)
	}
	return &a, nil
}

func normalizeNullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
