package postgres

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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ToolName, args, string(a.SecurityLevel), a.RequesterIP, context,
		string(a.Status), a.CreatedAt, a.ExpiresAt,
	)
	return mapConstraintError(err)
}

func (d *DB) GetApproval(ctx context.Context, id string) (*store.ApprovalRequest, error) {
	row := d.q.QueryRowContext(ctx, approvalSelect+` WHERE id = $1`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) ListPendingApprovals(ctx context.Context, limit int, now time.Time) ([]store.ApprovalRequest, error) {
	rows, err := d.q.QueryContext(ctx,
		approvalSelect+` WHERE status = 'pending' AND expires_at > $1 ORDER BY created_at DESC LIMIT $2`,
		now, limit)
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
	row := d.q.QueryRowContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1, approver = $2, approval_comment = $3, approved_at = $4
		WHERE id = $5 AND status = 'pending' AND expires_at > $6
		RETURNING `+approvalColumns,
		string(safeguard.ApprovalApproved), approver, comment, now, id, now,
	)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) RejectApproval(ctx context.Context, id, approver, comment string, now time.Time) (*store.ApprovalRequest, error) {
	row := d.q.QueryRowContext(ctx, `
		UPDATE safeguard_approvals
		SET status = $1, approver = $2, approval_comment = $3, approved_at = $4
		WHERE id = $5 AND status = 'pending' AND expires_at > $6
		RETURNING `+approvalColumns,
		string(safeguard.ApprovalRejected), approver, comment, now, id, now,
	)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, safeguard.ErrNotFound
	}
	return a, err
}

func (d *DB) ExpireApproval(ctx context.Context, id string, now time.Time) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals SET status = $1
		WHERE id = $2 AND status = 'pending'`,
		string(safeguard.ApprovalExpired), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) ExpireOldApprovals(ctx context.Context, now time.Time) (int, error) {
	res, err := d.q.ExecContext(ctx, `
		UPDATE safeguard_approvals SET status = $1
		WHERE status = 'pending' AND expires_at < $2`,
		string(safeguard.ApprovalExpired), now,
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
		SET status = $1, executed_at = $2, execution_result = $3, execution_error = $4
		WHERE id = $5`,
		string(status), now, normalizeNullableJSON(result), execErr, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

const approvalColumns = `
	id, tool_name, arguments, security_level, requester_ip, context,
	status, created_at, expires_at, approved_at, executed_at,
	approver, approval_comment, execution_result, execution_error`

const approvalSelect = `SELECT` + approvalColumns + ` FROM safeguard_approvals`

func scanApproval(row rowScanner) (*store.ApprovalRequest, error) {
	var a store.ApprovalRequest
	var arguments, context, securityLevel, status string
	var approvedAt, executedAt sql.NullTime
	var executionResult sql.NullString

	err := row.Scan(
		&a.ID, &a.ToolName, &arguments, &securityLevel, &a.RequesterIP, &context,
		&status, &a.CreatedAt, &a.ExpiresAt, &approvedAt, &executedAt,
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
	if approvedAt.Valid {
		t := approvedAt.Time
		a.ApprovedAt = &t
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
