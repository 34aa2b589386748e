package store

import (
	"context"
	"encoding/json"
	"time"
)

// ApprovalStore manages safeguard_approvals rows. Every state-changing
// method here is a single guarded conditional SQL statement per spec §5 —
// no read-then-write across two round trips, so concurrent callers racing
// the same row are resolved by the database, not application logic.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, a *ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*ApprovalRequest, error)
	ListPendingApprovals(ctx context.Context, limit int, now time.Time) ([]ApprovalRequest, error)

	// ApproveApproval atomically transitions id from pending to approved,
	// guarded by `WHERE id = $1 AND status = 'pending' AND expires_at > $now`.
	// Returns the updated row, or safeguard.ErrNotFound if no row matched
	// the guard (caller must re-fetch to tell missing / already-resolved /
	// expired apart, per spec §4.1).
	ApproveApproval(ctx context.Context, id, approver, comment string, now time.Time) (*ApprovalRequest, error)

	// RejectApproval is the reject-side analogue of ApproveApproval.
	RejectApproval(ctx context.Context, id, approver, comment string, now time.Time) (*ApprovalRequest, error)

	// ExpireApproval flips a single pending row to expired, guarded by
	// `WHERE id = $1 AND status = 'pending'`. Used when an operation
	// observes expiry mid-flight (spec §4.1 step: "set status=expired").
	ExpireApproval(ctx context.Context, id string, now time.Time) error

	// ExpireOldApprovals is the bulk sweep: `WHERE status='pending' AND
	// expires_at < now`. Returns the number of rows flipped.
	ExpireOldApprovals(ctx context.Context, now time.Time) (int, error)

	MarkApprovalExecuted(ctx context.Context, id string, result json.RawMessage, execErr string, now time.Time) error
}

// DeferredStore manages safeguard_deferred_actions rows.
type DeferredStore interface {
	// CountDeferredActionsForYear implements the COUNT step of
	// next_deferred_id (spec §4.2); callers retry CreateDeferredAction on a
	// uniqueness violation with an incremented count.
	CountDeferredActionsForYear(ctx context.Context, year int) (int, error)

	// CreateDeferredAction inserts a new row. Returns
	// store.ErrAlreadyExists if deferred_id collides with an existing
	// row (unique constraint), so the caller can retry with the next count.
	CreateDeferredAction(ctx context.Context, d *DeferredAction) error

	GetDeferredAction(ctx context.Context, deferredID string) (*DeferredAction, error)
	ListPendingDeferredActions(ctx context.Context, limit int) ([]DeferredAction, error)
	GetDueDeferredActions(ctx context.Context, now time.Time) ([]DeferredAction, error)

	// CancelDeferredAction is a guarded conditional update:
	// `WHERE deferred_id = $1 AND status = 'pending'`.
	CancelDeferredAction(ctx context.Context, deferredID, cancelledBy, reason string, now time.Time) (*DeferredAction, error)

	MarkDeferredExecuted(ctx context.Context, deferredID string, result json.RawMessage, execErr string, now time.Time) error

	DeferredStats(ctx context.Context) (*DeferredStats, error)
}

// Store is the composite interface for all relational data access (E2).
type Store interface {
	ApprovalStore
	DeferredStore
	Ping(ctx context.Context) error
	Close() error
}
