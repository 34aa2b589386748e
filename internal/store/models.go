// Package store defines E2, the durable relational store described in
// spec.md §3 and §6: the ApprovalRequest and DeferredAction tables plus the
// guarded-conditional-update contract §5 requires of any backend. Two
// backends implement these interfaces: internal/store/sqlite (default/dev)
// and internal/store/postgres (production).
package store

import (
	"encoding/json"
	"time"

	"github.com/revittco/safeguard/internal/safeguard"
)

// ApprovalRequest is a row of safeguard_approvals (spec.md §3).
type ApprovalRequest struct {
	ID              string
	ToolName        string
	Arguments       map[string]any // always redacted
	SecurityLevel   safeguard.Level
	RequesterIP     string
	Context         map[string]any
	Status          safeguard.ApprovalStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ApprovedAt      *time.Time
	ExecutedAt      *time.Time
	Approver        string
	ApprovalComment string
	ExecutionResult json.RawMessage
	ExecutionError  string
}

// TimeRemaining returns max(0, expires_at - now), the time_remaining_seconds
// field list_pending augments each row with (spec.md §4.1).
func (a *ApprovalRequest) TimeRemaining(now time.Time) time.Duration {
	d := a.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsSemanticallyExpired reports whether a pending request is past its TTL
// even if the sweeper hasn't yet written status=expired (spec.md §3 inv. 3).
func (a *ApprovalRequest) IsSemanticallyExpired(now time.Time) bool {
	return a.Status == safeguard.ApprovalPending && now.After(a.ExpiresAt)
}

// DeferredAction is a row of safeguard_deferred_actions (spec.md §3).
type DeferredAction struct {
	DeferredID         string
	ApprovalID         string
	ToolName           string
	Parameters         map[string]any // always redacted
	SecurityLevel      safeguard.Level
	DelayHours         int
	ScheduledAt        time.Time
	Status             safeguard.DeferredStatus
	ApprovedBy         string
	ApprovedAt         time.Time
	ApprovalComment    string
	CancelledBy        string
	CancelledAt        *time.Time
	CancellationReason string
	ExecutedAt         *time.Time
	ExecutionResult    json.RawMessage
	ExecutionError     string
	Context            map[string]any
	CreatedAt          time.Time
}

// IsDue reports whether the action is pending and its fire time has passed
// (spec.md §3 inv. 4).
func (d *DeferredAction) IsDue(now time.Time) bool {
	return d.Status == safeguard.DeferredPending && !d.ScheduledAt.After(now)
}

// TimeUntilExecution returns max(0, scheduled_at - now) while pending, and 0
// once resolved (matches the original's "zero once non-pending" rule).
func (d *DeferredAction) TimeUntilExecution(now time.Time) time.Duration {
	if d.Status != safeguard.DeferredPending {
		return 0
	}
	remaining := d.ScheduledAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DeferredStats is the result of stats(): a count per DeferredStatus plus
// the total across all statuses.
type DeferredStats struct {
	Counts map[safeguard.DeferredStatus]int
	Total  int
}
