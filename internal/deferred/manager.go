// Package deferred implements C2, the Deferred Action Manager (spec.md
// §4.2): the lifecycle of approved actions waiting out a level-dependent
// delay before execution, with a cancellation window and year-scoped
// human-friendly identifier allocation. Grounded on the shape of
// internal/approval's Manager, which in turn is grounded on the teacher's
// internal/approval/manager.go.
package deferred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/revittco/safeguard/internal/metrics"
	"github.com/revittco/safeguard/internal/safeguard"
	"github.com/revittco/safeguard/internal/store"
)

// maxIDRetries bounds the retry loop next_deferred_id's count-then-insert
// race runs under concurrent creation within the same year (spec §4.2:
// "bounded retries, ≥8").
const maxIDRetries = 8

// Manager coordinates DeferredAction rows against E2 (store.DeferredStore).
type Manager struct {
	store   store.DeferredStore
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewManager builds a Manager. A nil logger defaults to slog.Default().
func NewManager(s store.DeferredStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, log: logger}
}

// SetMetrics attaches the prometheus counters this Manager increments as it
// processes actions. Optional: a Manager with no metrics attached simply
// skips the increments.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// PendingView is a pending DeferredAction augmented with
// time_until_execution (spec §4.2 list_pending).
type PendingView struct {
	store.DeferredAction
	TimeUntilExecutionSeconds int64
}

// Create persists a pending deferred action scheduled delayHours (or the
// level's default, via safeguard.DelayHoursFor) from now, allocating its
// DEF-YYYY-NNN identifier under the unique-constraint-plus-retry strategy
// spec §4.2 mandates.
func (m *Manager) Create(
	ctx context.Context,
	approvalID, toolName string,
	params map[string]any,
	level safeguard.Level,
	approvedBy, approvalComment string,
	reqContext map[string]any,
	delayHours *int,
) (*store.DeferredAction, error) {
	delay := safeguard.DelayHoursFor(level)
	if delayHours != nil {
		delay = *delayHours
	}

	now := time.Now().UTC()
	scheduledAt := now.Add(time.Duration(delay) * time.Hour)

	var lastErr error
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id, err := m.nextDeferredID(ctx, now.Year())
		if err != nil {
			return nil, fmt.Errorf("allocate deferred id: %w", err)
		}

		d := &store.DeferredAction{
			DeferredID:      id,
			ApprovalID:      approvalID,
			ToolName:        toolName,
			Parameters:      params,
			SecurityLevel:   level,
			DelayHours:      delay,
			ScheduledAt:     scheduledAt,
			Status:          safeguard.DeferredPending,
			ApprovedBy:      approvedBy,
			ApprovedAt:      now,
			ApprovalComment: approvalComment,
			Context:         reqContext,
			CreatedAt:       now,
		}

		err = m.store.CreateDeferredAction(ctx, d)
		if err == nil {
			m.log.Info("deferred_action_created",
				"deferred_id", id, "approval_id", approvalID, "tool_name", toolName,
				"scheduled_at", scheduledAt, "delay_hours", delay)
			if m.metrics != nil {
				m.metrics.DeferredCreated.Inc()
			}
			return d, nil
		}
		if !errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("create deferred action: %w", err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: deferred id allocation exhausted %d retries: %v",
		safeguard.ErrConflict, maxIDRetries, lastErr)
}

// nextDeferredID implements spec §4.2's next_deferred_id(): count existing
// rows for the year and propose the next zero-padded slot. The caller
// retries on a unique-constraint collision.
func (m *Manager) nextDeferredID(ctx context.Context, year int) (string, error) {
	n, err := m.store.CountDeferredActionsForYear(ctx, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DEF-%04d-%03d", year, n+1), nil
}

// Get returns the full detail view of a single deferred action.
func (m *Manager) Get(ctx context.Context, deferredID string) (*store.DeferredAction, error) {
	return m.store.GetDeferredAction(ctx, deferredID)
}

// ListPending returns pending rows ordered by scheduled_at ascending, each
// augmented with time_until_execution (spec §4.2).
func (m *Manager) ListPending(ctx context.Context, limit int) ([]PendingView, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := m.store.ListPendingDeferredActions(ctx, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]PendingView, len(rows))
	for i, r := range rows {
		out[i] = PendingView{
			DeferredAction:            r,
			TimeUntilExecutionSeconds: int64(r.TimeUntilExecution(now).Seconds()),
		}
	}
	return out, nil
}

// GetDue returns pending rows whose scheduled_at has passed, oldest first.
// No status change happens here: MarkExecuted records the outcome once the
// action has been dispatched (internal/sweeper calls it with the executor's
// result) (spec §4.2 get_due()).
func (m *Manager) GetDue(ctx context.Context) ([]store.DeferredAction, error) {
	return m.store.GetDueDeferredActions(ctx, time.Now().UTC())
}

// Cancel guards the pending→cancelled transition with a single conditional
// update; reject any non-pending row with InvalidState (spec §4.2 cancel()).
func (m *Manager) Cancel(ctx context.Context, deferredID, cancelledBy, reason string) (*store.DeferredAction, error) {
	now := time.Now().UTC()
	updated, err := m.store.CancelDeferredAction(ctx, deferredID, cancelledBy, reason, now)
	if err != nil {
		if errors.Is(err, safeguard.ErrNotFound) {
			if _, getErr := m.store.GetDeferredAction(ctx, deferredID); errors.Is(getErr, safeguard.ErrNotFound) {
				return nil, safeguard.ErrNotFound
			}
			return nil, safeguard.ErrInvalidState
		}
		return nil, err
	}

	m.log.Info("deferred_action_cancelled",
		"deferred_id", deferredID, "tool_name", updated.ToolName,
		"cancelled_by", cancelledBy, "reason", reason)
	if m.metrics != nil {
		m.metrics.DeferredCancelled.Inc()
	}
	return updated, nil
}

// MarkExecuted records the terminal outcome once the executor has run a due
// action; status becomes executed when execErr is empty, failed otherwise.
// Per spec §8 scenario S4, calling this on an already-terminal row (e.g.
// cancelled in the meantime) is a no-op, not an error.
func (m *Manager) MarkExecuted(ctx context.Context, deferredID string, result json.RawMessage, execErr string) error {
	now := time.Now().UTC()
	if err := m.store.MarkDeferredExecuted(ctx, deferredID, result, execErr, now); err != nil {
		if errors.Is(err, safeguard.ErrNotFound) {
			return nil
		}
		return err
	}

	status := safeguard.DeferredExecuted
	if execErr != "" {
		status = safeguard.DeferredFailed
	}
	m.log.Info("deferred_action_executed",
		"deferred_id", deferredID, "status", status, "has_error", execErr != "")
	if m.metrics != nil {
		if status == safeguard.DeferredFailed {
			m.metrics.DeferredFailed.Inc()
		} else {
			m.metrics.DeferredExecuted.Inc()
		}
	}
	return nil
}

// Stats returns counts grouped by status, with every safeguard.DeferredStatus
// value pre-seeded at zero (spec §4.2 stats()).
func (m *Manager) Stats(ctx context.Context) (*store.DeferredStats, error) {
	return m.store.DeferredStats(ctx)
}
