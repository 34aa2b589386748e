// Package approval implements C1, the Approval Queue (spec.md §4.1): the
// lifecycle of pending approval requests and their redaction/merge with the
// secret keystore. Grounded on the teacher's internal/approval/manager.go,
// but reshaped from a blocking wait-for-resolution gate into the spec's
// async request/approve/reject flow — there is no in-process channel
// waiting on a decision here, since an operator resolves requests on their
// own schedule, not within the lifetime of a single call.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/revittco/safeguard/internal/keystore"
	"github.com/revittco/safeguard/internal/metrics"
	"github.com/revittco/safeguard/internal/redact"
	"github.com/revittco/safeguard/internal/safeguard"
	"github.com/revittco/safeguard/internal/store"
)

// Manager coordinates approval requests against E2 (store.ApprovalStore)
// and E1 (keystore.Keystore).
type Manager struct {
	store    store.ApprovalStore
	keystore keystore.Keystore
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager builds a Manager. A nil logger defaults to slog.Default().
func NewManager(s store.ApprovalStore, ks keystore.Keystore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: s, keystore: ks, log: logger}
}

// SetMetrics attaches the prometheus counters this Manager increments as it
// processes requests. Optional: a Manager with no metrics attached simply
// skips the increments, so existing callers (and every test in this
// package) need no change.
func (m *Manager) SetMetrics(mx *metrics.Metrics) {
	m.metrics = mx
}

// PendingView is a pending ApprovalRequest augmented with the
// time_remaining_seconds field list_pending adds per spec §4.1.
type PendingView struct {
	store.ApprovalRequest
	TimeRemainingSeconds int64
}

// Create runs the four-step algorithm of spec §4.1's create(): redact,
// secure the extracted secrets in E1 ahead of the E2 insert, then insert
// the redacted row. ttlMinutes is a pointer so an explicit 0 (immediate
// expiry, exercised by the boundary test in spec §8) can be distinguished
// from "not provided" (defaults to safeguard.DefaultTTLMinutes).
func (m *Manager) Create(
	ctx context.Context,
	toolName string,
	args map[string]any,
	level safeguard.Level,
	requesterIP string,
	reqContext map[string]any,
	ttlMinutes *int,
) (*store.ApprovalRequest, error) {
	ttl := safeguard.DefaultTTLMinutes
	if ttlMinutes != nil {
		ttl = *ttlMinutes
	}

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(ttl) * time.Minute)

	redacted, secrets := redact.ExtractSensitiveFields(args)
	hasSecrets := len(secrets) > 0
	id := uuid.NewString()

	// E1 write precedes the E2 insert: a crash between them only ever
	// leaves orphan secrets in E1 (TTL-collected), never an E2 row
	// pointing at an absent envelope.
	if hasSecrets {
		ttlSeconds := time.Duration(ttl)*time.Minute + safeguard.SecretTTLGrace
		if err := m.keystore.StoreSecret(ctx, keystore.ApprovalKey(id), secrets, ttlSeconds); err != nil {
			return nil, fmt.Errorf("secure secret envelope: %w", err)
		}
		m.log.Info("safeguard_secrets_secured",
			"approval_id", shortID(id), "secrets_count", len(secrets))
	}

	a := &store.ApprovalRequest{
		ID:            id,
		ToolName:      toolName,
		Arguments:     redacted,
		SecurityLevel: level,
		RequesterIP:   requesterIP,
		Context:       reqContext,
		Status:        safeguard.ApprovalPending,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	if err := m.store.CreateApproval(ctx, a); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}

	// has_redacted_secrets reflects the pre-insert redaction decision, not
	// a storage read-back — matching the original's RETURNING-without-
	// reread behaviour (see DESIGN.md).
	m.log.Info("safeguard_approval_created",
		"approval_id", a.ID, "tool_name", toolName,
		"expires_at", expiresAt, "has_redacted_secrets", hasSecrets)
	if m.metrics != nil {
		m.metrics.ApprovalsCreated.Inc()
	}

	return a, nil
}

// Get returns the full detail view of a single approval request.
func (m *Manager) Get(ctx context.Context, id string) (*store.ApprovalRequest, error) {
	return m.store.GetApproval(ctx, id)
}

// ListPending returns pending, unexpired requests newest-first, each
// augmented with time_remaining_seconds (spec §4.1).
func (m *Manager) ListPending(ctx context.Context, limit int) ([]PendingView, error) {
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	rows, err := m.store.ListPendingApprovals(ctx, limit, now)
	if err != nil {
		return nil, err
	}

	out := make([]PendingView, len(rows))
	for i, r := range rows {
		out[i] = PendingView{
			ApprovalRequest:      r,
			TimeRemainingSeconds: int64(r.TimeRemaining(now).Seconds()),
		}
	}
	return out, nil
}

// Approve guards the pending→approved transition (spec §4.1 approve()).
// The initial Get is only there to produce the right error category for
// the common case; the race itself is resolved by store.ApproveApproval's
// single guarded UPDATE, so a concurrent loser always sees InvalidState
// regardless of what this Get observed.
func (m *Manager) Approve(ctx context.Context, id, approver, comment string) (*store.ApprovalRequest, error) {
	now := time.Now().UTC()

	a, err := m.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != safeguard.ApprovalPending {
		return nil, safeguard.ErrInvalidState
	}
	if now.After(a.ExpiresAt) {
		if expErr := m.store.ExpireApproval(ctx, id, now); expErr != nil && !errors.Is(expErr, safeguard.ErrNotFound) {
			m.log.Warn("failed to flip expired approval", "approval_id", id, "err", expErr)
		}
		return nil, safeguard.ErrExpired
	}

	updated, err := m.store.ApproveApproval(ctx, id, approver, comment, now)
	if err != nil {
		if errors.Is(err, safeguard.ErrNotFound) {
			return nil, safeguard.ErrInvalidState
		}
		return nil, err
	}

	m.log.Info("safeguard_approved",
		"approval_id", id, "tool_name", updated.ToolName, "approver", approver)
	if m.metrics != nil {
		m.metrics.ApprovalsApproved.Inc()
	}
	return updated, nil
}

// Reject is the single-conditional-update reject() path of spec §4.1: no
// read-then-write, just one guarded UPDATE.
func (m *Manager) Reject(ctx context.Context, id, approver, comment string) (*store.ApprovalRequest, error) {
	now := time.Now().UTC()

	updated, err := m.store.RejectApproval(ctx, id, approver, comment, now)
	if err != nil {
		if errors.Is(err, safeguard.ErrNotFound) {
			// Distinguish missing from already-resolved for the caller.
			if _, getErr := m.store.GetApproval(ctx, id); errors.Is(getErr, safeguard.ErrNotFound) {
				return nil, safeguard.ErrNotFound
			}
			return nil, safeguard.ErrInvalidState
		}
		return nil, err
	}

	m.log.Info("safeguard_rejected",
		"approval_id", id, "tool_name", updated.ToolName, "approver", approver)
	if m.metrics != nil {
		m.metrics.ApprovalsRejected.Inc()
	}
	return updated, nil
}

// MarkExecuted records the terminal outcome of an approved request once the
// executor has run it.
func (m *Manager) MarkExecuted(ctx context.Context, id string, result json.RawMessage, execErr string) error {
	return m.store.MarkApprovalExecuted(ctx, id, result, execErr, time.Now().UTC())
}

// ExpireOld is the bulk sweep side of spec §4.1's expire_old(): a single
// conditional UPDATE, idempotent by construction.
func (m *Manager) ExpireOld(ctx context.Context) (int, error) {
	n, err := m.store.ExpireOldApprovals(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.log.Info("safeguard_expired_requests", "count", n)
		if m.metrics != nil {
			m.metrics.ApprovalsExpired.Add(float64(n))
		}
	}
	return n, nil
}

// GetFullArguments reconstitutes the original arguments by merging the
// secret envelope back into the redacted row (spec §4.1 get_full_arguments).
// Callers are responsible for only invoking this post-approval.
func (m *Manager) GetFullArguments(ctx context.Context, id string) (map[string]any, error) {
	a, err := m.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}

	secrets, ok, err := m.keystore.GetSecret(ctx, keystore.ApprovalKey(id))
	if err != nil {
		return nil, fmt.Errorf("fetch secret envelope: %w", err)
	}
	if !ok {
		return a.Arguments, nil
	}

	redact.MergeSecrets(a.Arguments, secrets)
	return a.Arguments, nil
}

// CleanupSecrets deletes the secret envelope for id. Per spec §3's
// ownership note, the executor is the sole caller of this once it has
// finished consuming get_full_arguments' result.
func (m *Manager) CleanupSecrets(ctx context.Context, id string) (bool, error) {
	return m.keystore.DeleteSecret(ctx, keystore.ApprovalKey(id))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
