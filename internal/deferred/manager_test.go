package deferred

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/revittco/safeguard/internal/safeguard"
	"github.com/revittco/safeguard/internal/store"
)

// memStore is an in-memory store.DeferredStore for tests, with the same
// count-then-insert race exposed as the real backends so the identifier
// allocation contract (spec §4.2, §8 property 5) can be exercised directly.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*store.DeferredAction
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*store.DeferredAction)}
}

func (m *memStore) CountDeferredActionsForYear(_ context.Context, year int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("DEF-%04d-", year)
	n := 0
	for id := range m.rows {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateDeferredAction(_ context.Context, a *store.DeferredAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[a.DeferredID]; exists {
		return store.ErrAlreadyExists
	}
	cp := *a
	m.rows[a.DeferredID] = &cp
	return nil
}

func (m *memStore) GetDeferredAction(_ context.Context, deferredID string) (*store.DeferredAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[deferredID]
	if !ok {
		return nil, safeguard.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListPendingDeferredActions(_ context.Context, limit int) ([]store.DeferredAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DeferredAction
	for _, a := range m.rows {
		if a.Status == safeguard.DeferredPending {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) GetDueDeferredActions(_ context.Context, now time.Time) ([]store.DeferredAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.DeferredAction
	for _, a := range m.rows {
		if a.Status == safeguard.DeferredPending && !a.ScheduledAt.After(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) CancelDeferredAction(_ context.Context, deferredID, cancelledBy, reason string, now time.Time) (*store.DeferredAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[deferredID]
	if !ok || a.Status != safeguard.DeferredPending {
		return nil, safeguard.ErrNotFound
	}
	a.Status = safeguard.DeferredCancelled
	a.CancelledBy = cancelledBy
	a.CancellationReason = reason
	a.CancelledAt = &now
	cp := *a
	return &cp, nil
}

func (m *memStore) MarkDeferredExecuted(_ context.Context, deferredID string, result json.RawMessage, execErr string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[deferredID]
	if !ok || a.Status != safeguard.DeferredPending {
		return safeguard.ErrNotFound
	}
	a.ExecutedAt = &now
	a.ExecutionResult = result
	a.ExecutionError = execErr
	if execErr == "" {
		a.Status = safeguard.DeferredExecuted
	} else {
		a.Status = safeguard.DeferredFailed
	}
	return nil
}

func (m *memStore) DeferredStats(_ context.Context) (*store.DeferredStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.DeferredStats{Counts: map[safeguard.DeferredStatus]int{}}
	for _, s := range safeguard.AllDeferredStatuses {
		stats.Counts[s] = 0
	}
	for _, a := range m.rows {
		stats.Counts[a.Status]++
		stats.Total++
	}
	return stats, nil
}

func TestCreate_AllocatesContiguousIDs(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	const n = 10
	ids := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		d, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL3,
			"alice", "ok", nil, nil)
		require.NoError(t, err)
		ids[d.DeferredID] = true
	}

	year := time.Now().UTC().Year()
	for i := 1; i <= n; i++ {
		want := fmt.Sprintf("DEF-%04d-%03d", year, i)
		require.True(t, ids[want], "missing %s", want)
	}
}

func TestCreate_DefaultDelayFromLevel(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	before := time.Now().UTC()
	d, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL4,
		"alice", "ok", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 48, d.DelayHours)
	require.True(t, d.ScheduledAt.After(before.Add(47*time.Hour)))
}

func TestCreate_DelayHoursZeroIsImmediatelyDue(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	zero := 0
	d, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL3,
		"alice", "ok", nil, &zero)
	require.NoError(t, err)

	due, err := mgr.GetDue(ctx)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, d.DeferredID, due[0].DeferredID)
}

func TestCancel_WindowAndDoubleCancel(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	d, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL3,
		"alice", "ok", nil, nil)
	require.NoError(t, err)

	cancelled, err := mgr.Cancel(ctx, d.DeferredID, "bob", "rollback")
	require.NoError(t, err)
	require.Equal(t, safeguard.DeferredCancelled, cancelled.Status)

	_, err = mgr.Cancel(ctx, d.DeferredID, "bob", "again")
	require.ErrorIs(t, err, safeguard.ErrInvalidState)
}

func TestMarkExecuted_IsNoopOnTerminalStatus(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	d, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL3,
		"alice", "ok", nil, nil)
	require.NoError(t, err)
	_, err = mgr.Cancel(ctx, d.DeferredID, "bob", "rollback")
	require.NoError(t, err)

	err = mgr.MarkExecuted(ctx, d.DeferredID, nil, "")
	require.NoError(t, err)

	got, err := mgr.Get(ctx, d.DeferredID)
	require.NoError(t, err)
	require.Equal(t, safeguard.DeferredCancelled, got.Status)
}

func TestStats_PreSeedsZeroCounts(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL3,
		"alice", "ok", nil, nil)
	require.NoError(t, err)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Counts[safeguard.DeferredPending])
	require.Equal(t, 0, stats.Counts[safeguard.DeferredExecuted])
	require.Equal(t, 0, stats.Counts[safeguard.DeferredCancelled])
	require.Equal(t, 0, stats.Counts[safeguard.DeferredFailed])
}

func TestListPending_AugmentsTimeUntilExecution(t *testing.T) {
	s := newMemStore()
	mgr := NewManager(s, nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "approval-1", "scale_down", nil, safeguard.LevelL3,
		"alice", "ok", nil, nil)
	require.NoError(t, err)

	pending, err := mgr.ListPending(ctx, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Greater(t, pending[0].TimeUntilExecutionSeconds, int64(0))
}
