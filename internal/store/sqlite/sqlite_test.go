package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/revittco/safeguard/internal/safeguard"
	"github.com/revittco/safeguard/internal/store"
	"github.com/revittco/safeguard/internal/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &store.ApprovalRequest{
		ToolName:      "delete_production_database",
		Arguments:     map[string]any{"db": "prod"},
		SecurityLevel: safeguard.LevelL4,
		RequesterIP:   "10.0.0.5",
		Context:       map[string]any{"session": "s1"},
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := db.CreateApproval(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected ID to be assigned")
	}

	got, err := db.GetApproval(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != safeguard.ApprovalPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}
	if got.Arguments["db"] != "prod" {
		t.Fatalf("arguments = %v", got.Arguments)
	}

	pending, err := db.ListPendingApprovals(ctx, 10, now)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending len = %d, want 1", len(pending))
	}

	approved, err := db.ApproveApproval(ctx, a.ID, "alice", "looks fine", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != safeguard.ApprovalApproved {
		t.Fatalf("status after approve = %q", approved.Status)
	}
	if approved.Approver != "alice" {
		t.Fatalf("approver = %q", approved.Approver)
	}

	// A second approval attempt on an already-resolved row must lose the race.
	if _, err := db.ApproveApproval(ctx, a.ID, "bob", "too late", now.Add(time.Minute)); !errors.Is(err, safeguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double-approve, got %v", err)
	}
}

func TestApprovalRejectAndExpire(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &store.ApprovalRequest{
		ToolName:      "rotate_credentials",
		SecurityLevel: safeguard.LevelL3,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := db.CreateApproval(ctx, a); err != nil {
		t.Fatal(err)
	}

	rejected, err := db.RejectApproval(ctx, a.ID, "carol", "not authorized", now)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != safeguard.ApprovalRejected {
		t.Fatalf("status = %q", rejected.Status)
	}

	b := &store.ApprovalRequest{
		ToolName:      "drop_table",
		SecurityLevel: safeguard.LevelL4,
		CreatedAt:     now.Add(-2 * time.Hour),
		ExpiresAt:     now.Add(-time.Hour),
	}
	if err := db.CreateApproval(ctx, b); err != nil {
		t.Fatal(err)
	}
	n, err := db.ExpireOldApprovals(ctx, now)
	if err != nil {
		t.Fatalf("expire old: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired count = %d, want 1", n)
	}
	got, _ := db.GetApproval(ctx, b.ID)
	if got.Status != safeguard.ApprovalExpired {
		t.Fatalf("status = %q, want expired", got.Status)
	}
}

func TestApprovalNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.GetApproval(ctx, "nope"); !errors.Is(err, safeguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeferredActionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	count, err := db.CountDeferredActionsForYear(ctx, now.Year())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}

	d := &store.DeferredAction{
		DeferredID:    fmt.Sprintf("DEF-%04d-001", now.Year()),
		ApprovalID:    "approval-1",
		ToolName:      "scale_down_cluster",
		Parameters:    map[string]any{"replicas": 0},
		SecurityLevel: safeguard.LevelL3,
		DelayHours:    24,
		ScheduledAt:   now.Add(24 * time.Hour),
		ApprovedBy:    "dave",
		ApprovedAt:    now,
		CreatedAt:     now,
	}
	if err := db.CreateDeferredAction(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, err = db.CountDeferredActionsForYear(ctx, now.Year())
	if err != nil {
		t.Fatalf("count after create: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	if err := db.CreateDeferredAction(ctx, &store.DeferredAction{
		DeferredID:    d.DeferredID,
		ToolName:      "dup",
		SecurityLevel: safeguard.LevelL3,
		ScheduledAt:   now,
		ApprovedAt:    now,
		CreatedAt:     now,
	}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	due, err := db.GetDueDeferredActions(ctx, now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due len = %d, want 1", len(due))
	}

	cancelled, err := db.CancelDeferredAction(ctx, d.DeferredID, "erin", "changed our minds", now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != safeguard.DeferredCancelled {
		t.Fatalf("status = %q", cancelled.Status)
	}

	if _, err := db.CancelDeferredAction(ctx, d.DeferredID, "erin", "again", now); !errors.Is(err, safeguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound cancelling twice, got %v", err)
	}

	stats, err := db.DeferredStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("total = %d, want 1", stats.Total)
	}
	if stats.Counts[safeguard.DeferredCancelled] != 1 {
		t.Fatalf("cancelled count = %d, want 1", stats.Counts[safeguard.DeferredCancelled])
	}
	if stats.Counts[safeguard.DeferredExecuted] != 0 {
		t.Fatalf("executed count should be pre-seeded at 0")
	}
}

func TestMarkApprovalExecuted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &store.ApprovalRequest{
		ToolName:      "exec_sql",
		SecurityLevel: safeguard.LevelL3,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := db.CreateApproval(ctx, a); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkApprovalExecuted(ctx, a.ID, []byte(`{"rows":1}`), "", now); err != nil {
		t.Fatalf("mark executed: %v", err)
	}
	got, err := db.GetApproval(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != safeguard.ApprovalExecuted {
		t.Fatalf("status = %q, want executed", got.Status)
	}

	b := &store.ApprovalRequest{
		ToolName:      "exec_sql_fails",
		SecurityLevel: safeguard.LevelL3,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := db.CreateApproval(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkApprovalExecuted(ctx, b.ID, nil, "connection refused", now); err != nil {
		t.Fatalf("mark executed (failed): %v", err)
	}
	got, err = db.GetApproval(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != safeguard.ApprovalFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
}

func TestTx(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := db.Tx(ctx, func(tx store.Store) error {
		return tx.CreateApproval(ctx, &store.ApprovalRequest{
			ToolName:      "tx-created",
			SecurityLevel: safeguard.LevelL3,
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	pending, err := db.ListPendingApprovals(ctx, 10, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending len = %d, want 1", len(pending))
	}
}
