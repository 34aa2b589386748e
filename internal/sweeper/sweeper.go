// Package sweeper implements C3, the periodic driver described in spec.md
// §4.3: it flips expired pending approval requests and hands due deferred
// actions to the executor. The sweeper is stateless: it records each outcome
// with MarkExecuted after the executor returns and takes no claim on a row
// before dispatch, so it does not prevent two overlapping passes from
// handing the same due action to the executor.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/revittco/safeguard/internal/approval"
	"github.com/revittco/safeguard/internal/deferred"
	"github.com/revittco/safeguard/internal/executor"
	"github.com/revittco/safeguard/internal/store"
)

// Sweeper periodically calls approval.Manager.ExpireOld and dispatches
// deferred.Manager.GetDue results to an executor.Executor.
type Sweeper struct {
	approvals *approval.Manager
	deferreds *deferred.Manager
	exec      executor.Executor
	interval  time.Duration
	log       *slog.Logger
}

// New builds a Sweeper. A nil logger defaults to slog.Default(); a zero or
// negative interval defaults to 30s, the middle of spec §4.3's recommended
// 30-60s cadence.
func New(approvals *approval.Manager, deferreds *deferred.Manager, exec executor.Executor, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{approvals: approvals, deferreds: deferreds, exec: exec, interval: interval, log: logger}
}

// Run loops until ctx is cancelled, running one Tick per interval. The
// first tick fires immediately rather than waiting out the first interval,
// so a freshly started process doesn't leave stale expired/due rows
// unattended for up to a full cadence.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Tick(ctx); err != nil {
		s.log.Warn("sweeper tick failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Warn("sweeper tick failed", "err", err)
			}
		}
	}
}

// Tick runs a single expire_old()+get_due() pass. It surfaces the first
// error encountered but always attempts both halves of the pass.
func (s *Sweeper) Tick(ctx context.Context) error {
	_, expireErr := s.approvals.ExpireOld(ctx)

	due, dueErr := s.deferreds.GetDue(ctx)
	if dueErr != nil {
		if expireErr != nil {
			return expireErr
		}
		return dueErr
	}

	for _, d := range due {
		s.dispatch(ctx, d)
	}

	return expireErr
}

// dispatch hands a single due action to the executor and records its
// outcome. A dispatch failure is logged, not escalated: the sweeper is a
// best-effort poller and must not stop serving other due actions because
// one executor call failed.
func (s *Sweeper) dispatch(ctx context.Context, d store.DeferredAction) {
	result, execErr := s.exec.Execute(ctx, &d)

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
		s.log.Error("deferred action execution failed", "deferred_id", d.DeferredID, "err", execErr)
	}

	if err := s.deferreds.MarkExecuted(ctx, d.DeferredID, result, errMsg); err != nil {
		s.log.Warn("failed to record deferred action outcome", "deferred_id", d.DeferredID, "err", err)
	}
}
