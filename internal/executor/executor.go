// Package executor defines the hand-off contract between SAFEGUARD and the
// component that actually runs an approved or deferred tool invocation.
// spec.md's Scope explicitly carves the executor out as a collaborator
// ("this spec only defines the hand-off contract") — this package fixes
// only the interface, plus a logging default useful for local development
// and tests, the same way spec.md fixes the secret detector and keystore
// interfaces without implementing them.
package executor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/revittco/safeguard/internal/store"
)

// Executor runs a due deferred action's tool invocation and reports its
// outcome. Implementations are expected to be the sole caller of
// approval.Manager.CleanupSecrets once they have finished consuming the
// full (unredacted) arguments, per spec.md §3's ownership note.
type Executor interface {
	// Execute runs action.ToolName and returns the result to record, or an
	// error whose message becomes execution_error. action.Parameters is the
	// stored, redacted copy; an implementation that needs the original
	// values reconstitutes them with approval.Manager.GetFullArguments on
	// action.ApprovalID.
	Execute(ctx context.Context, action *store.DeferredAction) (result json.RawMessage, err error)
}

// LoggingExecutor is a development-mode Executor that never actually
// invokes a tool: it logs the hand-off and reports success immediately.
// Useful for exercising the sweeper's due-action loop without wiring a
// real tool-invocation backend.
type LoggingExecutor struct {
	log *slog.Logger
}

// NewLoggingExecutor builds a LoggingExecutor. A nil logger defaults to
// slog.Default().
func NewLoggingExecutor(logger *slog.Logger) *LoggingExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExecutor{log: logger}
}

var _ Executor = (*LoggingExecutor)(nil)

func (e *LoggingExecutor) Execute(_ context.Context, action *store.DeferredAction) (json.RawMessage, error) {
	e.log.Info("executor hand-off (logging stub, no-op)",
		"deferred_id", action.DeferredID, "tool_name", action.ToolName,
		"approval_id", action.ApprovalID)
	return json.RawMessage(`{"status":"logged, not executed"}`), nil
}
