// Package metrics exposes prometheus counters for the approval queue and
// deferred action manager. Ambient observability is carried regardless of
// the transport layer being out of scope (spec.md's Non-goals exclude the
// RPC/HTTP/MCP surface, not metrics) — grounded on jordigilh/kubernaut's use
// of github.com/prometheus/client_golang throughout its controllers.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the counters the approval queue, deferred action manager,
// and sweeper increment as they process requests.
type Metrics struct {
	ApprovalsCreated  prometheus.Counter
	ApprovalsApproved prometheus.Counter
	ApprovalsRejected prometheus.Counter
	ApprovalsExpired  prometheus.Counter

	DeferredCreated   prometheus.Counter
	DeferredCancelled prometheus.Counter
	DeferredExecuted  prometheus.Counter
	DeferredFailed    prometheus.Counter
}

// New registers and returns the full counter set against reg. Pass
// prometheus.NewRegistry() for an isolated registry (e.g. in tests) or
// prometheus.DefaultRegisterer for the process-wide one.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ApprovalsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "approvals", Name: "created_total",
			Help: "Approval requests created.",
		}),
		ApprovalsApproved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "approvals", Name: "approved_total",
			Help: "Approval requests approved.",
		}),
		ApprovalsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "approvals", Name: "rejected_total",
			Help: "Approval requests rejected.",
		}),
		ApprovalsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "approvals", Name: "expired_total",
			Help: "Approval requests expired by the sweeper.",
		}),
		DeferredCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "deferred", Name: "created_total",
			Help: "Deferred actions created.",
		}),
		DeferredCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "deferred", Name: "cancelled_total",
			Help: "Deferred actions cancelled before execution.",
		}),
		DeferredExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "deferred", Name: "executed_total",
			Help: "Deferred actions executed successfully.",
		}),
		DeferredFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "safeguard", Subsystem: "deferred", Name: "failed_total",
			Help: "Deferred actions that failed execution.",
		}),
	}

	reg.MustRegister(
		m.ApprovalsCreated, m.ApprovalsApproved, m.ApprovalsRejected, m.ApprovalsExpired,
		m.DeferredCreated, m.DeferredCancelled, m.DeferredExecuted, m.DeferredFailed,
	)
	return m
}
