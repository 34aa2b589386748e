// Package safeguard holds domain types shared by the approval queue, the
// deferred action manager, and the sweeper: security levels, status enums,
// and the delay policy that maps a level to its default deferral window.
package safeguard

import "time"

// Level is a SAFEGUARD sensitivity classification. Operations below L3 never
// reach this package; the classifier deciding that is a collaborator.
type Level string

const (
	LevelL3 Level = "L3"
	LevelL4 Level = "L4"
)

// DefaultDelayHours maps a security level to its default deferred-execution
// delay. An unrecognised level defaults to 24h (see DelayHoursFor).
var DefaultDelayHours = map[Level]int{
	LevelL3: 24,
	LevelL4: 48,
}

// DelayHoursFor returns the configured delay for level, or the package
// default (24h) when the level is not in the table.
func DelayHoursFor(level Level) int {
	if h, ok := DefaultDelayHours[level]; ok {
		return h
	}
	return 24
}

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalExpired   ApprovalStatus = "expired"
	ApprovalExecuted  ApprovalStatus = "executed"
	ApprovalFailed    ApprovalStatus = "failed"
	ApprovalScheduled ApprovalStatus = "scheduled" // declared, never emitted — see DESIGN.md
)

// DeferredStatus is the lifecycle state of a DeferredAction.
type DeferredStatus string

const (
	DeferredPending   DeferredStatus = "pending"
	DeferredCancelled DeferredStatus = "cancelled"
	DeferredExecuted  DeferredStatus = "executed"
	DeferredFailed    DeferredStatus = "failed"
)

// AllDeferredStatuses lists every DeferredStatus value, in the order stats()
// should report them. Used to pre-seed zero counts for statuses with no rows.
var AllDeferredStatuses = []DeferredStatus{
	DeferredPending, DeferredCancelled, DeferredExecuted, DeferredFailed,
}

// DefaultTTLMinutes is used when a caller does not specify ttl_minutes.
const DefaultTTLMinutes = 60

// SecretTTLGrace is added to ttl_minutes (converted to seconds) when storing
// the secret envelope in the keystore, so the envelope outlives the request.
const SecretTTLGrace = 300 * time.Second
