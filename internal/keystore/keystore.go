// Package keystore is the encrypted KV-with-TTL store backing secret
// envelopes: original argument values extracted during redaction, held
// only until the approved action executes. The approval queue owns the
// "approval:<id>" namespace; nothing outside internal/approval and
// internal/keystore should construct those keys directly.
package keystore

import (
	"context"
	"time"
)

// Keystore is the contract the approval queue depends on for secret
// envelopes. Implementations must apply at-rest encryption themselves —
// the core never writes plaintext secrets to a keystore backend.
type Keystore interface {
	// StoreSecret writes data under key with the given time-to-live.
	StoreSecret(ctx context.Context, key string, data map[string]any, ttl time.Duration) error

	// GetSecret returns the data stored under key, or ok=false if the key
	// does not exist or has expired.
	GetSecret(ctx context.Context, key string) (data map[string]any, ok bool, err error)

	// DeleteSecret removes key. ok reports whether a key existed to delete.
	DeleteSecret(ctx context.Context, key string) (ok bool, err error)
}

// ApprovalKey returns the namespaced keystore key for an approval request's
// secret envelope.
func ApprovalKey(approvalID string) string {
	return "approval:" + approvalID
}
