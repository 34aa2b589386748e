// Package redact implements the field-level secret detector described in
// spec.md §6 as a collaborator whose interface this core fixes:
// HasSensitiveFields, ExtractSensitiveFields, and the companion
// MergeSecrets used to reconstitute full arguments after approval.
//
// The key-matching rules are grounded on the teacher repo's
// internal/audit/redact.go, extended from an in-place redactor into one
// that also returns the extracted leaves so they can be shipped to the
// keystore separately from the durable, redacted row.
package redact

import "strings"

// Sentinel written in place of any leaf value under a sensitive key.
const Sentinel = "[REDACTED]"

// globalPatterns are key substrings that always mark a leaf as sensitive,
// matched case-insensitively. This is the fixed deny-list plus heuristic
// patterns referenced by spec §4.1 step 3.
var globalPatterns = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"access_key",
	"private_key",
	"credential",
	"authorization",
	"cookie",
	"ssn",
	"client_secret",
}

// HasSensitiveFields reports whether obj contains any leaf under a key the
// detector classifies as sensitive, at any depth.
func HasSensitiveFields(obj map[string]any) bool {
	for k, v := range obj {
		if shouldRedact(k) {
			return true
		}
		if nested, ok := v.(map[string]any); ok && HasSensitiveFields(nested) {
			return true
		}
	}
	return false
}

// ExtractSensitiveFields splits obj into a redacted copy (every sensitive
// leaf replaced by Sentinel) and a secret map of the same nested shape
// containing only those leaves. Non-sensitive branches are copied as-is
// into the redacted result and omitted entirely from the secret map.
//
// Arrays and scalars are treated as whole leaves: if a key matches, its
// entire value (array, string, number, nested object — whatever it is) is
// extracted wholesale, never partially.
func ExtractSensitiveFields(obj map[string]any) (redacted map[string]any, secrets map[string]any) {
	redacted = make(map[string]any, len(obj))
	secrets = make(map[string]any)

	for k, v := range obj {
		if shouldRedact(k) {
			redacted[k] = Sentinel
			secrets[k] = v
			continue
		}

		if nested, ok := v.(map[string]any); ok {
			redactedNested, secretNested := ExtractSensitiveFields(nested)
			redacted[k] = redactedNested
			if len(secretNested) > 0 {
				secrets[k] = secretNested
			}
			continue
		}

		redacted[k] = v
	}

	return redacted, secrets
}

// MergeSecrets restores original values into target in place: for every
// (k, v) in secrets, if both target[k] and v are objects, it recurses;
// otherwise it overwrites target[k] with v wholesale. This is the exact
// inverse of the object-node redaction ExtractSensitiveFields performs.
func MergeSecrets(target map[string]any, secrets map[string]any) {
	for k, v := range secrets {
		nestedSecret, secretIsObj := v.(map[string]any)
		nestedTarget, targetIsObj := target[k].(map[string]any)
		if secretIsObj && targetIsObj {
			MergeSecrets(nestedTarget, nestedSecret)
			continue
		}
		target[k] = v
	}
}

func shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range globalPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
