package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasSensitiveFields(t *testing.T) {
	assert.True(t, HasSensitiveFields(map[string]any{"password": "hunter2"}))
	assert.True(t, HasSensitiveFields(map[string]any{"nested": map[string]any{"api_key": "x"}}))
	assert.False(t, HasSensitiveFields(map[string]any{"query": "SELECT 1"}))
}

func TestExtractSensitiveFields_FlatLeaf(t *testing.T) {
	args := map[string]any{
		"query":    "SELECT 1",
		"password": "p@ss",
	}

	redacted, secrets := ExtractSensitiveFields(args)

	assert.Equal(t, "SELECT 1", redacted["query"])
	assert.Equal(t, Sentinel, redacted["password"])
	assert.Equal(t, map[string]any{"password": "p@ss"}, secrets)
}

func TestExtractSensitiveFields_NestedObject(t *testing.T) {
	args := map[string]any{
		"host": "db.internal",
		"auth": map[string]any{
			"user":     "admin",
			"password": "p@ss",
		},
	}

	redacted, secrets := ExtractSensitiveFields(args)

	require.IsType(t, map[string]any{}, redacted["auth"])
	authRedacted := redacted["auth"].(map[string]any)
	assert.Equal(t, "admin", authRedacted["user"])
	assert.Equal(t, Sentinel, authRedacted["password"])

	require.Contains(t, secrets, "auth")
	authSecrets := secrets["auth"].(map[string]any)
	assert.Equal(t, "p@ss", authSecrets["password"])
	// non-sensitive sibling leaves never appear in the secret map.
	assert.NotContains(t, authSecrets, "user")
}

func TestExtractSensitiveFields_NoSecrets(t *testing.T) {
	args := map[string]any{"query": "SELECT 1"}
	redacted, secrets := ExtractSensitiveFields(args)
	assert.Equal(t, args, redacted)
	assert.Empty(t, secrets)
}

func TestMergeSecrets_RoundTrip(t *testing.T) {
	original := map[string]any{
		"query": "SELECT 1",
		"auth": map[string]any{
			"user":     "admin",
			"password": "p@ss",
		},
		"tokens": []any{"a", "b"}, // array leaf, extracted wholesale if key matched
	}

	redacted, secrets := ExtractSensitiveFields(original)
	MergeSecrets(redacted, secrets)

	assert.Equal(t, original, redacted)
}

func TestMergeSecrets_ArrayOverwrittenWholesale(t *testing.T) {
	target := map[string]any{
		"api_keys": Sentinel,
	}
	secrets := map[string]any{
		"api_keys": []any{"k1", "k2"},
	}

	MergeSecrets(target, secrets)

	assert.Equal(t, []any{"k1", "k2"}, target["api_keys"])
}

func TestMergeSecrets_NoSecretsIsNoop(t *testing.T) {
	redacted := map[string]any{"password": Sentinel}
	before := map[string]any{"password": Sentinel}

	MergeSecrets(redacted, map[string]any{})

	assert.Equal(t, before, redacted)
}
