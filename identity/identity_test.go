package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScannerID(t *testing.T) {
	id := ScannerID()

	assert.NotEmpty(t, id)
	assert.True(t, strings.HasPrefix(id, "scanner-"), "id %q missing prefix", id)
	assert.LessOrEqual(t, len(id), MaxScannerIDLen)

	for _, r := range id {
		assert.Less(t, r, rune(128), "id %q contains non-ASCII rune", id)
	}

	// Stable across calls.
	assert.Equal(t, id, ScannerID())
}

func TestSanitizeHost(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"plain", "mybox", "mybox"},
		{"uppercase folded", "MyBox", "mybox"},
		{"dots become hyphens", "node.local", "node-local"},
		{"spaces and underscores", "my node_1", "my-node-1"},
		{"stripped to empty", "!!!", ""},
		{"leading separators trimmed", ".node.", "node"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, sanitizeHost(tc.in))
		})
	}
}

func TestClamp(t *testing.T) {
	long := "scanner-" + strings.Repeat("a", 64)
	assert.Len(t, clamp(long), MaxScannerIDLen)
	assert.Equal(t, "scanner-short", clamp("scanner-short"))
}
