package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFormatPublishable verifies the PUBLISHABLE column rendering.
func TestFormatPublishable(t *testing.T) {
	assert.Equal(t, "yes", formatPublishable(true))
	assert.Equal(t, "no", formatPublishable(false))
}

// TestRegistryColumn verifies crates that were never queried show a
// dash instead of an empty cell.
func TestRegistryColumn(t *testing.T) {
	tests := []struct {
		name     string
		crate    listCrate
		expected string
	}{
		{"published", listCrate{Registry: "published"}, "published"},
		{"absent", listCrate{Registry: "absent"}, "absent"},
		{"never queried", listCrate{}, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, registryColumn(tt.crate))
		})
	}
}

// TestPrintListResult_Table verifies the text table layout.
func TestPrintListResult_Table(t *testing.T) {
	crates := []listCrate{
		{Name: "acme-core", Version: "0.4.2", Publishable: true, Dir: "crates/core"},
		{Name: "acme-internal", Version: "0.4.2", Publishable: false, Dir: "crates/internal"},
	}

	var buf bytes.Buffer
	printListResult(&buf, "/ws", crates, false)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^NAME\s+VERSION\s+PUBLISHABLE\s+DIR$`, lines[0])
	assert.Regexp(t, `^acme-core\s+0\.4\.2\s+yes\s+crates/core$`, lines[1])
	assert.Regexp(t, `^acme-internal\s+0\.4\.2\s+no\s+crates/internal$`, lines[2])
}

// TestPrintListResult_RemoteTable verifies --remote adds the REGISTRY
// column and dashes out crates that were never queried.
func TestPrintListResult_RemoteTable(t *testing.T) {
	crates := []listCrate{
		{Name: "acme-core", Version: "0.4.2", Publishable: true, Dir: "crates/core", Registry: "published"},
		{Name: "acme-internal", Version: "0.4.2", Publishable: false, Dir: "crates/internal"},
	}

	var buf bytes.Buffer
	printListResult(&buf, "/ws", crates, true)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^NAME\s+VERSION\s+PUBLISHABLE\s+REGISTRY\s+DIR$`, lines[0])
	assert.Regexp(t, `^acme-core\s+0\.4\.2\s+yes\s+published\s+crates/core$`, lines[1])
	assert.Regexp(t, `^acme-internal\s+0\.4\.2\s+no\s+-\s+crates/internal$`, lines[2])
}

// TestPrintListResult_Empty verifies the friendly empty message.
func TestPrintListResult_Empty(t *testing.T) {
	var buf bytes.Buffer
	printListResult(&buf, "/ws", nil, false)

	assert.Equal(t, "No workspace members found.\n", buf.String())
}

// TestPrintListResult_JSON verifies the JSON wrapper shape and that an
// empty workspace renders [] instead of null.
func TestPrintListResult_JSON(t *testing.T) {
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	var buf bytes.Buffer
	printListResult(&buf, "/ws", []listCrate{}, false)

	assert.JSONEq(t, `{"workspace": "/ws", "crates": []}`, buf.String())
}
