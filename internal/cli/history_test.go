package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tidegate/stevedore/internal/journal"
)

// TestHistoryDetail verifies the DETAIL column rendering.
func TestHistoryDetail(t *testing.T) {
	tests := []struct {
		name     string
		entry    journal.Entry
		expected string
	}{
		{"detail wins over the dry-run marker", journal.Entry{Detail: "version already on registry", DryRun: true}, "version already on registry"},
		{"dry run without detail", journal.Entry{DryRun: true}, "dry run"},
		{"plain publish", journal.Entry{}, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, historyDetail(tt.entry))
		})
	}
}

// TestPrintHistoryResult_Table verifies the text table carries the run
// id, crate, state, and local finish time.
func TestPrintHistoryResult_Table(t *testing.T) {
	entries := []journal.Entry{
		{
			RunID:      "20260825-101530-ab12",
			Package:    "acme-ui",
			Version:    "0.4.2",
			Registry:   "crates-io",
			State:      "published",
			FinishedAt: time.Date(2026, 8, 25, 10, 15, 35, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	printHistoryResult(&buf, entries)

	out := buf.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "20260825-101530-ab12")
	assert.Contains(t, out, "acme-ui")
	assert.Contains(t, out, "published")
}

// TestPrintHistoryResult_Empty verifies the friendly empty message.
func TestPrintHistoryResult_Empty(t *testing.T) {
	var buf bytes.Buffer
	printHistoryResult(&buf, nil)

	assert.Equal(t, "No publish history recorded yet.\n", buf.String())
}

// TestPrintHistoryResult_JSONEmptyArray verifies --json renders [] for
// an empty journal instead of null.
func TestPrintHistoryResult_JSONEmptyArray(t *testing.T) {
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	var buf bytes.Buffer
	printHistoryResult(&buf, nil)

	assert.JSONEq(t, `{"entries": []}`, buf.String())
}
