package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestFormatDuration verifies durations are rounded for display.
func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"subsecond rounds to tenths", 1234 * time.Millisecond, "1.2s"},
		{"exact seconds stay plain", 2 * time.Second, "2s"},
		{"below the rounding unit", 40 * time.Millisecond, "0s"},
		{"minutes keep seconds", 90 * time.Second, "1m30s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
