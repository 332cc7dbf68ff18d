package cli

import "github.com/charmbracelet/lipgloss"

// Color palette for human-readable output, tuned for dark terminal
// backgrounds. lipgloss degrades these gracefully when the terminal
// does not support true color.
const (
	colorTitle   = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarn    = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
)

var (
	// titleStyle is for run headers and section titles.
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)

	// successStyle marks published and verified outcomes.
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)

	// warnStyle marks skips and other non-fatal conditions.
	warnStyle = lipgloss.NewStyle().Foreground(colorWarn)

	// errorStyle marks failures.
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(colorError)

	// mutedStyle is for paths, timings, and other secondary detail.
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

// stateStyle picks the style matching a pipeline state string.
func stateStyle(state string) lipgloss.Style {
	switch state {
	case "published", "verified":
		return successStyle
	case "skipped":
		return warnStyle
	case "failed":
		return errorStyle
	default:
		return mutedStyle
	}
}
