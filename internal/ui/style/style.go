// Package style provides shared UI styling primitives including brand colors
// and icons for consistent visual presentation across the CLI.
package style

import "github.com/charmbracelet/lipgloss"

// Brand Colors.
var (
	Ember  = lipgloss.Color("#E8590C")
	Ash    = lipgloss.Color("#868E96")
	Bone   = lipgloss.Color("#F8F9FA")
	Coal   = lipgloss.Color("#141517")
	Green  = lipgloss.Color("#2F9E44")
	Red    = lipgloss.Color("#E03131")
	Yellow = lipgloss.Color("#F08C00")
)

// Icons.
const (
	Check   = "✓"
	Cross   = "✗"
	Warning = "!"
	Skip    = "-"
	Cached  = "≡"
	Dot     = "●"
	Circle  = "○"
)

// Reusable text styles.
var (
	Title   = lipgloss.NewStyle().Bold(true).Foreground(Ember)
	Muted   = lipgloss.NewStyle().Foreground(Ash)
	Success = lipgloss.NewStyle().Foreground(Green)
	Failure = lipgloss.NewStyle().Foreground(Red)
	Caution = lipgloss.NewStyle().Foreground(Yellow)
)
