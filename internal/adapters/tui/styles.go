package tui

import (
	"github.com/charmbracelet/lipgloss"
	"go.trai.ch/kiln/internal/ui/style"
)

var (
	listStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, true, false, false).
			BorderForeground(style.Ash).
			MarginRight(1).
			PaddingRight(1)

	logStyle = lipgloss.NewStyle().
			PaddingLeft(1)

	taskPendingStyle = lipgloss.NewStyle().
				Foreground(style.Ash)

	taskRunningStyle = lipgloss.NewStyle().
				Foreground(style.Ember).
				Bold(true)

	taskDoneStyle = lipgloss.NewStyle().
			Foreground(style.Green)

	taskErrorStyle = lipgloss.NewStyle().
			Foreground(style.Red)

	taskCachedStyle = lipgloss.NewStyle().
			Foreground(style.Ash).
			Faint(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(style.Ember).
			Bold(true)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Background(style.Ember).
			Foreground(style.Bone)
)
