package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"go.trai.ch/kiln/internal/ui/style"
)

// View renders the UI.
func (m *Model) View() string {
	if m.ListHeight == 0 {
		return "Initializing..."
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.taskList(), m.logPane())
}

func (m *Model) taskList() string {
	var s strings.Builder

	done, cached, failed := m.Counts()
	s.WriteString(titleStyle.Render("MODULES") + " " +
		style.Muted.Render(fmt.Sprintf("%d/%d", done+cached+failed, len(m.Tasks))) + "\n\n")

	start := m.ListOffset
	end := min(m.ListOffset+m.ListHeight, len(m.Tasks))
	start = min(start, end)
	for i := start; i < end; i++ {
		s.WriteString(m.renderTaskRow(i, m.Tasks[i]) + "\n")
	}
	return listStyle.Render(s.String())
}

func (m *Model) renderTaskRow(index int, task *TaskNode) string {
	icon := m.taskIcon(task)
	st := taskStyle(task)

	cursor := "  "
	if index == m.SelectedIdx {
		cursor = selectedStyle.Render("> ")
		if task.Status != StatusDone && task.Status != StatusError {
			st = selectedStyle
		}
	}
	return cursor + st.Render(icon+" "+task.Name)
}

func (m *Model) taskIcon(task *TaskNode) string {
	switch {
	case task.Status == StatusError:
		return style.Cross
	case task.Cached:
		return style.Cached
	case task.Status == StatusDone:
		return style.Check
	case task.Status == StatusRunning:
		return m.Spinner.View()
	default:
		return style.Circle
	}
}

func taskStyle(task *TaskNode) lipgloss.Style {
	switch {
	case task.Status == StatusError:
		return taskErrorStyle
	case task.Cached:
		return taskCachedStyle
	case task.Status == StatusRunning:
		return taskRunningStyle
	case task.Status == StatusDone:
		return taskDoneStyle
	default:
		return taskPendingStyle
	}
}

func (m *Model) logPane() string {
	header := titleStyle.Render("LOGS (Waiting...)")
	if m.ActiveTaskName != "" {
		mode := " (Manual)"
		if m.FollowMode {
			mode = " (Following)"
		}
		header = titleStyle.Render("LOGS: " + m.ActiveTaskName + mode)
	}
	return logStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, m.Viewport.View()))
}

// WrapLog wraps content to width. Non-positive widths leave it unchanged.
func WrapLog(content string, width int) string {
	if width <= 0 || content == "" {
		return content
	}
	return lipgloss.NewStyle().Width(width).Render(content)
}
