// Package tui provides the interactive terminal renderer for kiln runs.
package tui

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	taskListWidthRatio = 0.3
	logPaneBorderWidth = 4
)

// TaskStatus represents the current state of a module in the list.
type TaskStatus string

const (
	// StatusPending indicates the module is waiting for its dependencies.
	StatusPending TaskStatus = "Pending"
	// StatusRunning indicates the module is being checked.
	StatusRunning TaskStatus = "Running"
	// StatusDone indicates the check finished.
	StatusDone TaskStatus = "Done"
	// StatusError indicates the check failed.
	StatusError TaskStatus = "Error"
)

// TaskNode represents a single module in the UI list.
type TaskNode struct {
	Name     string
	Status   TaskStatus
	Deps     []string
	Logs     bytes.Buffer
	Cached   bool
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Model represents the main TUI state.
type Model struct {
	Tasks          []*TaskNode
	TaskMap        map[string]*TaskNode
	SpanMap        map[string]*TaskNode
	Viewport       viewport.Model
	Spinner        spinner.Model
	ActiveTaskName string
	SelectedIdx    int
	ListOffset     int
	ListHeight     int
	FollowMode     bool
}

// NewModel creates a new TUI model with default settings.
func NewModel(w io.Writer) *Model {
	if w == nil {
		w = os.Stderr
	}
	lipgloss.SetColorProfile(NewOutput(w).Profile)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = taskRunningStyle

	return &Model{
		TaskMap:    make(map[string]*TaskNode),
		SpanMap:    make(map[string]*TaskNode),
		Viewport:   viewport.New(0, 0),
		Spinner:    s,
		FollowMode: true,
	}
}

// ColorProfile returns Ascii when NO_COLOR is set and TrueColor otherwise.
func ColorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	return termenv.TrueColor
}

// NewOutput creates a termenv.Output on w with ColorProfile.
func NewOutput(w io.Writer, opts ...termenv.OutputOption) *termenv.Output {
	opts = append(opts, termenv.WithProfile(ColorProfile()), termenv.WithTTY(true))
	return termenv.NewOutput(w, opts...)
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.Spinner.Tick
}

// Update handles incoming messages and updates the model state.
//
//nolint:cyclop // one case per message type
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "k", "up":
			if m.SelectedIdx > 0 {
				m.SelectedIdx--
				m.FollowMode = false
				m.selectionChanged()
			}
		case "j", "down":
			if m.SelectedIdx < len(m.Tasks)-1 {
				m.SelectedIdx++
				m.FollowMode = false
				m.selectionChanged()
			}
		case "esc":
			m.FollowMode = true
			for i, t := range m.Tasks {
				if t.Status == StatusRunning {
					m.SelectedIdx = i
					break
				}
			}
			m.selectionChanged()
		default:
			var cmd tea.Cmd
			m.Viewport, cmd = m.Viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		listWidth := int(float64(msg.Width) * taskListWidthRatio)
		headerHeight := lipgloss.Height(titleStyle.Render("MODULES") + "\n\n")
		m.Viewport.Width = msg.Width - listWidth - logPaneBorderWidth
		m.Viewport.Height = msg.Height - lipgloss.Height(titleStyle.Render("LOGS"))
		m.ListHeight = msg.Height - headerHeight
		m.ensureVisible()
		m.refreshLogs()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case MsgInitTasks:
		m.Tasks = make([]*TaskNode, len(msg.Tasks))
		m.TaskMap = make(map[string]*TaskNode, len(msg.Tasks))
		m.SpanMap = make(map[string]*TaskNode)
		for i, name := range msg.Tasks {
			m.Tasks[i] = &TaskNode{Name: name, Status: StatusPending, Deps: msg.Dependencies[name]}
			m.TaskMap[name] = m.Tasks[i]
		}
		m.SelectedIdx, m.ListOffset = 0, 0

	case MsgTaskStart:
		if node, ok := m.TaskMap[msg.Name]; ok {
			node.Status = StatusRunning
			node.Started = msg.StartTime
			m.SpanMap[msg.SpanID] = node
			if m.FollowMode {
				for i, t := range m.Tasks {
					if t == node {
						m.SelectedIdx = i
						break
					}
				}
				m.selectionChanged()
			}
		}

	case MsgTaskLog:
		if node, ok := m.SpanMap[msg.SpanID]; ok {
			node.Logs.Write(msg.Data)
			if node.Name == m.ActiveTaskName {
				m.refreshLogs()
			}
		}

	case MsgTaskComplete:
		if node, ok := m.SpanMap[msg.SpanID]; ok {
			node.Cached = msg.Cached
			node.Err = msg.Err
			if !node.Started.IsZero() {
				node.Duration = msg.EndTime.Sub(node.Started)
			}
			if msg.Err != nil {
				node.Status = StatusError
			} else {
				node.Status = StatusDone
			}
			if node.Name == m.ActiveTaskName {
				m.refreshLogs()
			}
		}
	}

	return m, nil
}

// Counts returns how many modules are done, cached and failed.
func (m *Model) Counts() (done, cached, failed int) {
	for _, t := range m.Tasks {
		switch {
		case t.Status == StatusError:
			failed++
		case t.Status == StatusDone && t.Cached:
			cached++
		case t.Status == StatusDone:
			done++
		}
	}
	return done, cached, failed
}

func (m *Model) ensureVisible() {
	if m.ListHeight <= 0 {
		return
	}
	if m.SelectedIdx < m.ListOffset {
		m.ListOffset = m.SelectedIdx
	} else if m.SelectedIdx >= m.ListOffset+m.ListHeight {
		m.ListOffset = m.SelectedIdx - m.ListHeight + 1
	}
}

func (m *Model) selectionChanged() {
	m.ensureVisible()
	if m.SelectedIdx >= 0 && m.SelectedIdx < len(m.Tasks) {
		m.ActiveTaskName = m.Tasks[m.SelectedIdx].Name
	}
	m.refreshLogs()
}

func (m *Model) refreshLogs() {
	node, ok := m.TaskMap[m.ActiveTaskName]
	if !ok {
		return
	}
	content := node.Logs.String()
	if node.Err != nil {
		content += taskErrorStyle.Render(node.Err.Error()) + "\n"
	}
	m.Viewport.SetContent(WrapLog(content, m.Viewport.Width))
	if m.FollowMode {
		m.Viewport.GotoBottom()
	}
}
