package tui_test

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/tui"
)

func newModel(t *testing.T, names ...string) *tui.Model {
	t.Helper()
	m := tui.NewModel(io.Discard)
	update(m, tea.WindowSizeMsg{Width: 120, Height: 40})
	update(m, tui.MsgInitTasks{Tasks: names, Dependencies: map[string][]string{"b": {"a"}}})
	return m
}

func update(m *tui.Model, msg tea.Msg) tea.Cmd {
	_, cmd := m.Update(msg)
	return cmd
}

func TestModel_TaskLifecycle(t *testing.T) {
	m := newModel(t, "a", "b", "c")
	require.Len(t, m.Tasks, 3)
	assert.Equal(t, []string{"a"}, m.TaskMap["b"].Deps)

	start := time.Now()
	update(m, tui.MsgTaskStart{SpanID: "s1", Name: "a", StartTime: start})
	assert.Equal(t, tui.StatusRunning, m.TaskMap["a"].Status)
	assert.Equal(t, "a", m.ActiveTaskName, "focus follows activity")

	update(m, tui.MsgTaskLog{SpanID: "s1", Data: []byte("hello\n")})
	assert.Equal(t, "hello\n", m.TaskMap["a"].Logs.String())

	update(m, tui.MsgTaskComplete{SpanID: "s1", EndTime: start.Add(time.Second)})
	assert.Equal(t, tui.StatusDone, m.TaskMap["a"].Status)
	assert.Equal(t, time.Second, m.TaskMap["a"].Duration)

	update(m, tui.MsgTaskStart{SpanID: "s2", Name: "b", StartTime: start})
	update(m, tui.MsgTaskComplete{SpanID: "s2", EndTime: start, Cached: true})
	update(m, tui.MsgTaskStart{SpanID: "s3", Name: "c", StartTime: start})
	update(m, tui.MsgTaskComplete{SpanID: "s3", EndTime: start, Err: errors.New("boom")})
	assert.Equal(t, tui.StatusError, m.TaskMap["c"].Status)

	done, cached, failed := m.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{done, cached, failed})

	update(m, tui.MsgTaskLog{SpanID: "unknown", Data: []byte("x")})
	update(m, tui.MsgTaskStart{SpanID: "s4", Name: "unknown"})
	assert.Len(t, m.Tasks, 3)
}

func TestModel_Navigation(t *testing.T) {
	names := make([]string, 10)
	for i := range names {
		names[i] = "m" + string(rune('0'+i))
	}
	m := newModel(t, names...)
	m.ListHeight = 5

	for range 5 {
		update(m, tea.KeyMsg{Type: tea.KeyDown})
	}
	assert.Equal(t, 5, m.SelectedIdx)
	assert.Equal(t, 1, m.ListOffset)
	assert.False(t, m.FollowMode)
	assert.Equal(t, "m5", m.ActiveTaskName)

	update(m, tui.MsgTaskStart{SpanID: "s", Name: "m8"})
	assert.Equal(t, 5, m.SelectedIdx, "manual mode keeps the selection")

	update(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.FollowMode)
	assert.Equal(t, 8, m.SelectedIdx)
	assert.Equal(t, 4, m.ListOffset)

	for range 20 {
		update(m, tea.KeyMsg{Type: tea.KeyUp})
	}
	assert.Zero(t, m.SelectedIdx)
	assert.Zero(t, m.ListOffset)

	cmd := update(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_View(t *testing.T) {
	m := tui.NewModel(io.Discard)
	assert.Equal(t, "Initializing...", m.View())

	m = newModel(t, "alpha", "beta", "gamma")
	update(m, tui.MsgTaskStart{SpanID: "s1", Name: "alpha"})
	update(m, tui.MsgTaskLog{SpanID: "s1", Data: []byte("alpha output\n")})
	update(m, tui.MsgTaskComplete{SpanID: "s1", Err: errors.New("alpha broke")})

	out := m.View()
	for _, want := range []string{"MODULES", "1/3", "alpha", "beta", "gamma", "LOGS: alpha", "alpha output", "alpha broke"} {
		assert.Contains(t, out, want)
	}
}

func TestWrapLog(t *testing.T) {
	assert.Equal(t, "hello world", tui.WrapLog("hello world", 0))
	assert.Empty(t, tui.WrapLog("", 10))

	got := tui.WrapLog("hello world this is a long line", 10)
	for _, line := range strings.Split(got, "\n") {
		assert.LessOrEqual(t, len(strings.TrimRight(line, " ")), 10)
	}
	assert.Equal(t, "hello world this is a long line", strings.Join(strings.Fields(got), " "))
}

func TestRenderer_Lifecycle(t *testing.T) {
	r := tui.NewRenderer(
		tui.NewModel(io.Discard),
		tea.WithInput(strings.NewReader("")),
		tea.WithOutput(io.Discard),
		tea.WithoutSignalHandler(),
		tea.WithoutRenderer(),
	)
	require.NoError(t, r.Start(t.Context()))

	r.OnPlanEmit([]string{"a"}, nil, []string{"a"})
	r.OnTaskStart("s1", "", "a", time.Now())
	r.OnTaskLog("s1", []byte("line\n"))
	r.OnTaskComplete("s1", time.Now(), nil, false)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Wait())
	assert.NotNil(t, r.Model())
}
