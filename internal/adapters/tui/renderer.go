package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.trai.ch/kiln/internal/core/ports"
)

var _ ports.Renderer = (*Renderer)(nil)

// Renderer wraps the Bubble Tea model as a ports.Renderer.
type Renderer struct {
	program *tea.Program
	model   *Model
	errCh   chan error
}

// NewRenderer creates a new TUI renderer.
func NewRenderer(model *Model, opts ...tea.ProgramOption) *Renderer {
	return &Renderer{
		program: tea.NewProgram(model, opts...),
		model:   model,
		errCh:   make(chan error, 1),
	}
}

// Start launches the TUI in a background goroutine.
func (r *Renderer) Start(_ context.Context) error {
	go func() {
		_, err := r.program.Run()
		r.errCh <- err
	}()
	return nil
}

// Stop signals the TUI to quit.
func (r *Renderer) Stop() error {
	r.program.Quit()
	return nil
}

// Wait blocks until the TUI has terminated.
func (r *Renderer) Wait() error {
	return <-r.errCh
}

// OnPlanEmit forwards the plan.
func (r *Renderer) OnPlanEmit(tasks []string, deps map[string][]string, targets []string) {
	r.program.Send(MsgInitTasks{Tasks: tasks, Dependencies: deps, Targets: targets})
}

// OnTaskStart forwards task start events.
func (r *Renderer) OnTaskStart(spanID, parentID, name string, startTime time.Time) {
	r.program.Send(MsgTaskStart{SpanID: spanID, ParentID: parentID, Name: name, StartTime: startTime})
}

// OnTaskLog forwards task output.
func (r *Renderer) OnTaskLog(spanID string, data []byte) {
	r.program.Send(MsgTaskLog{SpanID: spanID, Data: data})
}

// OnTaskComplete forwards task completion events.
func (r *Renderer) OnTaskComplete(spanID string, endTime time.Time, err error, cached bool) {
	r.program.Send(MsgTaskComplete{SpanID: spanID, EndTime: endTime, Err: err, Cached: cached})
}

// Model returns the renderer's model.
func (r *Renderer) Model() *Model {
	return r.model
}
