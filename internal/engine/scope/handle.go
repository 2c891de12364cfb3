package scope

import (
	"context"
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a spawned task.
type State int32

const (
	// Pending tasks are waiting for a concurrency slot.
	Pending State = iota
	// Running tasks are executing.
	Running
	// Completed tasks returned nil.
	Completed
	// Failed tasks returned an error or panicked.
	Failed
	// Cancelled tasks were stopped by their scope's cancellation.
	Cancelled
)

// String names the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s >= Completed
}

// Handle tracks one spawned task.
type Handle struct {
	name  string
	state atomic.Int32
	err   error
	done  chan struct{}
}

func newHandle(name string) *Handle {
	return &Handle{name: name, done: make(chan struct{})}
}

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// State returns the task's current state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Done is closed once the task is terminal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the task's error once terminal: nil when Completed, the
// failure when Failed, a domain.ErrCancelled match when Cancelled.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task is terminal or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) setRunning() {
	h.state.CompareAndSwap(int32(Pending), int32(Running))
}

func (h *Handle) finish(state State, err error) {
	h.err = err
	h.state.Store(int32(state))
	close(h.done)
}
