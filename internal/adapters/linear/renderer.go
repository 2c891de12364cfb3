// Package linear provides a synchronous, line-buffered renderer for CI environments.
package linear

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/ui/style"
)

var _ ports.Renderer = (*Renderer)(nil)

// Renderer implements ports.Renderer for CI and other non-interactive
// output. Every module gets a start line and a result line; module output
// is printed line by line with a name prefix.
type Renderer struct {
	stdout io.Writer
	stderr io.Writer
	output *termenv.Output

	mu      sync.Mutex
	tasks   map[string]*taskState
	buffers map[string]*bytes.Buffer
}

type taskState struct {
	name      string
	startTime time.Time
}

// Option configures a Renderer.
type Option func(*options)

type options struct {
	profile termenv.Profile
	set     bool
}

// WithProfile forces a colour profile instead of the NO_COLOR based default.
func WithProfile(p termenv.Profile) Option {
	return func(o *options) { o.profile, o.set = p, true }
}

// NewRenderer creates a new Renderer. Nil writers default to the process
// stdout and stderr.
func NewRenderer(stdout, stderr io.Writer, opts ...Option) *Renderer {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.set {
		o.profile = colorProfile()
	}

	return &Renderer{
		stdout:  stdout,
		stderr:  stderr,
		output:  termenv.NewOutput(stderr, termenv.WithProfile(o.profile)),
		tasks:   make(map[string]*taskState),
		buffers: make(map[string]*bytes.Buffer),
	}
}

func colorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	return termenv.ANSI
}

// Start is a no-op for the linear renderer.
func (r *Renderer) Start(_ context.Context) error {
	return nil
}

// Stop flushes all remaining buffers.
func (r *Renderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for spanID := range r.buffers {
		r.flushBufferLocked(spanID)
	}
	return nil
}

// Wait is a no-op for the linear renderer.
func (r *Renderer) Wait() error {
	return nil
}

// OnPlanEmit prints the number of planned modules.
func (r *Renderer) OnPlanEmit(tasks []string, _ map[string][]string, _ []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.stderr, "Checking %d module(s)\n", len(tasks))
}

// OnTaskStart prints a start line.
func (r *Renderer) OnTaskStart(spanID, _, name string, startTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks[spanID] = &taskState{name: name, startTime: startTime}
	r.buffers[spanID] = new(bytes.Buffer)

	prefix := r.output.String(fmt.Sprintf("[%s]", name)).Faint().String()
	_, _ = fmt.Fprintf(r.stderr, "%s Checking...\n", prefix)
}

// OnTaskLog buffers data and prints complete lines with the module prefix.
func (r *Renderer) OnTaskLog(spanID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[spanID]
	if !ok {
		return
	}

	buf := r.buffers[spanID]
	buf.Write(data)
	for {
		line, err := buf.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				rest := new(bytes.Buffer)
				rest.Write(line)
				r.buffers[spanID] = rest
			}
			break
		}
		r.printLineLocked(task.name, line)
	}
}

// OnTaskComplete flushes the module's output and prints its result line.
func (r *Renderer) OnTaskComplete(spanID string, endTime time.Time, err error, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[spanID]
	if !ok {
		return
	}
	r.flushBufferLocked(spanID)

	duration := endTime.Sub(task.startTime).Round(time.Millisecond)
	prefix := fmt.Sprintf("[%s]", task.name)
	switch {
	case err != nil:
		symbol := r.output.String(style.Cross).Foreground(termenv.ANSIRed).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Failed after %v: %v\n", prefix, symbol, duration, err)
	case cached:
		symbol := r.output.String(style.Cached).Foreground(termenv.ANSICyan).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Cached\n", prefix, symbol)
	default:
		symbol := r.output.String(style.Check).Foreground(termenv.ANSIGreen).String()
		_, _ = fmt.Fprintf(r.stderr, "%s %s Checked in %v\n", prefix, symbol, duration)
	}

	delete(r.tasks, spanID)
	delete(r.buffers, spanID)
}

// flushBufferLocked must be called with r.mu held.
func (r *Renderer) flushBufferLocked(spanID string) {
	task, ok := r.tasks[spanID]
	if !ok {
		return
	}
	buf := r.buffers[spanID]
	if buf.Len() > 0 {
		r.printLineLocked(task.name, buf.Bytes())
		buf.Reset()
	}
}

// printLineLocked must be called with r.mu held.
func (r *Renderer) printLineLocked(name string, line []byte) {
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 {
		return
	}
	_, _ = fmt.Fprintf(r.stdout, "[%s] %s\n", name, line)
}
