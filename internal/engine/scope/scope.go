// Package scope implements structured concurrency: a Scope owns the tasks
// spawned into it and does not close until every one of them has finished.
package scope

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/semaphore"
)

// PanicError is the failure of a task that panicked.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

// Error implements error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

// Unwrap returns domain.ErrTaskFailed.
func (e *PanicError) Unwrap() error {
	return domain.ErrTaskFailed
}

// Option configures a Scope.
type Option func(*Scope)

// WithLimit bounds the number of tasks that run at the same time.
func WithLimit(n int) Option {
	return func(s *Scope) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithName names the scope in errors and logs.
func WithName(name string) Option {
	return func(s *Scope) { s.name = name }
}

// WithFailFast cancels the scope, and so every other task in it, as soon
// as one task fails. Close still reports the failure.
func WithFailFast() Option {
	return func(s *Scope) { s.failFast = true }
}

// WithLogger reports task panics to l.
func WithLogger(l ports.Logger) Option {
	return func(s *Scope) { s.logger = l }
}

// Scope is a nursery of tasks. Cancelling a scope cancels its children;
// closing it waits for every task, children first.
type Scope struct {
	name   string
	ctx    context.Context
	cancel context.CancelCauseFunc
	token  *Token
	sem    *semaphore.Weighted
	logger ports.Logger
	parent *Scope
	stop   func() bool

	failFast bool

	wg sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	handles  []*Handle
	children []*Scope

	closeOnce sync.Once
	closeErr  error
}

// Open starts a root scope bound to ctx. When ctx ends the scope is cancelled.
func Open(ctx context.Context, opts ...Option) *Scope {
	return newScope(ctx, NewToken(), nil, opts)
}

func newScope(parentCtx context.Context, token *Token, parent *Scope, opts []Option) *Scope {
	ctx, cancel := context.WithCancelCause(parentCtx)
	s := &Scope{
		name:   "scope",
		ctx:    ctx,
		cancel: cancel,
		token:  token,
		parent: parent,
	}
	if parent != nil {
		s.logger = parent.logger
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stop = context.AfterFunc(ctx, func() {
		s.token.Cancel(context.Cause(ctx))
	})
	if token.Cancelled() {
		cancel(token.Err())
	}
	return s
}

// Child opens a nested scope. Cancelling s cancels the child; cancelling
// the child affects neither s nor its other children. s.Close closes the
// child first.
func (s *Scope) Child(opts ...Option) *Scope {
	c := newScope(s.ctx, s.token.Child(), s, opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.cancel(domain.ErrScopeClosed)
		return c
	}
	s.children = append(s.children, c)
	return c
}

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Context returns the context tasks of this scope run under.
func (s *Scope) Context() context.Context { return s.ctx }

// Token returns the scope's cancellation token.
func (s *Scope) Token() *Token { return s.token }

// Spawn starts fn as a task of the scope. On a closed scope the handle is
// already Failed with domain.ErrScopeClosed; on a cancelled scope it is
// already Cancelled.
func (s *Scope) Spawn(name string, fn func(ctx context.Context) error) *Handle {
	h := newHandle(name)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.finish(Failed, domain.ErrScopeClosed)
		return h
	}
	if s.token.Cancelled() {
		s.mu.Unlock()
		h.finish(Cancelled, domain.ErrCancelled)
		return h
	}
	s.handles = append(s.handles, h)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(h, fn)
	return h
}

func (s *Scope) run(h *Handle, fn func(ctx context.Context) error) {
	defer s.wg.Done()

	if s.sem != nil {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			h.finish(Cancelled, Checkpoint(s.ctx))
			return
		}
		defer s.sem.Release(1)
	}
	if err := Checkpoint(s.ctx); err != nil {
		h.finish(Cancelled, err)
		return
	}

	h.setRunning()
	err := s.call(h.name, fn)
	switch {
	case err == nil:
		h.finish(Completed, nil)
	case s.ctx.Err() != nil:
		h.finish(Cancelled, Checkpoint(s.ctx))
	default:
		h.finish(Failed, err)
		if s.failFast {
			s.Cancel()
		}
	}
}

func (s *Scope) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Task: name, Value: r, Stack: debug.Stack()}
			if s.logger != nil {
				s.logger.Error(perr)
			}
			err = perr
		}
	}()
	return fn(s.ctx)
}

// Cancel cancels the scope and every descendant. Running tasks observe it
// at their next checkpoint.
func (s *Scope) Cancel() {
	s.token.Cancel(domain.ErrCancelled)
	s.cancel(domain.ErrCancelled)
}

// Close waits until every task of the scope and its children is terminal
// and returns every failure joined. Cancelled tasks are not failures.
// Close is idempotent; later calls return the first result.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		children := s.children
		s.children = nil
		s.mu.Unlock()

		var errs []error
		for _, c := range children {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		s.wg.Wait()

		s.mu.Lock()
		handles := s.handles
		s.mu.Unlock()
		for _, h := range handles {
			if h.State() == Failed {
				errs = append(errs, zerr.With(zerr.Wrap(h.err, "task "+h.name+" failed"), "scope", s.name))
			}
		}

		s.stop()
		s.cancel(domain.ErrScopeClosed)
		if s.parent != nil {
			s.parent.forget(s)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Scope) forget(child *Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = slices.DeleteFunc(s.children, func(c *Scope) bool { return c == child })
}

// Go spawns fn and discards the handle.
func (s *Scope) Go(name string, fn func(ctx context.Context) error) {
	_ = s.Spawn(name, fn)
}
