// Package actor runs isolated, stateful workers under supervision.
//
// An actor owns a mailbox and a Behavior and handles one message at a time
// on its own goroutine. When Receive fails or panics the actor's
// Supervisor decides whether the message is redelivered or discarded and
// whether the actor, its siblings or its whole supervisor restart.
package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"golang.org/x/time/rate"
)

// Behavior handles the messages of one actor incarnation.
type Behavior interface {
	Receive(ctx context.Context, msg any) (any, error)
}

// Starter is implemented by behaviors that need setup before their first
// message. A failing Started counts as a crash.
type Starter interface {
	Started(ctx context.Context) error
}

// Stopper is implemented by behaviors that release resources when their
// incarnation ends, on restart or stop.
type Stopper interface {
	Stopped(ctx context.Context)
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(ctx context.Context, msg any) (any, error)

// Receive calls f.
func (f BehaviorFunc) Receive(ctx context.Context, msg any) (any, error) {
	return f(ctx, msg)
}

// Props describes how to create an actor.
type Props struct {
	Name string
	// New creates a fresh behavior for every incarnation.
	New func() Behavior
	// Mailbox bounds the queue; zero means unbounded.
	Mailbox int
}

// ID identifies an actor for its whole life, across restarts.
type ID string

// State is the lifecycle state of an actor.
type State int32

const (
	// Starting is the state before the first incarnation is running.
	Starting State = iota
	// Running means the actor is processing messages.
	Running
	// Failed means the last message crashed and the supervisor is deciding.
	Failed
	// Restarting means a fresh incarnation is being created.
	Restarting
	// Stopped is terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Restarting:
		return "restarting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type actor struct {
	id    ID
	props Props
	sup   *Supervisor

	mailbox  *mailbox
	limiter  *rate.Limiter
	behavior Behavior

	state          atomic.Int32
	restarts       atomic.Int64
	pendingRestart atomic.Bool

	stopOnce sync.Once
	done     chan struct{}
}

func newActor(sup *Supervisor, props Props) *actor {
	a := &actor{
		id:      ID(props.Name + "#" + uuid.NewString()),
		props:   props,
		sup:     sup,
		mailbox: newMailbox(props.Mailbox),
		limiter: sup.newLimiter(),
		done:    make(chan struct{}),
	}
	a.state.Store(int32(Starting))
	return a
}

// run is the actor's goroutine.
func (a *actor) run(ctx context.Context) error {
	if !a.boot(ctx) {
		return nil
	}
	for {
		env, ok := a.mailbox.pop(ctx)
		if !ok {
			a.stop(ctx, domain.ErrActorStopped)
			return nil
		}
		if a.pendingRestart.Swap(false) && !a.reboot(ctx) {
			env.resolve(nil, domain.ErrActorStopped)
			return nil
		}
		if env.expired() {
			continue
		}

		value, err := a.invoke(ctx, env)
		if err == nil {
			env.resolve(value, nil)
			continue
		}
		if domain.IsCancellation(err) {
			if ctx.Err() != nil {
				env.resolve(nil, err)
				a.stop(ctx, domain.ErrActorStopped)
				return nil
			}
			// The asker gave up; that is not a crash.
			if env.expired() {
				env.resolve(nil, err)
				continue
			}
		}

		a.state.Store(int32(Failed))
		d, cause := a.sup.crashed(a, env, err)
		if d == stop {
			a.stop(ctx, cause)
			return nil
		}
		if !a.reboot(ctx) {
			return nil
		}
	}
}

// boot creates incarnations until one starts or the supervisor gives up.
func (a *actor) boot(ctx context.Context) bool {
	for {
		a.behavior = a.props.New()
		err := a.started(ctx)
		if err == nil {
			a.state.Store(int32(Running))
			return true
		}
		a.state.Store(int32(Failed))
		d, cause := a.sup.crashed(a, nil, err)
		if d == stop {
			a.stop(ctx, cause)
			return false
		}
		a.state.Store(int32(Restarting))
		a.countRestart()
	}
}

func (a *actor) reboot(ctx context.Context) bool {
	a.state.Store(int32(Restarting))
	a.stopped(ctx)
	a.countRestart()
	return a.boot(ctx)
}

func (a *actor) countRestart() {
	a.restarts.Add(1)
	a.sup.metrics.Count(domain.MetricActorRestarts, 1,
		domain.L("actor", a.props.Name), domain.L("strategy", string(a.sup.strategy)))
}

func (a *actor) invoke(ctx context.Context, env *envelope) (value any, err error) {
	if env.ctx != nil {
		var cancel context.CancelFunc
		ctx, cancel = mergeContext(ctx, env.ctx)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = zerr.With(
				zerr.Wrap(domain.ErrTaskFailed, fmt.Sprintf("actor %s panicked: %v", a.id, r)),
				"stack", string(debug.Stack()),
			)
		}
	}()
	return a.behavior.Receive(ctx, env.msg)
}

func (a *actor) started(ctx context.Context) (err error) {
	s, ok := a.behavior.(Starter)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = zerr.Wrap(domain.ErrTaskFailed, fmt.Sprintf("actor %s panicked on start: %v", a.id, r))
		}
	}()
	return s.Started(ctx)
}

func (a *actor) stopped(ctx context.Context) {
	s, ok := a.behavior.(Stopper)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	s.Stopped(ctx)
}

// stop ends the actor and fails every queued request with cause.
func (a *actor) stop(ctx context.Context, cause error) {
	a.stopOnce.Do(func() {
		for _, env := range a.mailbox.close() {
			env.resolve(nil, cause)
		}
		if a.behavior != nil {
			a.stopped(ctx)
		}
		a.state.Store(int32(Stopped))
		close(a.done)
	})
}

// requestRestart asks the actor to restart before its next message.
func (a *actor) requestRestart() {
	if State(a.state.Load()) != Stopped {
		a.pendingRestart.Store(true)
	}
}

// mergeContext returns a context that ends when either parent ends.
func mergeContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(b)
	stop := context.AfterFunc(a, func() { cancel(context.Cause(a)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// Ref is the handle used to message an actor.
type Ref struct {
	a *actor
}

// ID returns the actor's stable identifier.
func (r *Ref) ID() ID { return r.a.id }

// Name returns the name the actor was spawned with.
func (r *Ref) Name() string { return r.a.props.Name }

// State returns the actor's lifecycle state.
func (r *Ref) State() State { return State(r.a.state.Load()) }

// Restarts returns how many times the actor was restarted.
func (r *Ref) Restarts() int { return int(r.a.restarts.Load()) }

// Pending returns the number of queued messages.
func (r *Ref) Pending() int { return r.a.mailbox.len() }

// Done is closed once the actor stopped.
func (r *Ref) Done() <-chan struct{} { return r.a.done }

// Tell enqueues msg without waiting for it to be handled.
func (r *Ref) Tell(msg any) error {
	return r.a.mailbox.push(&envelope{msg: msg})
}

// Ask enqueues msg and waits for the reply. If ctx ends first the call
// fails with ErrAskTimeout and the message is dropped when dequeued.
func (r *Ref) Ask(ctx context.Context, msg any) (any, error) {
	env := &envelope{msg: msg, ctx: ctx, reply: make(chan reply, 1)}
	if err := r.a.mailbox.push(env); err != nil {
		return nil, err
	}
	select {
	case rep := <-env.reply:
		return rep.value, rep.err
	case <-ctx.Done():
		return nil, errors.Join(domain.ErrAskTimeout, context.Cause(ctx))
	}
}
