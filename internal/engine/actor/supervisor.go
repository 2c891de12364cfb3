package actor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/scope"
	"go.trai.ch/zerr"
	"golang.org/x/time/rate"
)

// PoisonError reports a message that crashed its actor too many times and
// was discarded. It matches both ErrPoisonMessage and the last crash cause.
type PoisonError struct {
	Actor   ID
	Message any
	Crashes int
	Cause   error
}

func (e *PoisonError) Error() string {
	return fmt.Sprintf("%s: actor %s crashed %d times: %v", domain.ErrPoisonMessage, e.Actor, e.Crashes, e.Cause)
}

// Unwrap returns the sentinel and the cause.
func (e *PoisonError) Unwrap() []error {
	return []error{domain.ErrPoisonMessage, e.Cause}
}

type directive int

const (
	restart directive = iota
	stop
)

// Supervisor owns actors and child supervisors and applies its restart
// strategy when one of them crashes.
type Supervisor struct {
	name        string
	strategy    domain.Strategy
	poisonLimit int
	maxRestarts int
	window      time.Duration
	logger      ports.Logger
	metrics     ports.Metrics
	onPoison    func(*PoisonError)

	mu       sync.Mutex
	parent   *Supervisor
	actors   []*actor
	children []*Supervisor
	scope    *scope.Scope
	stopped  bool
	err      error
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithName names the supervisor in logs and scopes.
func WithName(name string) Option {
	return func(s *Supervisor) { s.name = name }
}

// WithStrategy sets the restart strategy.
func WithStrategy(strategy domain.Strategy) Option {
	return func(s *Supervisor) { s.strategy = strategy }
}

// WithPoisonLimit sets after how many crashes a message is discarded.
func WithPoisonLimit(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.poisonLimit = n
		}
	}
}

// WithRestartLimit allows at most max restarts per actor within window.
// A non-positive max disables the limit.
func WithRestartLimit(maxRestarts int, window time.Duration) Option {
	return func(s *Supervisor) {
		s.maxRestarts = maxRestarts
		s.window = window
	}
}

// WithLogger sets the logger crashes are reported to.
func WithLogger(l ports.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.Metrics) Option {
	return func(s *Supervisor) { s.metrics = metrics.OrNoOp(m) }
}

// WithPoisonHandler registers a callback for discarded messages.
func WithPoisonHandler(fn func(*PoisonError)) Option {
	return func(s *Supervisor) { s.onPoison = fn }
}

// NewSupervisor creates a supervisor. Actors spawned before Start queue
// their messages until it is called.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		name:        "supervisor",
		strategy:    domain.OneForOne,
		poisonLimit: domain.DefaultPoisonLimit,
		maxRestarts: domain.DefaultMaxRestarts,
		window:      domain.DefaultRestartWindow,
		metrics:     metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategy returns the supervisor's restart strategy.
func (s *Supervisor) Strategy() domain.Strategy {
	return s.strategy
}

// Spawn creates an actor. If the supervisor is running the actor starts
// immediately.
func (s *Supervisor) Spawn(props Props) *Ref {
	a := newActor(s, props)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		a.stop(context.Background(), domain.ErrActorStopped)
		return &Ref{a: a}
	}
	s.actors = append(s.actors, a)
	if s.scope != nil {
		s.startLocked(a)
	}
	return &Ref{a: a}
}

// Replace spawns a fresh actor from the props of the stopped actor old and
// takes over its place among s's actors. It reports false once s is
// stopping.
func (s *Supervisor) Replace(old *Ref) (*Ref, bool) {
	a := newActor(s, old.a.props)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	if i := slices.Index(s.actors, old.a); i >= 0 {
		s.actors[i] = a
	} else {
		s.actors = append(s.actors, a)
	}
	if s.scope != nil {
		s.startLocked(a)
	}
	s.metrics.Count(domain.MetricActorReplaced, 1, domain.L("actor", a.props.Name))
	return &Ref{a: a}, true
}

// Supervise makes child a child supervisor of s. Failures the child
// escalates are handled by s.
func (s *Supervisor) Supervise(child *Supervisor) {
	child.mu.Lock()
	child.parent = s
	child.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.children = append(s.children, child)
	if s.scope != nil {
		child.Start(s.scope)
	}
}

// Start runs every actor in a child scope of parent.
func (s *Supervisor) Start(parent *scope.Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scope != nil || s.stopped {
		return
	}
	opts := []scope.Option{scope.WithName(s.name)}
	if s.logger != nil {
		opts = append(opts, scope.WithLogger(s.logger))
	}
	s.scope = parent.Child(opts...)
	for _, a := range s.actors {
		s.startLocked(a)
	}
	for _, c := range s.children {
		c.Start(s.scope)
	}
}

func (s *Supervisor) startLocked(a *actor) {
	h := s.scope.Spawn(string(a.id), a.run)
	if h.State() == scope.Failed || h.State() == scope.Cancelled {
		a.stop(context.Background(), domain.ErrActorStopped)
	}
}

// Stop stops every actor and child supervisor and waits for them to exit.
// Queued requests fail with ErrActorStopped.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sc := s.scope
	actors := append([]*actor(nil), s.actors...)
	children := append([]*Supervisor(nil), s.children...)
	s.mu.Unlock()

	var errs []error
	for _, c := range children {
		errs = append(errs, c.Stop())
	}
	if sc == nil {
		for _, a := range actors {
			a.stop(context.Background(), domain.ErrActorStopped)
		}
		return errors.Join(errs...)
	}
	sc.Cancel()
	errs = append(errs, sc.Close())
	return errors.Join(errs...)
}

// Err reports escalations that reached the root and actors stopped by
// their restart limit, including those of child supervisors.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	err := s.err
	children := append([]*Supervisor(nil), s.children...)
	s.mu.Unlock()

	errs := []error{err}
	for _, c := range children {
		errs = append(errs, c.Err())
	}
	return errors.Join(errs...)
}

func (s *Supervisor) newLimiter() *rate.Limiter {
	if s.maxRestarts <= 0 || s.window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(s.window/time.Duration(s.maxRestarts)), s.maxRestarts)
}

// crashed runs on the failing actor's goroutine. env is nil when the
// incarnation failed to start.
func (s *Supervisor) crashed(a *actor, env *envelope, cause error) (directive, error) {
	s.metrics.Count(domain.MetricActorCrashes, 1, domain.L("actor", a.props.Name))
	s.report(zerr.With(zerr.Wrap(cause, "actor crashed"), "actor", string(a.id)))

	if env != nil {
		env.crashes++
		if env.crashes >= s.poisonLimit {
			s.poison(a, env, cause)
		} else {
			a.mailbox.pushFront(env)
		}
	}

	if !a.limiter.Allow() {
		err := zerr.With(zerr.Wrap(domain.ErrRestartLimit, "actor "+string(a.id)), "restarts", a.restarts.Load())
		s.fail(err)
		return stop, err
	}

	switch s.strategy {
	case domain.AllForOne:
		s.restartAll(a)
		return restart, nil
	case domain.Escalate:
		return s.escalate(a, cause)
	default:
		return restart, nil
	}
}

func (s *Supervisor) poison(a *actor, env *envelope, cause error) {
	perr := &PoisonError{Actor: a.id, Message: env.msg, Crashes: env.crashes, Cause: cause}
	env.resolve(nil, perr)
	s.metrics.Count(domain.MetricActorPoisoned, 1, domain.L("actor", a.props.Name))
	s.report(perr)
	if s.onPoison != nil {
		s.onPoison(perr)
	}
}

// escalate hands the failure of a to the parent supervisor.
func (s *Supervisor) escalate(a *actor, cause error) (directive, error) {
	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()

	if parent == nil {
		err := errors.Join(zerr.Wrap(domain.ErrEscalated, "supervisor "+s.name), cause)
		s.fail(err)
		return stop, err
	}
	return parent.childFailed(s, a, cause)
}

// childFailed applies s's strategy to the whole child supervisor.
func (s *Supervisor) childFailed(child *Supervisor, a *actor, cause error) (directive, error) {
	switch s.strategy {
	case domain.AllForOne:
		s.restartAll(a)
		return restart, nil
	case domain.Escalate:
		return s.escalate(a, cause)
	default:
		child.restartAll(a)
		return restart, nil
	}
}

// restartAll flags every actor below s except the one restarting itself.
func (s *Supervisor) restartAll(except *actor) {
	s.mu.Lock()
	actors := append([]*actor(nil), s.actors...)
	children := append([]*Supervisor(nil), s.children...)
	s.mu.Unlock()

	for _, a := range actors {
		if a != except {
			a.requestRestart()
		}
	}
	for _, c := range children {
		c.restartAll(except)
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.err = errors.Join(s.err, err)
	s.mu.Unlock()
	s.report(err)
}

func (s *Supervisor) report(err error) {
	if s.logger != nil {
		s.logger.Error(err)
	}
}
