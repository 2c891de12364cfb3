package app

import (
	"context"
	"fmt"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/actor"
	"go.trai.ch/kiln/internal/engine/scope"
	"go.trai.ch/zerr"
)

// poolExecutor implements ports.Executor by asking a supervised pool of
// checker actors. A task whose query fails crashes its actor; the message
// is redelivered until the poison limit and then fails with a
// *actor.PoisonError wrapping the last cause.
type poolExecutor struct {
	pool *actor.Pool
}

// Execute implements ports.Executor.
func (e *poolExecutor) Execute(ctx context.Context, task *domain.AnalysisTask) (domain.TaskResult, error) {
	v, err := e.pool.Ask(ctx, task)
	if err != nil {
		return domain.TaskResult{}, err
	}
	res, ok := v.(domain.TaskResult)
	if !ok {
		return domain.TaskResult{}, zerr.With(zerr.Wrap(domain.ErrTaskFailed, "unexpected reply"), "type", fmt.Sprintf("%T", v))
	}
	return res, nil
}

// startExecutor spawns one checker actor per worker under a supervisor
// configured from the session's config. stop shuts the actors down.
func (s *Session) startExecutor(ctx context.Context, workers int) (exec *poolExecutor, stop func()) {
	opts := []actor.Option{
		actor.WithName("checkers"),
		actor.WithStrategy(s.cfg.Strategy),
		actor.WithPoisonLimit(s.cfg.PoisonLimit),
		actor.WithRestartLimit(s.cfg.MaxRestarts, s.cfg.RestartWindow),
		actor.WithMetrics(s.metrics),
	}
	scopeOpts := []scope.Option{scope.WithName("check")}
	if s.logger != nil {
		opts = append(opts, actor.WithLogger(s.logger))
		scopeOpts = append(scopeOpts, scope.WithLogger(s.logger))
	}
	sup := actor.NewSupervisor(opts...)

	mailbox := s.cfg.MailboxSize
	if mailbox > 0 {
		// The scheduler never has more than workers tasks in flight.
		mailbox = max(mailbox, workers)
	}
	pool := actor.NewPool(sup, actor.Props{
		Name:    "checker",
		New:     func() actor.Behavior { return actor.BehaviorFunc(s.receive) },
		Mailbox: mailbox,
	}, workers)

	sc := scope.Open(ctx, scopeOpts...)
	sup.Start(sc)
	return &poolExecutor{pool: pool}, func() { s.release(sup.Stop, sup.Err, sc.Close) }
}

// release runs every step in order and logs the errors they return.
func (s *Session) release(steps ...func() error) {
	for _, step := range steps {
		if err := step(); err != nil {
			s.warn(err)
		}
	}
}

// receive is the checker behavior: it brings one module's check query up
// to date. The result counts as cached when the memo was confirmed without
// recomputation or was decoded from the result cache.
func (s *Session) receive(ctx context.Context, msg any) (any, error) {
	task, ok := msg.(*domain.AnalysisTask)
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrTaskFailed, "unexpected message"), "type", fmt.Sprintf("%T", msg))
	}

	before, had := s.engine.Peek(task.Key)
	res, err := s.engine.Query(ctx, task.Key)
	if err != nil {
		return nil, err
	}
	c, ok := res.Value.(*checked)
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrTaskFailed, "check query returned no result"), "module", task.Name)
	}
	reused := had && before.Value == res.Value
	return domain.TaskResult{Result: c.result, Cached: reused || c.fromCache}, nil
}
