// Package scheduler executes analysis tasks on a fixed pool of workers in
// dependency order.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/scope"
	"go.trai.ch/zerr"
)

// Scheduler manages the execution of analysis tasks.
type Scheduler struct {
	executor ports.Executor
	tracer   ports.Tracer
	workers  int
	logger   ports.Logger
	metrics  ports.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the pool size. Non-positive values keep the default.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger task failures are reported to.
func WithLogger(l ports.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics.OrNoOp(m) }
}

// New creates a new Scheduler with runtime.NumCPU workers.
func New(executor ports.Executor, tracer ports.Tracer, opts ...Option) *Scheduler {
	s := &Scheduler{
		executor: executor,
		tracer:   tracer,
		workers:  runtime.NumCPU(),
		metrics:  metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// RunOption configures a single Run.
type RunOption func(*runState)

// Completed marks modules that are not part of the run but whose results
// are already available. Tasks may depend on them.
func Completed(ids ...domain.ModuleID) RunOption {
	return func(st *runState) {
		for _, id := range ids {
			st.completed[id] = true
		}
	}
}

type taskResult struct {
	task     *domain.AnalysisTask
	result   domain.TaskResult
	err      error
	duration time.Duration
}

type runState struct {
	tasks      map[domain.ModuleID]*domain.AnalysisTask
	order      []*domain.AnalysisTask
	outcomes   map[domain.ModuleID]*domain.ModuleOutcome
	waiting    map[domain.ModuleID]int
	dependents map[domain.ModuleID][]domain.ModuleID
	completed  map[domain.ModuleID]bool
	ready      readyQueue
	active     int
}

func newRunState(tasks []domain.AnalysisTask, opts []RunOption) *runState {
	st := &runState{
		tasks:      make(map[domain.ModuleID]*domain.AnalysisTask, len(tasks)),
		outcomes:   make(map[domain.ModuleID]*domain.ModuleOutcome, len(tasks)),
		waiting:    make(map[domain.ModuleID]int, len(tasks)),
		dependents: make(map[domain.ModuleID][]domain.ModuleID),
		completed:  make(map[domain.ModuleID]bool),
	}
	for _, opt := range opts {
		opt(st)
	}

	for i := range tasks {
		t := tasks[i]
		if _, dup := st.tasks[t.Module]; dup {
			continue
		}
		if t.Seq == 0 {
			t.Seq = uint64(i)
		}
		if t.Name == "" {
			t.Name = t.Module.String()
		}
		st.tasks[t.Module] = &t
		st.order = append(st.order, &t)
		st.outcomes[t.Module] = &domain.ModuleOutcome{Module: t.Module, Name: t.Name, Status: domain.TaskPending}
	}
	slices.SortStableFunc(st.order, func(a, b *domain.AnalysisTask) int {
		return cmp.Or(cmp.Compare(a.Rank, b.Rank), cmp.Compare(a.Seq, b.Seq))
	})
	return st
}

// Run executes tasks and returns one outcome per task. A failed task skips
// every task that transitively depends on it; the rest of the run goes on.
// Only cancellation of ctx aborts the run: tasks that had not finished are
// marked cancelled and the context error is returned with the partial
// outcomes.
func (s *Scheduler) Run(
	ctx context.Context,
	tasks []domain.AnalysisTask,
	opts ...RunOption,
) (map[domain.ModuleID]*domain.ModuleOutcome, error) {
	state := newRunState(tasks, opts)
	s.emitPlan(ctx, state)
	s.resolveDeps(state)

	if state.ready.Len() == 0 && !state.hasPending() {
		return state.outcomes, nil
	}

	scopeOpts := []scope.Option{scope.WithName("scheduler")}
	if s.logger != nil {
		scopeOpts = append(scopeOpts, scope.WithLogger(s.logger))
	}
	sc := scope.Open(ctx, scopeOpts...)

	work := make(chan *domain.AnalysisTask)
	results := make(chan taskResult, len(state.tasks))
	for i := range min(s.workers, len(state.tasks)) {
		sc.Go(fmt.Sprintf("worker/%d", i), func(ctx context.Context) error {
			for t := range work {
				results <- s.executeTask(ctx, t)
			}
			return nil
		})
	}

	loopErr := s.runExecutionLoop(sc.Context(), state, work, results)
	close(work)
	if loopErr != nil {
		sc.Cancel()
	}
	closeErr := sc.Close()
	close(results)
	for r := range results {
		s.commit(sc.Context(), state, r)
	}

	if loopErr == nil {
		return state.outcomes, closeErr
	}
	for _, o := range state.outcomes {
		if !o.Status.IsTerminal() {
			o.Status = domain.TaskCancelled
			o.Cause = loopErr
			s.metrics.Count(domain.MetricSchedulerTasks, 1, domain.L("status", string(domain.TaskCancelled)))
		}
	}
	return state.outcomes, loopErr
}

func (s *Scheduler) emitPlan(ctx context.Context, state *runState) {
	names := make([]string, 0, len(state.order))
	deps := make(map[string][]string, len(state.order))
	for _, t := range state.order {
		names = append(names, t.Name)
		var depNames []string
		for _, d := range t.Deps {
			if dt, ok := state.tasks[d]; ok {
				depNames = append(depNames, dt.Name)
			}
		}
		if len(depNames) > 0 {
			deps[t.Name] = depNames
		}
	}
	s.tracer.EmitPlan(ctx, names, deps, names)
}

// resolveDeps counts the unfinished dependencies of each task, fails tasks
// with missing dependencies and queues the tasks that are ready.
func (s *Scheduler) resolveDeps(state *runState) {
	var missing []*domain.AnalysisTask
	for _, t := range state.order {
		n := 0
		var absent []domain.ModuleID
		for _, d := range t.Deps {
			switch {
			case state.tasks[d] != nil:
				state.dependents[d] = append(state.dependents[d], t.Module)
				n++
			case state.completed[d]:
			default:
				absent = append(absent, d)
			}
		}
		state.waiting[t.Module] = n
		if len(absent) > 0 {
			o := state.outcomes[t.Module]
			o.Status = domain.TaskFailed
			o.Cause = zerr.With(zerr.Wrap(domain.ErrMissingDependency, absent[0].String()), "module", t.Name)
			missing = append(missing, t)
		}
	}
	for _, t := range missing {
		s.metrics.Count(domain.MetricSchedulerTasks, 1, domain.L("status", string(domain.TaskFailed)))
		s.report(state.outcomes[t.Module].Cause)
		s.skipDependents(state, t)
	}
	for _, t := range state.order {
		if state.waiting[t.Module] == 0 && state.outcomes[t.Module].Status == domain.TaskPending {
			state.outcomes[t.Module].Status = domain.TaskReady
			state.ready.push(t)
		}
	}
}

// runExecutionLoop dispatches ready tasks while workers are free and
// commits results as they arrive. It returns once nothing is running or
// ready, or when ctx is cancelled.
func (s *Scheduler) runExecutionLoop(
	ctx context.Context,
	state *runState,
	work chan<- *domain.AnalysisTask,
	results <-chan taskResult,
) error {
	for {
		for state.active < s.workers && state.ready.Len() > 0 {
			t := state.ready.pop()
			select {
			case work <- t:
				state.active++
				state.outcomes[t.Module].Status = domain.TaskRunning
			case <-ctx.Done():
				state.ready.push(t)
				return scope.Checkpoint(ctx)
			}
		}

		if state.active == 0 {
			s.failStuck(state)
			return nil
		}

		select {
		case r := <-results:
			state.active--
			s.commit(ctx, state, r)
		case <-ctx.Done():
			return scope.Checkpoint(ctx)
		}
	}
}

func (s *Scheduler) executeTask(ctx context.Context, t *domain.AnalysisTask) taskResult {
	start := time.Now()
	if err := scope.Checkpoint(ctx); err != nil {
		return taskResult{task: t, err: err}
	}

	ctx, span := s.tracer.Start(ctx, t.Name)
	res, err := s.execute(ctx, t)
	if err != nil {
		span.RecordError(err)
	}
	if res.Cached {
		span.SetAttribute(telemetry.AttrCached, true)
	}
	span.End()

	return taskResult{task: t, result: res, err: err, duration: time.Since(start)}
}

func (s *Scheduler) execute(ctx context.Context, t *domain.AnalysisTask) (res domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = zerr.Wrap(domain.ErrTaskFailed, fmt.Sprintf("task %s panicked: %v", t.Name, r))
		}
	}()
	return s.executor.Execute(ctx, t)
}

// commit records a finished task and releases or skips its dependents.
func (s *Scheduler) commit(ctx context.Context, state *runState, r taskResult) {
	o := state.outcomes[r.task.Module]
	if o.Status.IsTerminal() {
		return
	}
	o.Duration = r.duration

	switch {
	case r.err == nil:
		o.Status = domain.TaskDone
		o.Result = r.result.Result
		o.Cached = r.result.Cached
	case domain.IsCancellation(r.err) && ctx.Err() != nil:
		o.Status = domain.TaskCancelled
		o.Cause = r.err
	default:
		o.Status = domain.TaskFailed
		o.Cause = r.err
		s.report(zerr.With(zerr.Wrap(r.err, "task failed"), "module", r.task.Name))
	}

	s.metrics.Count(domain.MetricSchedulerTasks, 1, domain.L("status", string(o.Status)))
	if r.duration > 0 {
		s.metrics.Observe(domain.MetricSchedulerDuration, r.duration.Seconds(), domain.L("status", string(o.Status)))
	}

	switch o.Status {
	case domain.TaskDone:
		s.release(state, r.task)
	case domain.TaskFailed:
		s.skipDependents(state, r.task)
	}
}

// release makes dependents of t ready once all their dependencies are done.
func (s *Scheduler) release(state *runState, t *domain.AnalysisTask) {
	for _, id := range state.dependents[t.Module] {
		state.waiting[id]--
		o := state.outcomes[id]
		if state.waiting[id] == 0 && o.Status == domain.TaskPending {
			o.Status = domain.TaskReady
			state.ready.push(state.tasks[id])
		}
	}
}

// skipDependents marks every task transitively depending on failed as skipped.
func (s *Scheduler) skipDependents(state *runState, failed *domain.AnalysisTask) {
	for _, id := range state.dependents[failed.Module] {
		o := state.outcomes[id]
		if o.Status.IsTerminal() || o.Status == domain.TaskRunning {
			continue
		}
		o.Status = domain.TaskSkipped
		o.Cause = zerr.With(zerr.Wrap(domain.ErrDependencyFailed, failed.Name), "module", o.Name)
		s.metrics.Count(domain.MetricSchedulerTasks, 1, domain.L("status", string(domain.TaskSkipped)))
		s.skipDependents(state, state.tasks[id])
	}
}

// failStuck fails tasks that can never become ready. This only happens when
// the tasks themselves form a cycle.
func (s *Scheduler) failStuck(state *runState) {
	for _, t := range state.order {
		o := state.outcomes[t.Module]
		if o.Status == domain.TaskPending {
			o.Status = domain.TaskFailed
			o.Cause = zerr.With(zerr.Wrap(domain.ErrCycleDetected, "task never became ready"), "module", t.Name)
			s.metrics.Count(domain.MetricSchedulerTasks, 1, domain.L("status", string(domain.TaskFailed)))
		}
	}
}

func (state *runState) hasPending() bool {
	for _, o := range state.outcomes {
		if o.Status == domain.TaskPending {
			return true
		}
	}
	return false
}

func (s *Scheduler) report(err error) {
	if s.logger != nil {
		s.logger.Error(err)
	}
}
