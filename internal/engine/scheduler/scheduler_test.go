package scheduler_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/core/ports/mocks"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

type executorFunc func(ctx context.Context, t *domain.AnalysisTask) (domain.TaskResult, error)

func (f executorFunc) Execute(ctx context.Context, t *domain.AnalysisTask) (domain.TaskResult, error) {
	return f(ctx, t)
}

// recorder is an executor that records the order tasks ran in.
type recorder struct {
	mu    sync.Mutex
	order []string
	fail  map[string]error
}

func (r *recorder) Execute(_ context.Context, t *domain.AnalysisTask) (domain.TaskResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, t.Name)
	if err := r.fail[t.Name]; err != nil {
		return domain.TaskResult{}, err
	}
	return domain.TaskResult{Result: &domain.AnalysisResult{Module: t.Module}}, nil
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

func id(name string) domain.ModuleID { return domain.NewModuleID(name) }

func task(name string, rank int, deps ...string) domain.AnalysisTask {
	ids := make([]domain.ModuleID, len(deps))
	for i, d := range deps {
		ids[i] = id(d)
	}
	return domain.AnalysisTask{Module: id(name), Name: name, Rank: rank, Deps: ids}
}

func newScheduler(exec ports.Executor, opts ...scheduler.Option) *scheduler.Scheduler {
	return scheduler.New(exec, telemetry.NewNoOpTracer(), opts...)
}

func TestScheduler_RunsInDependencyOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	tracer := mocks.NewMockTracer(ctrl)
	tracer.EXPECT().EmitPlan(gomock.Any(),
		[]string{"a", "b", "c", "d"},
		map[string][]string{"b": {"a"}, "c": {"a"}, "d": {"b", "c"}},
		[]string{"a", "b", "c", "d"},
	)
	tracer.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string, _ ...ports.SpanOption) (context.Context, ports.Span) {
			return telemetry.NewNoOpTracer().Start(ctx, "")
		},
	).Times(4)

	rec := &recorder{}
	s := scheduler.New(rec, tracer, scheduler.WithWorkers(4))
	outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{
		task("d", 2, "b", "c"),
		task("b", 1, "a"),
		task("c", 1, "a"),
		task("a", 0),
	})
	require.NoError(t, err)

	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.Equal(t, domain.TaskDone, o.Status, o.Name)
		require.NotNil(t, o.Result)
		assert.Equal(t, o.Module, o.Result.Module)
	}

	order := rec.ran()
	require.Len(t, order, 4)
	assert.Equal(t, "a", order[0])
	assert.ElementsMatch(t, []string{"b", "c"}, order[1:3])
	assert.Equal(t, "d", order[3])
}

func TestScheduler_ReadyOrder(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(rec, scheduler.WithWorkers(1))

	tasks := []domain.AnalysisTask{
		{Module: id("low"), Name: "low", Rank: 0, Priority: 0, Seq: 1},
		{Module: id("high"), Name: "high", Rank: 0, Priority: 5, Seq: 2},
		{Module: id("late"), Name: "late", Rank: 1, Priority: 9, Seq: 3},
		{Module: id("tie"), Name: "tie", Rank: 0, Priority: 0, Seq: 4},
	}
	_, err := s.Run(t.Context(), tasks)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "tie", "late"}, rec.ran())
}

func TestScheduler_FailureSkipsDependents(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{fail: map[string]error{"a": boom}}
	s := newScheduler(rec, scheduler.WithWorkers(2))

	outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{
		task("a", 0),
		task("b", 1, "a"),
		task("c", 2, "b"),
		task("d", 0),
	})
	require.NoError(t, err, "failures produce a partial result, not an error")

	assert.Equal(t, domain.TaskFailed, outcomes[id("a")].Status)
	require.ErrorIs(t, outcomes[id("a")].Cause, boom)

	for _, m := range []domain.ModuleID{id("b"), id("c")} {
		assert.Equal(t, domain.TaskSkipped, outcomes[m].Status)
		require.ErrorIs(t, outcomes[m].Cause, domain.ErrDependencyFailed)
	}
	assert.ErrorContains(t, outcomes[id("c")].Cause, "b")
	assert.Equal(t, domain.TaskDone, outcomes[id("d")].Status)
	assert.ElementsMatch(t, []string{"a", "d"}, rec.ran())
}

func TestScheduler_PanicIsAFailure(t *testing.T) {
	s := newScheduler(executorFunc(func(context.Context, *domain.AnalysisTask) (domain.TaskResult, error) {
		panic("oops")
	}))
	outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{task("a", 0)})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, outcomes[id("a")].Status)
	require.ErrorIs(t, outcomes[id("a")].Cause, domain.ErrTaskFailed)
	assert.ErrorContains(t, outcomes[id("a")].Cause, "oops")
}

func TestScheduler_MissingDependency(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(rec)

	tasks := []domain.AnalysisTask{task("a", 1, "ghost"), task("b", 2, "a")}
	outcomes, err := s.Run(t.Context(), tasks)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, outcomes[id("a")].Status)
	require.ErrorIs(t, outcomes[id("a")].Cause, domain.ErrMissingDependency)
	assert.Equal(t, domain.TaskSkipped, outcomes[id("b")].Status)
	assert.Empty(t, rec.ran())

	outcomes, err = s.Run(t.Context(), tasks, scheduler.Completed(id("ghost")))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, outcomes[id("a")].Status)
	assert.Equal(t, domain.TaskDone, outcomes[id("b")].Status)
}

func TestScheduler_CycleFailsTasks(t *testing.T) {
	s := newScheduler(&recorder{})
	outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{
		task("a", 0, "b"),
		task("b", 0, "a"),
		task("c", 0),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, outcomes[id("a")].Cause, domain.ErrCycleDetected)
	assert.ErrorIs(t, outcomes[id("b")].Cause, domain.ErrCycleDetected)
	assert.Equal(t, domain.TaskDone, outcomes[id("c")].Status)
}

func TestScheduler_EagerDispatch(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		released := make(chan struct{})
		s := newScheduler(executorFunc(func(ctx context.Context, t *domain.AnalysisTask) (domain.TaskResult, error) {
			switch t.Name {
			case "slow":
				// Finishes only after a rank 2 task ran, so ranks cannot be barriers.
				select {
				case <-released:
				case <-ctx.Done():
					return domain.TaskResult{}, ctx.Err()
				}
			case "top":
				close(released)
			}
			return domain.TaskResult{}, nil
		}), scheduler.WithWorkers(2))

		outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{
			task("slow", 0),
			task("fast", 0),
			task("mid", 1, "fast"),
			task("top", 2, "mid"),
		})
		require.NoError(t, err)
		for _, o := range outcomes {
			assert.Equal(t, domain.TaskDone, o.Status, o.Name)
		}
	})
}

func TestScheduler_WorkerLimit(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var running, peak atomic.Int32
		s := newScheduler(executorFunc(func(context.Context, *domain.AnalysisTask) (domain.TaskResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return domain.TaskResult{}, nil
		}), scheduler.WithWorkers(3))

		var tasks []domain.AnalysisTask
		for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
			tasks = append(tasks, task(name, 0))
		}
		outcomes, err := s.Run(t.Context(), tasks)
		require.NoError(t, err)
		assert.Len(t, outcomes, 8)
		assert.Equal(t, int32(3), peak.Load())
	})
}

func TestScheduler_Cancellation(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		s := newScheduler(executorFunc(func(ctx context.Context, t *domain.AnalysisTask) (domain.TaskResult, error) {
			if t.Name == "block" {
				<-ctx.Done()
				return domain.TaskResult{}, ctx.Err()
			}
			return domain.TaskResult{}, nil
		}), scheduler.WithWorkers(2))

		var (
			outcomes map[domain.ModuleID]*domain.ModuleOutcome
			err      error
			done     = make(chan struct{})
		)
		go func() {
			defer close(done)
			outcomes, err = s.Run(ctx, []domain.AnalysisTask{
				task("quick", 0),
				task("block", 0),
				task("after", 1, "block"),
			})
		}()
		synctest.Wait()
		cancel()
		<-done

		require.ErrorIs(t, err, domain.ErrCancelled)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, domain.TaskDone, outcomes[id("quick")].Status)
		assert.Equal(t, domain.TaskCancelled, outcomes[id("block")].Status)
		assert.Equal(t, domain.TaskCancelled, outcomes[id("after")].Status)
	})
}

func TestScheduler_CachedSpan(t *testing.T) {
	ctrl := gomock.NewController(t)
	span := mocks.NewMockSpan(ctrl)
	span.EXPECT().SetAttribute(telemetry.AttrCached, true)
	span.EXPECT().End()
	tracer := mocks.NewMockTracer(ctrl)
	tracer.EXPECT().EmitPlan(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any())
	tracer.EXPECT().Start(gomock.Any(), "a").Return(t.Context(), span)

	mockExec := mocks.NewMockExecutor(ctrl)
	mockExec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(domain.TaskResult{Cached: true}, nil)

	s := scheduler.New(mockExec, tracer)
	outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{task("a", 0)})
	require.NoError(t, err)
	assert.True(t, outcomes[id("a")].Cached)
}

func TestScheduler_FailureRecordsSpanError(t *testing.T) {
	ctrl := gomock.NewController(t)
	boom := errors.New("boom")
	span := mocks.NewMockSpan(ctrl)
	span.EXPECT().RecordError(boom)
	span.EXPECT().End()
	tracer := mocks.NewMockTracer(ctrl)
	tracer.EXPECT().EmitPlan(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any())
	tracer.EXPECT().Start(gomock.Any(), "a").Return(t.Context(), span)

	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Error(gomock.Any())

	s := scheduler.New(&recorder{fail: map[string]error{"a": boom}}, tracer, scheduler.WithLogger(log))
	outcomes, err := s.Run(t.Context(), []domain.AnalysisTask{task("a", 0)})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, outcomes[id("a")].Status)
}

func TestScheduler_Empty(t *testing.T) {
	outcomes, err := newScheduler(&recorder{}).Run(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}
