package query_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/query"
	"go.trai.ch/kiln/internal/engine/scope"
)

func src(name string) domain.QueryKey {
	return domain.NewQueryKey(domain.KindSource, domain.NewModuleID(name))
}

func parse(name string) domain.QueryKey {
	return domain.NewQueryKey(domain.KindParse, domain.NewModuleID(name))
}

func check(name string) domain.QueryKey {
	return domain.NewQueryKey(domain.KindCheck, domain.NewModuleID(name))
}

// harness registers parse (strips comment lines) and check (joins the
// module's parse with its dependencies' checks) and counts executions per key.
type harness struct {
	engine *query.Engine
	deps   map[domain.ModuleID][]string

	mu    sync.Mutex
	execs map[domain.QueryKey]int
}

func newHarness(t *testing.T, deps map[string][]string, opts ...query.Option) *harness {
	t.Helper()
	h := &harness{
		engine: query.New(opts...),
		deps:   make(map[domain.ModuleID][]string),
		execs:  make(map[domain.QueryKey]int),
	}
	for name, ds := range deps {
		h.deps[domain.NewModuleID(name)] = ds
	}

	h.engine.Register(domain.KindParse, func(qc *query.Context, key domain.QueryKey) (any, error) {
		h.count(key)
		text, err := query.Get[string](qc, domain.NewQueryKey(domain.KindSource, key.Module))
		if err != nil {
			return nil, err
		}
		var kept []string
		for line := range strings.SplitSeq(text, "\n") {
			if !strings.HasPrefix(line, "#") {
				kept = append(kept, line)
			}
		}
		return strings.Join(kept, "\n"), nil
	})
	h.engine.Register(domain.KindCheck, func(qc *query.Context, key domain.QueryKey) (any, error) {
		h.count(key)
		body, err := query.Get[string](qc, domain.NewQueryKey(domain.KindParse, key.Module))
		if err != nil {
			return nil, err
		}
		parts := []string{body}
		for _, d := range h.deps[key.Module] {
			v, err := query.Get[string](qc, check(d))
			if err != nil {
				return nil, err
			}
			parts = append(parts, v)
		}
		return strings.Join(parts, "+"), nil
	})
	return h
}

func (h *harness) count(key domain.QueryKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.execs[key]++
}

func (h *harness) runs(key domain.QueryKey) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execs[key]
}

func (h *harness) value(t *testing.T, key domain.QueryKey) any {
	t.Helper()
	res, err := h.engine.Query(t.Context(), key)
	require.NoError(t, err)
	return res.Value
}

func TestEngine_MemoizesDerivedQueries(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.engine.SetInput(src("a"), "def f"))

	assert.Equal(t, "def f", h.value(t, check("a")))
	assert.Equal(t, "def f", h.value(t, check("a")))

	assert.Equal(t, 1, h.runs(check("a")))
	assert.Equal(t, 1, h.runs(parse("a")))

	stats := h.engine.Stats()
	assert.Equal(t, int64(2), stats.Executions)
	assert.Positive(t, stats.Hits)
	assert.Positive(t, stats.HitRate())
}

func TestEngine_SetInputWithEqualValueIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	require.True(t, h.engine.SetInput(src("a"), "def f"))
	h.value(t, check("a"))
	rev := h.engine.Revision()

	assert.False(t, h.engine.SetInput(src("a"), "def f"))
	assert.Equal(t, rev, h.engine.Revision())
	assert.False(t, h.engine.IsStale(check("a")))
}

func TestEngine_EarlyCutoff(t *testing.T) {
	h := newHarness(t, nil)
	h.engine.SetInput(src("a"), "def f")
	h.value(t, check("a"))

	// A comment edit changes the source but not the parse.
	require.True(t, h.engine.SetInput(src("a"), "# note\ndef f"))
	assert.True(t, h.engine.IsStale(check("a")))

	assert.Equal(t, "def f", h.value(t, check("a")))
	assert.Equal(t, 2, h.runs(parse("a")))
	assert.Equal(t, 1, h.runs(check("a")), "check must be confirmed, not recomputed")
	assert.Positive(t, h.engine.Stats().Cutoffs)
	assert.False(t, h.engine.IsStale(check("a")))

	require.True(t, h.engine.SetInput(src("a"), "def g"))
	assert.Equal(t, "def g", h.value(t, check("a")))
	assert.Equal(t, 2, h.runs(check("a")))
}

func TestEngine_TransitiveInvalidation(t *testing.T) {
	h := newHarness(t, map[string][]string{"a": {"b"}, "b": {"c"}})
	for _, name := range []string{"a", "b", "c", "d"} {
		h.engine.SetInput(src(name), name)
	}
	assert.Equal(t, "a+b+c", h.value(t, check("a")))
	assert.Equal(t, "d", h.value(t, check("d")))

	h.engine.SetInput(src("c"), "c2")
	assert.True(t, h.engine.IsStale(check("a")))
	assert.True(t, h.engine.IsStale(check("b")))
	assert.False(t, h.engine.IsStale(check("d")))

	assert.Equal(t, "a+b+c2", h.value(t, check("a")))
	assert.Equal(t, "d", h.value(t, check("d")))
	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, 2, h.runs(check(name)), name)
	}
	assert.Equal(t, 1, h.runs(check("d")))
	assert.Equal(t, 1, h.runs(parse("a")), "unchanged sources are not reparsed")
}

func TestEngine_RecordsRuntimeReads(t *testing.T) {
	h := newHarness(t, map[string][]string{"a": {"b"}})
	h.engine.SetInput(src("a"), "a")
	h.engine.SetInput(src("b"), "b")
	h.value(t, check("a"))

	res, ok := h.engine.Peek(check("a"))
	require.True(t, ok)
	assert.Equal(t, []domain.QueryKey{parse("a"), check("b")}, res.Reads)
	assert.Equal(t, check("a"), res.Key)

	_, ok = h.engine.Peek(check("z"))
	assert.False(t, ok)
}

func TestEngine_DeduplicatesConcurrentQueries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := query.New()
		release := make(chan struct{})
		var execs atomic.Int32
		e.Register(domain.KindCheck, func(*query.Context, domain.QueryKey) (any, error) {
			execs.Add(1)
			<-release
			return "v", nil
		})

		var wg sync.WaitGroup
		for range 4 {
			wg.Go(func() {
				res, err := e.Query(t.Context(), check("a"))
				assert.NoError(t, err)
				assert.Equal(t, "v", res.Value)
			})
		}
		synctest.Wait()
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), execs.Load())
		assert.Equal(t, int64(3), e.Stats().Deduplicated)
	})
}

func TestEngine_FollowerRetriesWhenLeaderCancelled(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		e := query.New()
		release := make(chan struct{})
		var execs atomic.Int32
		e.Register(domain.KindCheck, func(qc *query.Context, _ domain.QueryKey) (any, error) {
			execs.Add(1)
			select {
			case <-qc.Context().Done():
				return nil, scope.Checkpoint(qc.Context())
			case <-release:
				return "v", nil
			}
		})

		leaderCtx, cancelLeader := context.WithCancel(t.Context())
		leaderErr := make(chan error, 1)
		go func() {
			_, err := e.Query(leaderCtx, check("a"))
			leaderErr <- err
		}()
		synctest.Wait()

		type outcome struct {
			res domain.QueryResult
			err error
		}
		follower := make(chan outcome, 1)
		go func() {
			res, err := e.Query(t.Context(), check("a"))
			follower <- outcome{res, err}
		}()
		synctest.Wait()

		cancelLeader()
		synctest.Wait()
		require.ErrorIs(t, <-leaderErr, domain.ErrCancelled)

		close(release)
		got := <-follower
		require.NoError(t, got.err)
		assert.Equal(t, "v", got.res.Value)
		assert.Equal(t, int32(2), execs.Load())
	})
}

func TestEngine_DetectsCycles(t *testing.T) {
	h := newHarness(t, map[string][]string{"a": {"b"}, "b": {"a"}, "self": {"self"}})
	h.engine.SetInput(src("a"), "a")
	h.engine.SetInput(src("b"), "b")
	h.engine.SetInput(src("self"), "s")

	_, err := h.engine.Query(t.Context(), check("a"))
	require.ErrorIs(t, err, domain.ErrQueryCycle)
	assert.ErrorContains(t, err, check("a").String()+" -> "+check("b").String()+" -> "+check("a").String())

	_, err = h.engine.Query(t.Context(), check("self"))
	require.ErrorIs(t, err, domain.ErrQueryCycle)

	_, ok := h.engine.Peek(check("a"))
	assert.False(t, ok, "failed queries are not memoized")
}

func TestEngine_ErrorsAreNotMemoized(t *testing.T) {
	e := query.New()
	boom := errors.New("boom")
	var calls int
	e.Register(domain.KindCheck, func(*query.Context, domain.QueryKey) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	})

	_, err := e.Query(t.Context(), check("a"))
	require.ErrorIs(t, err, boom)

	res, err := e.Query(t.Context(), check("a"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 2, calls)
}

func TestEngine_RecoversPanics(t *testing.T) {
	e := query.New()
	e.Register(domain.KindCheck, func(*query.Context, domain.QueryKey) (any, error) {
		panic("broken analyzer")
	})

	_, err := e.Query(t.Context(), check("a"))
	require.ErrorIs(t, err, domain.ErrTaskFailed)
	assert.ErrorContains(t, err, "broken analyzer")
}

func TestEngine_UnknownKind(t *testing.T) {
	e := query.New()
	_, err := e.Query(t.Context(), parse("a"))
	require.ErrorIs(t, err, domain.ErrUnknownQuery)

	h := newHarness(t, nil)
	h.engine.SetInput(src("a"), "a")
	h.value(t, check("a"))
	h.engine.RemoveInput(src("a"))
	_, err = h.engine.Query(t.Context(), check("a"))
	require.ErrorIs(t, err, domain.ErrUnknownQuery)
}

func TestEngine_GetTypeMismatch(t *testing.T) {
	e := query.New()
	e.SetInput(src("a"), 42)
	e.Register(domain.KindParse, func(qc *query.Context, key domain.QueryKey) (any, error) {
		return query.Get[string](qc, domain.NewQueryKey(domain.KindSource, key.Module))
	})

	_, err := e.Query(t.Context(), parse("a"))
	require.ErrorIs(t, err, query.ErrValueType)
}

func TestEngine_InvalidateForcesRecompute(t *testing.T) {
	h := newHarness(t, map[string][]string{"a": {"b"}})
	h.engine.SetInput(src("a"), "a")
	h.engine.SetInput(src("b"), "b")
	h.value(t, check("a"))

	h.engine.Invalidate(check("b"))
	assert.True(t, h.engine.IsStale(check("a")))

	h.value(t, check("a"))
	assert.Equal(t, 2, h.runs(check("b")))
	assert.Equal(t, 1, h.runs(check("a")), "b's value did not change")
}

func TestEngine_Checkpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	h := newHarness(t, nil)
	h.engine.SetInput(src("a"), "a")
	_, err := h.engine.Query(ctx, check("a"))
	require.ErrorIs(t, err, domain.ErrCancelled)
	assert.Zero(t, h.runs(check("a")))

	coarse := newHarness(t, nil, query.WithCheckpoint(domain.CheckpointTask))
	coarse.engine.SetInput(src("a"), "a")
	coarse.value(t, check("a"))
	res, err := coarse.engine.Query(ctx, check("a"))
	require.NoError(t, err, "memo hits do not observe cancellation at task granularity")
	assert.Equal(t, "a", res.Value)
}

func TestEngine_WithoutCutoff(t *testing.T) {
	h := newHarness(t, nil, query.WithoutCutoff(domain.KindParse))
	h.engine.SetInput(src("a"), "def f")
	h.value(t, check("a"))

	h.engine.SetInput(src("a"), "# note\ndef f")
	h.value(t, check("a"))
	assert.Equal(t, 2, h.runs(check("a")))
}
