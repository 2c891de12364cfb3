// Package query implements the memoizing, demand-driven query engine.
//
// Every computation is a query identified by a domain.QueryKey. Input
// queries are set from outside with SetInput; derived queries are computed
// by a registered Func which reads other queries through its Context. The
// engine records each derived query's runtime read set and uses it to
// decide, after an input changed, whether a memo can be confirmed without
// recomputation.
package query

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/scope"
	"go.trai.ch/zerr"
	"golang.org/x/sync/singleflight"
)

// Func computes the value of a derived query. Reads of other queries must
// go through qc so they are recorded.
type Func func(qc *Context, key domain.QueryKey) (any, error)

type memo struct {
	result domain.QueryResult
	input  bool
	stale  bool
	// forced skips re-verification and always recomputes.
	forced bool
	// invalidated is the revision of the most recent stale marking.
	invalidated uint64
}

// Engine memoizes query results across revisions. It is safe for
// concurrent use.
type Engine struct {
	mu       sync.Mutex
	funcs    map[domain.QueryKind]Func
	memos    map[domain.QueryKey]*memo
	readers  map[domain.QueryKey]map[domain.QueryKey]struct{}
	revision uint64
	noCutoff map[domain.QueryKind]bool

	group   singleflight.Group
	policy  scope.Policy
	logger  ports.Logger
	metrics ports.Metrics
	stats   counters
}

// Option configures an Engine.
type Option func(*Engine)

// WithCheckpoint selects whether Query observes cancellation on entry.
func WithCheckpoint(level domain.Checkpoint) Option {
	return func(e *Engine) { e.policy = scope.NewPolicy(level) }
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(l ports.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics.OrNoOp(m) }
}

// WithoutCutoff disables early cutoff for the given kinds: their values
// always count as changed when recomputed.
func WithoutCutoff(kinds ...domain.QueryKind) Option {
	return func(e *Engine) {
		for _, k := range kinds {
			e.noCutoff[k] = true
		}
	}
}

// New creates an Engine at revision 1.
func New(opts ...Option) *Engine {
	e := &Engine{
		funcs:    make(map[domain.QueryKind]Func),
		memos:    make(map[domain.QueryKey]*memo),
		readers:  make(map[domain.QueryKey]map[domain.QueryKey]struct{}),
		revision: 1,
		noCutoff: make(map[domain.QueryKind]bool),
		policy:   scope.NewPolicy(domain.CheckpointQuery),
		metrics:  metrics.NoOp{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register installs the function computing queries of kind.
func (e *Engine) Register(kind domain.QueryKind, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[kind] = fn
}

// Revision returns the current revision.
func (e *Engine) Revision() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// SetInput stores value as the input query key. It reports false and does
// nothing when the value's fingerprint equals the stored one. Otherwise the
// revision advances and every memo that transitively read key becomes stale.
func (e *Engine) SetInput(key domain.QueryKey, value any) bool {
	fp := domain.Fingerprint(value)

	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.memos[key]; ok && m.input && fp != 0 && m.result.Fingerprint == fp {
		return false
	}
	e.revision++
	e.dropReadsLocked(key)
	e.memos[key] = &memo{
		input: true,
		result: domain.QueryResult{
			Key:         key,
			Value:       value,
			Fingerprint: fp,
			Generation:  e.revision,
			Verified:    e.revision,
		},
	}
	e.markReadersStaleLocked(key)
	return true
}

// RemoveInput drops an input query. Readers become stale and fail with
// ErrUnknownQuery if they read it again and no Func covers its kind.
func (e *Engine) RemoveInput(key domain.QueryKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.memos[key]; !ok || !m.input {
		return
	}
	e.revision++
	delete(e.memos, key)
	e.markReadersStaleLocked(key)
}

// Invalidate forces key to be recomputed on its next query and marks every
// memo that transitively read it stale.
func (e *Engine) Invalidate(key domain.QueryKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.revision++
	if m, ok := e.memos[key]; ok {
		if m.input {
			m.result.Generation = e.revision
			m.result.Verified = e.revision
		} else {
			m.stale = true
			m.forced = true
			m.invalidated = e.revision
		}
	}
	e.markReadersStaleLocked(key)
}

// Peek returns the memo of key without computing anything.
func (e *Engine) Peek(key domain.QueryKey) (domain.QueryResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.memos[key]
	if !ok {
		return domain.QueryResult{}, false
	}
	return m.result.Clone(), true
}

// IsStale reports whether key has a memo that must be re-verified before use.
func (e *Engine) IsStale(key domain.QueryKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.memos[key]
	return ok && m.stale
}

// Query returns the current value of key, computing it if needed.
// Concurrent queries for the same key share one computation. Errors are
// returned to every waiting caller and never memoized.
func (e *Engine) Query(ctx context.Context, key domain.QueryKey) (domain.QueryResult, error) {
	if err := e.policy.Check(ctx, scope.BoundaryQuery); err != nil {
		return domain.QueryResult{}, err
	}
	if err := checkCycle(ctx, key); err != nil {
		return domain.QueryResult{}, err
	}
	inner := withFrame(ctx, key)

	for {
		if res, ok := e.fresh(key); ok {
			e.hit(key)
			return res, nil
		}

		led := false
		ch := e.group.DoChan(key.String(), func() (any, error) {
			led = true
			return e.compute(inner, key)
		})

		select {
		case <-ctx.Done():
			return domain.QueryResult{}, scope.Checkpoint(ctx)
		case r := <-ch:
			if !led {
				e.stats.deduplicated.Add(1)
				e.metrics.Count(domain.MetricQueryDeduped, 1, domain.L("kind", key.Kind.String()))
			}
			if r.Err != nil {
				// The leader's context ended; this caller is still live.
				if !led && domain.IsCancellation(r.Err) && ctx.Err() == nil {
					continue
				}
				return domain.QueryResult{}, r.Err
			}
			res, _ := r.Val.(domain.QueryResult)
			return res.Clone(), nil
		}
	}
}

func (e *Engine) fresh(key domain.QueryKey) (domain.QueryResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.memos[key]
	if !ok || m.stale {
		return domain.QueryResult{}, false
	}
	return m.result.Clone(), true
}

func (e *Engine) hit(key domain.QueryKey) {
	e.stats.hits.Add(1)
	e.metrics.Count(domain.MetricQueryHits, 1, domain.L("kind", key.Kind.String()))
}

// compute runs inside the flight for key.
func (e *Engine) compute(ctx context.Context, key domain.QueryKey) (domain.QueryResult, error) {
	e.mu.Lock()
	m, ok := e.memos[key]
	if ok && !m.stale {
		res := m.result.Clone()
		e.mu.Unlock()
		e.hit(key)
		return res, nil
	}
	start := e.revision
	fn := e.funcs[key.Kind]
	var old *domain.QueryResult
	if ok {
		r := m.result.Clone()
		old = &r
	}
	forced := ok && m.forced
	e.mu.Unlock()

	e.stats.misses.Add(1)

	if fn == nil {
		return domain.QueryResult{}, zerr.With(zerr.Wrap(domain.ErrUnknownQuery, key.Kind.String()), "query", key.String())
	}

	if old != nil && !forced {
		confirmed, err := e.verify(ctx, old)
		if err != nil && domain.IsCancellation(err) {
			return domain.QueryResult{}, err
		}
		if confirmed {
			return e.confirm(key, start), nil
		}
	}

	qc := &Context{ctx: ctx, engine: e}
	e.stats.executions.Add(1)
	e.metrics.Count(domain.MetricQueryExecutions, 1, domain.L("kind", key.Kind.String()))
	value, err := e.call(fn, qc, key)
	if err != nil {
		return domain.QueryResult{}, err
	}
	return e.store(key, old, value, qc.Reads(), start), nil
}

// verify re-queries old's reads in order and reports whether none of them
// changed after old was last verified.
func (e *Engine) verify(ctx context.Context, old *domain.QueryResult) (bool, error) {
	for _, r := range old.Reads {
		res, err := e.Query(ctx, r)
		if err != nil {
			return false, err
		}
		if res.Generation > old.Verified {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) confirm(key domain.QueryKey, start uint64) domain.QueryResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.memos[key]
	m.result.Verified = start
	if m.invalidated <= start {
		m.stale = false
	}
	e.stats.cutoffs.Add(1)
	e.metrics.Count(domain.MetricQueryCutoffs, 1, domain.L("kind", key.Kind.String()))
	return m.result.Clone()
}

func (e *Engine) store(key domain.QueryKey, old *domain.QueryResult, value any, reads []domain.QueryKey, start uint64) domain.QueryResult {
	fp := domain.Fingerprint(value)
	if e.noCutoff[key.Kind] {
		fp = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	gen := e.revision
	if old != nil && fp != 0 && fp == old.Fingerprint {
		gen = old.Generation
		e.stats.cutoffs.Add(1)
		e.metrics.Count(domain.MetricQueryCutoffs, 1, domain.L("kind", key.Kind.String()))
	}

	e.dropReadsLocked(key)
	stale := false
	for _, r := range reads {
		rs, ok := e.readers[r]
		if !ok {
			rs = make(map[domain.QueryKey]struct{})
			e.readers[r] = rs
		}
		rs[key] = struct{}{}
		// A read that moved on while the function ran makes the value stale at birth.
		if dep, ok := e.memos[r]; !ok || dep.stale || dep.result.Generation > start {
			stale = true
		}
	}

	prev, existed := e.memos[key]
	m := &memo{
		result: domain.QueryResult{
			Key:         key,
			Value:       value,
			Fingerprint: fp,
			Reads:       reads,
			Generation:  gen,
			Verified:    start,
		},
		stale: stale,
	}
	if existed && prev.invalidated > start {
		m.stale = true
		m.invalidated = prev.invalidated
	}
	e.memos[key] = m
	return m.result.Clone()
}

func (e *Engine) dropReadsLocked(key domain.QueryKey) {
	m, ok := e.memos[key]
	if !ok {
		return
	}
	for _, r := range m.result.Reads {
		if rs, ok := e.readers[r]; ok {
			delete(rs, key)
			if len(rs) == 0 {
				delete(e.readers, r)
			}
		}
	}
}

// markReadersStaleLocked walks the reverse read index from key.
func (e *Engine) markReadersStaleLocked(key domain.QueryKey) {
	seen := map[domain.QueryKey]struct{}{key: {}}
	queue := []domain.QueryKey{key}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for r := range e.readers[k] {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			if m, ok := e.memos[r]; ok {
				m.stale = true
				m.invalidated = e.revision
			}
			queue = append(queue, r)
		}
	}
}

func (e *Engine) call(fn Func, qc *Context, key domain.QueryKey) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = zerr.With(
				zerr.Wrap(domain.ErrTaskFailed, fmt.Sprintf("query %s panicked: %v", key, r)),
				"stack", string(debug.Stack()),
			)
			if e.logger != nil {
				e.logger.Error(err)
			}
		}
	}()
	return fn(qc, key)
}

type frameKey struct{}

type frame struct {
	key    domain.QueryKey
	parent *frame
}

func withFrame(ctx context.Context, key domain.QueryKey) context.Context {
	parent, _ := ctx.Value(frameKey{}).(*frame)
	return context.WithValue(ctx, frameKey{}, &frame{key: key, parent: parent})
}

// checkCycle fails when key is already being computed on this call stack.
func checkCycle(ctx context.Context, key domain.QueryKey) error {
	top, _ := ctx.Value(frameKey{}).(*frame)
	var path []string
	for f := top; f != nil; f = f.parent {
		path = append(path, f.key.String())
		if f.key == key {
			// path runs from the innermost frame outwards.
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			path = append(path, key.String())
			return zerr.With(zerr.Wrap(domain.ErrQueryCycle, strings.Join(path, " -> ")), "query", key.String())
		}
	}
	return nil
}
