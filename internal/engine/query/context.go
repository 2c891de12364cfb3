package query

import (
	"context"
	"slices"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// ErrValueType is returned by Get when a query's value has another type.
var ErrValueType = zerr.New("unexpected query value type")

// Context is handed to a Func. Every query made through it is recorded as
// part of the computing query's read set.
type Context struct {
	ctx    context.Context
	engine *Engine

	mu    sync.Mutex
	reads []domain.QueryKey
}

// Context returns the context the computation runs under.
func (qc *Context) Context() context.Context {
	return qc.ctx
}

// Query reads key and records the read.
func (qc *Context) Query(key domain.QueryKey) (domain.QueryResult, error) {
	qc.mu.Lock()
	if !slices.Contains(qc.reads, key) {
		qc.reads = append(qc.reads, key)
	}
	qc.mu.Unlock()
	return qc.engine.Query(qc.ctx, key)
}

// Reads returns the queries read so far, in first-read order.
func (qc *Context) Reads() []domain.QueryKey {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	return slices.Clone(qc.reads)
}

// Get reads key and asserts its value to T.
func Get[T any](qc *Context, key domain.QueryKey) (T, error) {
	var zero T
	res, err := qc.Query(key)
	if err != nil {
		return zero, err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, zerr.With(zerr.Wrap(ErrValueType, key.String()), "query", key.String())
	}
	return v, nil
}
