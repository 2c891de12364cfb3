// Package pipeline runs items through a fixed sequence of stages joined
// by bounded buffers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/scope"
	"go.trai.ch/zerr"
)

// Summary counts the items the sink received.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	// HighWater is the peak occupancy of the buffer feeding each stage.
	HighWater map[string]int
}

// Pipeline is an immutable list of stages. Run may be called repeatedly.
type Pipeline struct {
	stages  []Stage
	metrics ports.Metrics
	policy  scope.Policy
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.Metrics) Option {
	return func(p *Pipeline) { p.metrics = metrics.OrNoOp(m) }
}

// WithCheckpoint selects whether buffer waits are checked before blocking.
func WithCheckpoint(level domain.Checkpoint) Option {
	return func(p *Pipeline) { p.policy = scope.NewPolicy(level) }
}

// New validates stages and builds a pipeline.
func New(stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, zerr.Wrap(domain.ErrInvalidPipeline, "no stages")
	}
	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		switch {
		case s.Name == "":
			return nil, zerr.With(zerr.Wrap(domain.ErrInvalidPipeline, "unnamed stage"), "index", i)
		case seen[s.Name]:
			return nil, zerr.With(zerr.Wrap(domain.ErrInvalidPipeline, "duplicate stage"), "stage", s.Name)
		case s.Capacity <= 0:
			return nil, zerr.With(zerr.Wrap(domain.ErrInvalidPipeline, "capacity must be positive"), "stage", s.Name)
		case s.Run == nil:
			return nil, zerr.With(zerr.Wrap(domain.ErrInvalidPipeline, "stage has no function"), "stage", s.Name)
		}
		seen[s.Name] = true
	}
	return &Pipeline{
		stages:  stages,
		metrics: metrics.NoOp{},
		policy:  scope.NewPolicy(domain.CheckpointQuery),
	}, nil
}

// Configure applies options and returns p.
func (p *Pipeline) Configure(opts ...Option) *Pipeline {
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run feeds src through every stage and hands each item to sink exactly
// once. sink is called from a single goroutine. Failed and skipped items
// do not stop the run; only cancellation of ctx does, in which case the
// summary covers the items delivered so far.
func (p *Pipeline) Run(ctx context.Context, src iter.Seq[Item], sink func(Item)) (Summary, error) {
	sc := scope.Open(ctx, scope.WithName("pipeline"))
	runCtx := sc.Context()

	buffers := make([]*Buffer, len(p.stages)+1)
	for i, s := range p.stages {
		buffers[i] = NewBuffer(s.Capacity)
	}
	buffers[len(p.stages)] = NewBuffer(p.stages[len(p.stages)-1].Capacity)

	var stopped atomic.Bool
	sc.Go("source", func(ctx context.Context) error {
		defer buffers[0].Close()
		for item := range src {
			if stopped.Load() {
				return nil
			}
			if err := p.send(ctx, buffers[0], p.stages[0].Name, item); err != nil {
				return err
			}
		}
		return nil
	})

	for i, s := range p.stages {
		in, out := buffers[i], buffers[i+1]
		next := "sink"
		if i+1 < len(p.stages) {
			next = p.stages[i+1].Name
		}

		var wg sync.WaitGroup
		for w := range max(s.Workers, 1) {
			wg.Add(1)
			sc.Go(fmt.Sprintf("%s/%d", s.Name, w), func(ctx context.Context) error {
				defer wg.Done()
				for {
					item, ok := in.Recv(ctx)
					if !ok {
						return scope.Checkpoint(ctx)
					}
					item = p.process(ctx, s, item, &stopped)
					if err := p.send(ctx, out, next, item); err != nil {
						return err
					}
				}
			})
		}
		sc.Go(s.Name+"/close", func(context.Context) error {
			wg.Wait()
			out.Close()
			return nil
		})
	}

	var sum Summary
	sinkBuf := buffers[len(p.stages)]
	for {
		item, ok := sinkBuf.Recv(runCtx)
		if !ok {
			break
		}
		sum.add(item)
		p.metrics.Count(domain.MetricPipelineItems, 1, domain.L("status", status(item)))
		sink(item)
	}

	cancelled := runCtx.Err() != nil
	if cancelled {
		sc.Cancel()
	}
	err := sc.Close()

	sum.HighWater = make(map[string]int, len(p.stages))
	for i, s := range p.stages {
		sum.HighWater[s.Name] = buffers[i].HighWater()
	}

	if cancelled {
		return sum, errors.Join(scope.Checkpoint(ctx), err)
	}
	return sum, err
}

func (p *Pipeline) send(ctx context.Context, b *Buffer, stage string, item Item) error {
	if err := p.policy.Check(ctx, scope.BoundaryBuffer); err != nil {
		return err
	}
	start := time.Now()
	if err := b.Send(ctx, item); err != nil {
		return err
	}
	p.metrics.Observe(domain.MetricPipelineBufferWait, time.Since(start).Seconds(), domain.L("stage", stage))
	return nil
}

func (p *Pipeline) process(ctx context.Context, s Stage, item Item, stopped *atomic.Bool) Item {
	if item.Done() {
		return item
	}
	value, err := call(ctx, s, item)
	switch {
	case err == nil:
		item.Value = value
	case errors.Is(err, ErrStop):
		item.Skipped = true
		item.Stage = s.Name
		stopped.Store(true)
	case errors.Is(err, ErrSkip):
		item.Skipped = true
		item.Stage = s.Name
	default:
		item.Err = &StageError{Stage: s.Name, Item: item.ID, Cause: err}
		item.Stage = s.Name
	}
	return item
}

func call(ctx context.Context, s Stage, item Item) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = zerr.Wrap(domain.ErrTaskFailed, fmt.Sprintf("stage %s panicked: %v", s.Name, r))
		}
	}()
	return s.Run(ctx, item)
}

func (s *Summary) add(item Item) {
	s.Total++
	switch {
	case item.Err != nil:
		s.Failed++
	case item.Skipped:
		s.Skipped++
	default:
		s.Succeeded++
	}
}

func status(item Item) string {
	switch {
	case item.Err != nil:
		return "failed"
	case item.Skipped:
		return "skipped"
	default:
		return "ok"
	}
}
