package pipeline

import (
	"context"
	"fmt"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

var (
	// ErrSkip marks an item as skipped. It is still forwarded to the sink.
	ErrSkip = zerr.New("skip item")

	// ErrStop marks an item as skipped and stops admitting source items.
	ErrStop = zerr.New("stop pipeline")
)

// Item flows through the pipeline. Once Err is set or Skipped is true the
// item is forwarded untouched by the remaining stages.
type Item struct {
	ID    string
	Value any
	Err   error
	// Skipped is set by ErrSkip and ErrStop.
	Skipped bool
	// Stage names the stage that failed or skipped the item.
	Stage string
}

// Done reports whether the item stopped being processed.
func (it Item) Done() bool {
	return it.Err != nil || it.Skipped
}

// Func transforms an item's value.
type Func func(ctx context.Context, item Item) (any, error)

// Stage is one step of a pipeline.
type Stage struct {
	Name string
	// Capacity bounds the buffer feeding the stage.
	Capacity int
	// Workers is the number of concurrent workers; zero means one.
	Workers int
	Run     Func
}

// StageOf adapts a typed function to a Stage.
func StageOf[In, Out any](name string, capacity, workers int, fn func(ctx context.Context, in In) (Out, error)) Stage {
	return Stage{
		Name:     name,
		Capacity: capacity,
		Workers:  workers,
		Run: func(ctx context.Context, item Item) (any, error) {
			in, ok := item.Value.(In)
			if !ok {
				var want In
				return nil, fmt.Errorf("stage %s: want %T, got %T", name, want, item.Value)
			}
			return fn(ctx, in)
		},
	}
}

// StageError is the failure of one item in one stage.
type StageError struct {
	Stage string
	Item  string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Item, e.Cause)
}

// Unwrap returns ErrTaskFailed and the cause.
func (e *StageError) Unwrap() []error {
	return []error{domain.ErrTaskFailed, e.Cause}
}
