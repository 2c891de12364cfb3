package scope

import (
	"context"
	"errors"

	"go.trai.ch/kiln/internal/core/domain"
)

// Checkpoint returns nil while ctx is live and a cancellation error once it
// is done. The error matches domain.ErrCancelled.
func Checkpoint(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrCancelled) {
		return cause
	}
	return errors.Join(domain.ErrCancelled, cause)
}

// Boundary is a point at which running work may observe cancellation.
type Boundary int

const (
	// BoundaryTask is the start of a scheduled task.
	BoundaryTask Boundary = iota
	// BoundaryBuffer is a wait on a pipeline buffer.
	BoundaryBuffer
	// BoundaryQuery is the entry of a query.
	BoundaryQuery
)

// Policy selects the boundaries that observe cancellation. The zero Policy
// observes all of them.
type Policy struct {
	level domain.Checkpoint
}

// NewPolicy returns the policy for the configured granularity.
func NewPolicy(level domain.Checkpoint) Policy {
	return Policy{level: level}
}

// Observes reports whether b is a checkpoint under the policy.
func (p Policy) Observes(b Boundary) bool {
	switch p.level {
	case domain.CheckpointTask:
		return b == BoundaryTask
	case domain.CheckpointStage:
		return b == BoundaryTask || b == BoundaryBuffer
	default:
		return true
	}
}

// Check runs Checkpoint(ctx) if b is observed, else returns nil.
func (p Policy) Check(ctx context.Context, b Boundary) error {
	if !p.Observes(b) {
		return nil
	}
	return Checkpoint(ctx)
}
