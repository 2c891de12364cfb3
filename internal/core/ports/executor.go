// Package ports defines the core interfaces for the application.
package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// Executor defines the interface for executing analysis tasks.
//
//go:generate mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// Execute runs the given task. It returns an error if the task fails.
	Execute(ctx context.Context, task *domain.AnalysisTask) (domain.TaskResult, error)
}
