package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

//go:generate mockgen -source=analysis.go -destination=mocks/mock_analysis.go -package=mocks

// Parser turns source text into an AST. It must be safe for concurrent use.
type Parser interface {
	Parse(ctx context.Context, file domain.SourceFile) (*domain.AST, error)
}

// ReadFunc returns the analysis result of a dependency. Every call is
// recorded as a read of the calling module.
type ReadFunc func(ctx context.Context, dep domain.ModuleID) (*domain.AnalysisResult, error)

// Analyzer checks one module. It must consult dependency results only
// through read, and must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, ast *domain.AST, read ReadFunc) (*domain.AnalysisResult, error)
}
