package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// SourceReader discovers and reads module sources.
//
//go:generate mockgen -source=sources.go -destination=mocks/mock_sources.go -package=mocks
type SourceReader interface {
	// Discover returns the slash-separated paths, relative to root, of every
	// source file whose extension is in exts, sorted.
	Discover(ctx context.Context, root string, exts []string) ([]string, error)

	// Read loads one source file.
	Read(ctx context.Context, root, rel string) (domain.SourceFile, error)
}
