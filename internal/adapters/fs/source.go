package fs

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.SourceReader = (*Source)(nil)

// Source implements ports.SourceReader on the local file system.
type Source struct {
	walker *Walker
}

// NewSource creates a Source.
func NewSource(walker *Walker) *Source {
	return &Source{walker: walker}
}

// Discover lists the source files under root, sorted.
func (s *Source) Discover(ctx context.Context, root string, exts []string) ([]string, error) {
	var paths []string
	for rel, err := range s.walker.WalkFiles(root, exts) {
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrSourceReadFailed.Error()), "root", root)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		paths = append(paths, rel)
	}
	slices.Sort(paths)
	return paths, nil
}

// Read loads the file at rel below root.
func (s *Source) Read(ctx context.Context, root, rel string) (domain.SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return domain.SourceFile{}, err
	}
	//nolint:gosec // Path is built from the configured source root
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return domain.SourceFile{}, zerr.With(zerr.Wrap(err, domain.ErrSourceReadFailed.Error()), "path", rel)
	}
	return domain.SourceFile{Path: rel, Name: domain.ModuleName(rel), Content: data}, nil
}
