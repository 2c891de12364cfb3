// Package fs provides file system adapters for discovering, reading and
// hashing module sources.
package fs

import (
	"io/fs"
	"iter"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
)

// skippedDirs are never descended into.
var skippedDirs = []string{".git", ".jj", domain.KilnDirName, "node_modules"}

// Walker provides file walking functionality.
type Walker struct{}

// NewWalker creates a new Walker.
func NewWalker() *Walker {
	return &Walker{}
}

// WalkFiles yields the slash-separated paths, relative to root, of every
// file whose extension is in exts. An empty exts matches every file.
// Walk errors are yielded once with an empty path and end the walk.
func (w *Walker) WalkFiles(root string, exts []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && slices.Contains(skippedDirs, d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if len(exts) > 0 && !slices.Contains(exts, filepath.Ext(path)) {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if !yield(filepath.ToSlash(rel), nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			yield("", err)
		}
	}
}

// IsSource reports whether path has one of exts and does not lie inside a
// skipped directory.
func IsSource(path string, exts []string) bool {
	if !slices.Contains(exts, filepath.Ext(path)) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if slices.Contains(skippedDirs, part) {
			return false
		}
	}
	return true
}
