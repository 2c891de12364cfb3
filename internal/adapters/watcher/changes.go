package watcher

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"go.trai.ch/kiln/internal/core/domain"
)

// FileHasher hashes file contents.
type FileHasher interface {
	ComputeFileHash(path string) (domain.ContentHash, error)
}

// ChangeFilter remembers the last content hash seen for each path so a
// batch can be reduced to files whose content really changed. Editors
// often rewrite a file with identical bytes.
type ChangeFilter struct {
	hasher FileHasher

	mu     sync.Mutex
	hashes map[string]domain.ContentHash
}

// NewChangeFilter creates a ChangeFilter.
func NewChangeFilter(hasher FileHasher) *ChangeFilter {
	return &ChangeFilter{hasher: hasher, hashes: make(map[string]domain.ContentHash)}
}

// Seed records the current hash of path without reporting it.
func (c *ChangeFilter) Seed(path string) {
	if h, err := c.hasher.ComputeFileHash(path); err == nil {
		c.mu.Lock()
		c.hashes[path] = h
		c.mu.Unlock()
	}
}

// Filter returns the paths of batch whose content differs from the last
// time they were seen. Removed files count as changed once. Paths that
// cannot be hashed for other reasons are reported as changed.
func (c *ChangeFilter) Filter(batch []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := make([]string, 0, len(batch))
	for _, path := range batch {
		h, err := c.hasher.ComputeFileHash(path)
		switch {
		case err != nil && missing(path):
			if _, known := c.hashes[path]; known {
				delete(c.hashes, path)
				changed = append(changed, path)
			}
		case err != nil:
			changed = append(changed, path)
		default:
			if old, known := c.hashes[path]; !known || old != h {
				c.hashes[path] = h
				changed = append(changed, path)
			}
		}
	}
	return changed
}

func missing(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}
