// Package cas implements a content addressable result store with one file
// per entry.
package cas

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

const entryExt = ".kc"

// Store implements ports.ResultStore using a file-per-entry strategy.
// Entries live under <dir>/<first two hex digits>/<hash>.kc.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, zerr.Wrap(domain.ErrStoreOpenFailed, "empty store path")
	}
	return &Store{dir: filepath.Clean(dir)}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load retrieves the bytes stored under hash.
func (s *Store) Load(_ context.Context, hash domain.ContentHash) ([]byte, bool, error) {
	//nolint:gosec // Path is constructed from the store root and a hex hash
	data, err := os.ReadFile(s.filename(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, zerr.With(zerr.Wrap(err, domain.ErrStoreReadFailed.Error()), "hash", hash.String())
	}
	return data, true, nil
}

// Store writes data under hash. The file is written to a temporary name
// and renamed into place so readers never observe a partial entry.
func (s *Store) Store(_ context.Context, hash domain.ContentHash, data []byte) error {
	filename := s.filename(hash)
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "dir", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+hash.String()+"-*")
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "hash", hash.String())
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmpName)
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "hash", hash.String())
	}
	if err := os.Chmod(tmpName, domain.FilePerm); err != nil {
		_ = os.Remove(tmpName)
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "hash", hash.String())
	}
	if err := os.Rename(tmpName, filename); err != nil {
		_ = os.Remove(tmpName)
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "hash", hash.String())
	}
	return nil
}

// Delete removes the entry for hash.
func (s *Store) Delete(_ context.Context, hash domain.ContentHash) error {
	err := os.Remove(s.filename(hash))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreDeleteFailed.Error()), "hash", hash.String())
	}
	return nil
}

// Usage counts the entries and their bytes.
func (s *Store) Usage(ctx context.Context) (domain.StoreUsage, error) {
	usage := domain.StoreUsage{Backend: domain.StoreFile}
	err := s.walk(ctx, func(_ string, info fs.FileInfo) error {
		usage.Entries++
		usage.Bytes += info.Size()
		return nil
	})
	return usage, err
}

// Clear removes every entry. Files that are not entries are left alone.
func (s *Store) Clear(ctx context.Context) error {
	return s.walk(ctx, func(path string, _ fs.FileInfo) error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return zerr.With(zerr.Wrap(err, domain.ErrStoreDeleteFailed.Error()), "path", path)
		}
		return nil
	})
}

// Close is a no-op; the store holds no open handles.
func (s *Store) Close() error {
	return nil
}

func (s *Store) walk(ctx context.Context, fn func(path string, info fs.FileInfo) error) error {
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entryExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(path, info)
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreReadFailed.Error()), "dir", s.dir)
	}
	return nil
}

func (s *Store) filename(hash domain.ContentHash) string {
	hex := hash.String()
	return filepath.Join(s.dir, hex[:2], hex+entryExt)
}
