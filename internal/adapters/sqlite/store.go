// Package sqlite implements ports.ResultStore on a single-table SQLite
// database.
package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// FileName is the database file created inside the store directory.
const FileName = "results.db"

const schema = `
CREATE TABLE IF NOT EXISTS results (
	hash      TEXT PRIMARY KEY,
	data      BLOB NOT NULL,
	size      INTEGER NOT NULL,
	stored_at INTEGER NOT NULL
);
`

// Store implements ports.ResultStore with one connection guarded by a mutex.
type Store struct {
	mu   sync.Mutex
	conn *sqlite.Conn
	now  func() time.Time
}

// Open opens or creates the database in dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*Store, error) {
	path := ":memory:"
	flags := []sqlite.OpenFlags{sqlite.OpenCreate, sqlite.OpenReadWrite}
	if dir != "" {
		if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreOpenFailed.Error()), "path", dir)
		}
		path = filepath.Join(dir, FileName)
		flags = append(flags, sqlite.OpenWAL)
	}

	conn, err := sqlite.OpenConn(path, flags...)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreOpenFailed.Error()), "path", path)
	}
	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			_ = conn.Close()
			return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreOpenFailed.Error()), "pragma", pragma)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		_ = conn.Close()
		return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreOpenFailed.Error()), "path", path)
	}
	return &Store{conn: conn, now: time.Now}, nil
}

// Load retrieves the bytes stored under hash.
func (s *Store) Load(ctx context.Context, hash domain.ContentHash) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	var (
		data  []byte
		found bool
	)
	err := sqlitex.Execute(s.conn, "SELECT data FROM results WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{hash.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			data = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, data)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, false, zerr.With(zerr.Wrap(err, domain.ErrStoreReadFailed.Error()), "hash", hash.String())
	}
	return data, found, nil
}

// Store writes data under hash, replacing any previous row.
func (s *Store) Store(ctx context.Context, hash domain.ContentHash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	err := sqlitex.Execute(s.conn,
		"INSERT OR REPLACE INTO results (hash, data, size, stored_at) VALUES (?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{hash.String(), data, len(data), s.now().Unix()}},
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "hash", hash.String())
	}
	return nil
}

// Delete removes the row for hash.
func (s *Store) Delete(ctx context.Context, hash domain.ContentHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	err := sqlitex.Execute(s.conn, "DELETE FROM results WHERE hash = ?", &sqlitex.ExecOptions{
		Args: []any{hash.String()},
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreDeleteFailed.Error()), "hash", hash.String())
	}
	return nil
}

// Usage counts the rows and their payload bytes.
func (s *Store) Usage(ctx context.Context) (domain.StoreUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	usage := domain.StoreUsage{Backend: domain.StoreSQLite}
	err := sqlitex.Execute(s.conn, "SELECT count(*), coalesce(sum(size), 0) FROM results", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			usage.Entries = stmt.ColumnInt64(0)
			usage.Bytes = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return usage, zerr.Wrap(err, domain.ErrStoreReadFailed.Error())
	}
	return usage, nil
}

// Clear removes every row.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetInterrupt(ctx.Done())

	if err := sqlitex.Execute(s.conn, "DELETE FROM results", nil); err != nil {
		return zerr.Wrap(err, domain.ErrStoreDeleteFailed.Error())
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
