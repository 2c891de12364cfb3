// Package badger implements ports.ResultStore on an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Defaults for the value log garbage collector.
const (
	DefaultGCInterval     = 5 * time.Minute
	DefaultGCDiscardRatio = 0.5
)

var keyPrefix = []byte("r/")

// Config holds configuration for a badger store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM.
	InMemory bool
	// SyncWrites makes every write durable before it returns.
	SyncWrites bool
	// Logger receives badger's own log lines. Nil silences them.
	Logger ports.Logger
	// GCInterval is how often value log GC runs; zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// Store implements ports.ResultStore backed by badger.
type Store struct {
	db *badger.DB
	gc *gcRunner
}

// Open opens or creates the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, zerr.Wrap(domain.ErrStoreOpenFailed, "path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, domain.DirPerm); err != nil {
			return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreOpenFailed.Error()), "path", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&logBridge{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrStoreOpenFailed.Error()), "path", cfg.Path)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = DefaultGCDiscardRatio
		}
		s.gc = startGC(db, cfg.GCInterval, ratio, cfg.Logger)
	}
	return s, nil
}

// Load retrieves the bytes stored under hash.
func (s *Store) Load(_ context.Context, hash domain.ContentHash) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, zerr.With(zerr.Wrap(err, domain.ErrStoreReadFailed.Error()), "hash", hash.String())
	}
	return data, true, nil
}

// Store writes data under hash.
func (s *Store) Store(_ context.Context, hash domain.ContentHash, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(hash), data)
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreWriteFailed.Error()), "hash", hash.String())
	}
	return nil
}

// Delete removes the entry for hash.
func (s *Store) Delete(_ context.Context, hash domain.ContentHash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(hash))
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, domain.ErrStoreDeleteFailed.Error()), "hash", hash.String())
	}
	return nil
}

// Usage counts the entries and the size of their values.
func (s *Store) Usage(ctx context.Context) (domain.StoreUsage, error) {
	usage := domain.StoreUsage{Backend: domain.StoreBadger}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			usage.Entries++
			usage.Bytes += it.Item().ValueSize()
		}
		return nil
	})
	if err != nil {
		return usage, zerr.Wrap(err, domain.ErrStoreReadFailed.Error())
	}
	return usage, nil
}

// Clear removes every entry.
func (s *Store) Clear(_ context.Context) error {
	if err := s.db.DropPrefix(keyPrefix); err != nil {
		return zerr.Wrap(err, domain.ErrStoreDeleteFailed.Error())
	}
	return nil
}

// Close stops the garbage collector and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func key(hash domain.ContentHash) []byte {
	return append(append([]byte(nil), keyPrefix...), hash.String()...)
}

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	logger   ports.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

func startGC(db *badger.DB, interval time.Duration, ratio float64, logger ports.Logger) *gcRunner {
	r := &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *gcRunner) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect rewrites value log files until badger reports nothing left to do.
func (r *gcRunner) collect() {
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && r.logger != nil {
			r.logger.Warn("badger value log gc: " + err.Error())
		}
		return
	}
}

func (r *gcRunner) stop() {
	r.once.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// logBridge adapts ports.Logger to badger's Logger interface.
type logBridge struct {
	logger ports.Logger
}

func (l *logBridge) Errorf(format string, args ...any) {
	l.logger.Error(zerr.New(line(format, args)))
}

func (l *logBridge) Warningf(format string, args ...any) {
	l.logger.Warn(line(format, args))
}

func (l *logBridge) Infof(string, ...any) {}

func (l *logBridge) Debugf(string, ...any) {}

func line(format string, args []any) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}
