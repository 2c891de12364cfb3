// Package store selects and opens the configured persistent result store.
package store

import (
	"go.trai.ch/kiln/internal/adapters/badger"
	"go.trai.ch/kiln/internal/adapters/cas"
	"go.trai.ch/kiln/internal/adapters/sqlite"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

// Opener opens result stores. A nil store means results are kept in
// memory only.
type Opener struct {
	logger ports.Logger
}

// NewOpener creates an Opener whose stores log to logger.
func NewOpener(logger ports.Logger) *Opener {
	return &Opener{logger: logger}
}

// Open opens the store for backend at path.
func (o *Opener) Open(backend domain.StoreBackend, path string) (ports.ResultStore, error) {
	switch backend {
	case domain.StoreFile, "":
		return cas.NewStore(path)
	case domain.StoreBadger:
		return badger.Open(badger.Config{
			Path:           path,
			Logger:         o.logger,
			GCInterval:     badger.DefaultGCInterval,
			GCDiscardRatio: badger.DefaultGCDiscardRatio,
		})
	case domain.StoreSQLite:
		return sqlite.Open(path)
	case domain.StoreNone:
		return nil, nil
	default:
		return nil, zerr.With(zerr.Wrap(domain.ErrInvalidConfig, "unknown store backend"), "backend", string(backend))
	}
}
