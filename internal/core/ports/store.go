package ports

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
)

// ResultStore persists encoded analysis results by content hash. It is
// the durable tier behind the in-memory result cache.
//
// Implementations must be safe for concurrent use.
//
//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type ResultStore interface {
	// Load returns the bytes stored under hash. A missing entry is
	// reported as found == false with a nil error.
	Load(ctx context.Context, hash domain.ContentHash) (data []byte, found bool, err error)

	// Store writes data under hash, replacing any previous entry.
	Store(ctx context.Context, hash domain.ContentHash, data []byte) error

	// Delete removes the entry for hash. Deleting a missing entry is not an error.
	Delete(ctx context.Context, hash domain.ContentHash) error

	// Usage reports how many entries and bytes the store holds.
	Usage(ctx context.Context) (domain.StoreUsage, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
