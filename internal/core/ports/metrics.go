package ports

import "go.trai.ch/kiln/internal/core/domain"

// Metrics records kernel measurements. Calls are fire and forget and must
// never block the caller.
//
//go:generate mockgen -source=metrics.go -destination=mocks/mock_metrics.go -package=mocks
type Metrics interface {
	// Count adds delta to the named counter.
	Count(name string, delta int64, labels ...domain.Label)
	// Observe records one sample of the named distribution.
	Observe(name string, value float64, labels ...domain.Label)
}
