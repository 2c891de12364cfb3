package metrics

import (
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
)

// NoOp drops every measurement.
type NoOp struct{}

// Count does nothing.
func (NoOp) Count(string, int64, ...domain.Label) {}

// Observe does nothing.
func (NoOp) Observe(string, float64, ...domain.Label) {}

// Fanout forwards every measurement to each of its sinks.
type Fanout []ports.Metrics

// NewFanout returns a sink that forwards to every non-nil sink.
func NewFanout(sinks ...ports.Metrics) Fanout {
	out := make(Fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Count forwards to every sink.
func (f Fanout) Count(name string, delta int64, labels ...domain.Label) {
	for _, s := range f {
		s.Count(name, delta, labels...)
	}
}

// Observe forwards to every sink.
func (f Fanout) Observe(name string, value float64, labels ...domain.Label) {
	for _, s := range f {
		s.Observe(name, value, labels...)
	}
}

// OrNoOp returns m, or NoOp when m is nil.
func OrNoOp(m ports.Metrics) ports.Metrics {
	if m == nil {
		return NoOp{}
	}
	return m
}
