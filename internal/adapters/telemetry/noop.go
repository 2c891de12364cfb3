package telemetry

import (
	"context"

	"go.trai.ch/kiln/internal/core/ports"
)

// NoOpTracer is a ports.Tracer that records nothing.
type NoOpTracer struct{}

// NewNoOpTracer returns a NoOpTracer.
func NewNoOpTracer() *NoOpTracer {
	return &NoOpTracer{}
}

// Start returns ctx unchanged and a span that discards everything.
func (t *NoOpTracer) Start(ctx context.Context, _ string, _ ...ports.SpanOption) (context.Context, ports.Span) {
	return ctx, noOpSpan{}
}

// EmitPlan does nothing.
func (t *NoOpTracer) EmitPlan(context.Context, []string, map[string][]string, []string) {}

type noOpSpan struct{}

func (noOpSpan) End()                        {}
func (noOpSpan) RecordError(error)           {}
func (noOpSpan) SetAttribute(string, any)    {}
func (noOpSpan) Write(p []byte) (int, error) { return len(p), nil }
