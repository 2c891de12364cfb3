// Package metrics implements ports.Metrics on OpenTelemetry and Prometheus.
package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.trai.ch/kiln/internal/core/domain"
)

// OTel records measurements through an OpenTelemetry meter. Instruments
// are created once per name on first use.
type OTel struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTel returns a sink that records on a meter from mp.
func NewOTel(mp metric.MeterProvider) *OTel {
	return &OTel{
		meter:      mp.Meter("go.trai.ch/kiln"),
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// NewManualProvider returns an SDK meter provider whose measurements are
// read on demand through the returned reader.
func NewManualProvider() (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

// Count adds delta to the named counter.
func (o *OTel) Count(name string, delta int64, labels ...domain.Label) {
	c, err := o.counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), delta, metric.WithAttributes(attributes(labels)...))
}

// Observe records value on the named histogram.
func (o *OTel) Observe(name string, value float64, labels ...domain.Label) {
	h, err := o.histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(attributes(labels)...))
}

func (o *OTel) counter(name string) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c, nil
	}
	c, err := o.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	o.counters[name] = c
	return c, nil
}

func (o *OTel) histogram(name string) (metric.Float64Histogram, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.histograms[name]; ok {
		return h, nil
	}
	h, err := o.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	o.histograms[name] = h
	return h, nil
}

func attributes(labels []domain.Label) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		kvs = append(kvs, attribute.String(l.Key, l.Value))
	}
	return kvs
}

// Snapshot collects reader and returns every counter's total and every
// histogram's sample count, keyed by instrument name.
func Snapshot(ctx context.Context, reader sdkmetric.Reader) (map[string]float64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Value)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += float64(dp.Count)
				}
			}
		}
	}
	return out, nil
}
