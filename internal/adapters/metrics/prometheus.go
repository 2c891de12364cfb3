package metrics

import (
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.trai.ch/kiln/internal/core/domain"
)

// Prometheus records measurements into its own registry. Metric names are
// converted from dotted form ("kiln.cache.hits" -> "kiln_cache_hits_total").
// The label keys of the first sample fix a metric's label set; samples with
// other keys are dropped.
type Prometheus struct {
	reg     *prometheus.Registry
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labelKeys  map[string][]string
}

// NewPrometheus returns a sink backed by a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	return &Prometheus{
		reg:        reg,
		factory:    promauto.With(reg),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelKeys:  make(map[string][]string),
	}
}

// Registry returns the registry the sink records into.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Count adds delta to the named counter. Negative deltas are ignored.
func (p *Prometheus) Count(name string, delta int64, labels ...domain.Label) {
	if delta < 0 {
		return
	}
	keys, values := split(labels)

	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = p.factory.NewCounterVec(prometheus.CounterOpts{
			Name: promName(name) + "_total",
			Help: name,
		}, keys)
		p.counters[name] = vec
		p.labelKeys[name] = keys
	}
	match := slices.Equal(p.labelKeys[name], keys)
	p.mu.Unlock()

	if !match {
		return
	}

	c, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return
	}
	c.Add(float64(delta))
}

// Observe records value on the named histogram.
func (p *Prometheus) Observe(name string, value float64, labels ...domain.Label) {
	keys, values := split(labels)

	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    promName(name),
			Help:    name,
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, keys)
		p.histograms[name] = vec
		p.labelKeys[name] = keys
	}
	match := slices.Equal(p.labelKeys[name], keys)
	p.mu.Unlock()

	if !match {
		return
	}

	h, err := vec.GetMetricWithLabelValues(values...)
	if err != nil {
		return
	}
	h.Observe(value)
}

// split returns label keys and values ordered by key.
func split(labels []domain.Label) ([]string, []string) {
	sorted := slices.Clone(labels)
	slices.SortFunc(sorted, func(a, b domain.Label) int { return strings.Compare(a.Key, b.Key) })
	keys := make([]string, len(sorted))
	values := make([]string, len(sorted))
	for i, l := range sorted {
		keys[i] = l.Key
		values[i] = l.Value
	}
	return keys, values
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
