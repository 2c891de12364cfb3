package app

import (
	"context"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/cache"
	"go.trai.ch/kiln/internal/engine/query"
)

// StatsReport is what one silent check of a project measured.
type StatsReport struct {
	Report *domain.Report
	Cache  cache.Stats
	Query  query.Stats
	// Resident is the number of results and bytes held by the cache.
	Resident domain.StoreUsage
	// Store is the persistent store's usage, zero when persistence is off.
	Store   domain.StoreUsage
	Metrics map[string]float64
}

// Stats checks the project in dir without rendering progress and reports
// the cache, query and metric counters of the run.
func (a *App) Stats(ctx context.Context, dir string) (*StatsReport, error) {
	cfg, err := a.load(dir, CheckOptions{})
	if err != nil {
		return nil, err
	}
	provider, reader := metrics.NewManualProvider()
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error(err)
		}
	}()

	store, err := a.opener.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		return nil, err
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				a.logger.Error(err)
			}
		}()
	}

	session := NewSession(cfg, a.sources, a.parser, a.analyzer, store,
		WithLogger(a.logger),
		WithMetrics(metrics.NewOTel(provider)),
		WithOutDir(filepath.Join(dir, domain.DefaultOutPath())),
	)
	paths, err := session.Discover(ctx)
	if err != nil {
		return nil, err
	}
	report, err := session.Check(ctx, paths, nil)
	if err != nil {
		return nil, err
	}

	out := &StatsReport{
		Report: report,
		Cache:  session.Cache().Stats(),
		Query:  session.Engine().Stats(),
		Resident: domain.StoreUsage{
			Backend: domain.StoreNone,
			Entries: int64(session.Cache().Len()),
			Bytes:   session.Cache().Size(),
		},
	}
	if store != nil {
		if out.Store, err = store.Usage(ctx); err != nil {
			return nil, err
		}
	}
	if out.Metrics, err = metrics.Snapshot(ctx, reader); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteStats prints stats as aligned name/value lines.
func WriteStats(w io.Writer, stats *StatsReport) {
	s := stats.Report.Stats
	c := stats.Cache
	q := stats.Query
	lines := []struct {
		name  string
		value string
	}{
		{"modules", fmt.Sprint(s.Modules)},
		{"checked", fmt.Sprint(s.Checked)},
		{"cached", fmt.Sprint(s.Cached)},
		{"failed", fmt.Sprint(s.Failed)},
		{"cache hits", fmt.Sprint(c.Hits)},
		{"cache misses", fmt.Sprint(c.Misses)},
		{"cache hit rate", fmt.Sprintf("%.1f%%", c.HitRate()*100)},
		{"cache evictions", fmt.Sprint(c.Evictions)},
		{"resident entries", fmt.Sprint(stats.Resident.Entries)},
		{"resident bytes", fmt.Sprint(stats.Resident.Bytes)},
		{"query hits", fmt.Sprint(q.Hits)},
		{"query misses", fmt.Sprint(q.Misses)},
		{"query cutoffs", fmt.Sprint(q.Cutoffs)},
		{"query executions", fmt.Sprint(q.Executions)},
	}
	if stats.Store.Backend != "" && stats.Store.Backend != domain.StoreNone {
		lines = append(lines,
			struct{ name, value string }{"store backend", string(stats.Store.Backend)},
			struct{ name, value string }{"store entries", fmt.Sprint(stats.Store.Entries)},
			struct{ name, value string }{"store bytes", fmt.Sprint(stats.Store.Bytes)},
		)
	}
	for _, name := range slices.Sorted(maps.Keys(stats.Metrics)) {
		lines = append(lines, struct{ name, value string }{name, fmt.Sprint(stats.Metrics[name])})
	}

	width := 0
	for _, l := range lines {
		width = max(width, len(l.name))
	}
	for _, l := range lines {
		_, _ = fmt.Fprintf(w, "%-*s  %s\n", width, l.name, l.value)
	}
}
