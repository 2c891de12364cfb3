package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.trai.ch/kiln/internal/adapters/fs"
	"go.trai.ch/kiln/internal/adapters/linear"
	"go.trai.ch/kiln/internal/adapters/watcher"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

const metricsShutdownTimeout = 5 * time.Second

// WatchOptions configuration for the Watch method.
type WatchOptions struct {
	// Workers overrides the configured pool size when positive.
	Workers int
	// Preset overrides the configured stage preset when set.
	Preset string
	// MetricsAddress, when set, serves Prometheus metrics there and
	// overrides the configured sink.
	MetricsAddress string
	// OnReport, when set, receives every report after it is printed.
	OnReport func(*domain.Report)
}

// Watch checks the project in dir, then re-checks it whenever a source file
// changes, until ctx is done. One session lives for the whole watch, so each
// re-check only recomputes what the edit reaches. Failing checks are
// reported and do not end the watch.
func (a *App) Watch(ctx context.Context, dir string, opts WatchOptions) error {
	if a.watcher == nil || a.changes == nil {
		return zerr.Wrap(domain.ErrWatchFailed, "no file watcher configured")
	}
	cfg, err := a.load(dir, CheckOptions{Workers: opts.Workers, Preset: opts.Preset})
	if err != nil {
		return err
	}
	if opts.MetricsAddress != "" {
		cfg.MetricsSink = domain.MetricsPrometheus
		cfg.MetricsAddress = opts.MetricsAddress
	}
	sink, prom := newMetrics(cfg)

	session, closeStore, err := a.openSession(dir, cfg, sink)
	if err != nil {
		return err
	}
	defer closeStore()

	g, ctx := errgroup.WithContext(ctx)
	if prom != nil && cfg.MetricsAddress != "" {
		g.Go(func() error { return a.serveMetrics(ctx, cfg.MetricsAddress, prom.Handler()) })
	}
	g.Go(func() error { return a.watchLoop(ctx, cfg, session, opts.OnReport) })
	return g.Wait()
}

func (a *App) watchLoop(ctx context.Context, cfg *domain.Config, session *Session, onReport func(*domain.Report)) error {
	root := cfg.SourceRoot
	paths, err := session.Discover(ctx)
	if err != nil {
		return err
	}
	for _, rel := range paths {
		a.changes.Seed(filepath.Join(root, filepath.FromSlash(rel)))
	}
	if err := a.recheck(ctx, session, paths, onReport); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := a.watcher.Start(ctx, root); err != nil {
		return zerr.Wrap(domain.ErrWatchFailed, err.Error())
	}
	defer func() {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Error(err)
		}
	}()

	batches := make(chan []string)
	debouncer := watcher.NewDebouncer(cfg.WatchDebounce, func(paths []string) {
		select {
		case batches <- paths:
		case <-ctx.Done():
		}
	})
	defer debouncer.Stop()

	go func() {
		for event := range a.watcher.Events() {
			if rel, ok := session.relative(event.Path); ok && fs.IsSource(rel, cfg.Extensions) {
				debouncer.Add(event.Path)
			}
		}
	}()

	a.logger.Info("watching " + root)
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-batches:
			changed := a.changes.Filter(batch)
			if len(changed) == 0 {
				continue
			}
			a.logger.Info("changed: " + strings.Join(session.Changed(changed), ", "))

			paths, err := session.Discover(ctx)
			if err != nil {
				a.logger.Error(err)
				continue
			}
			if err := a.recheck(ctx, session, paths, onReport); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// recheck runs one check with the linear renderer and prints its report.
// Only cancellation is returned; a failing check is just reported.
func (a *App) recheck(ctx context.Context, session *Session, paths []string, onReport func(*domain.Report)) error {
	report, err := a.rendered(ctx, linear.NewRenderer(a.stdout, a.stderr), func(ctx context.Context, tracer ports.Tracer) (*domain.Report, error) {
		return session.Check(ctx, paths, tracer)
	})
	if report != nil {
		WriteReport(a.stderr, report)
		if onReport != nil {
			onReport(report)
		}
	}
	return err
}

// serveMetrics serves the Prometheus registry on addr until ctx is done.
func (a *App) serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsShutdownTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("serving metrics on " + addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return zerr.With(zerr.Wrap(err, "failed to serve metrics"), "address", addr)
	}
	return nil
}
