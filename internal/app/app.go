// Package app implements the application layer for kiln.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"go.opentelemetry.io/otel"
	"go.trai.ch/kiln/internal/adapters/detector"
	"go.trai.ch/kiln/internal/adapters/linear"
	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/adapters/tui"
	"go.trai.ch/kiln/internal/adapters/watcher"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/pipeline"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

// StoreOpener opens the persistent result store of a backend. A nil store
// with a nil error means persistence is disabled.
type StoreOpener interface {
	Open(backend domain.StoreBackend, path string) (ports.ResultStore, error)
}

// App represents the main application logic.
type App struct {
	configLoader ports.ConfigLoader
	sources      ports.SourceReader
	parser       ports.Parser
	analyzer     ports.Analyzer
	opener       StoreOpener
	logger       ports.Logger
	watcher      ports.Watcher
	changes      *watcher.ChangeFilter

	teaOptions  []tea.ProgramOption
	stdout      io.Writer
	stderr      io.Writer
	environment detector.Environment
	detected    bool
}

// New creates a new App instance.
func New(
	loader ports.ConfigLoader,
	sources ports.SourceReader,
	parser ports.Parser,
	analyzer ports.Analyzer,
	opener StoreOpener,
	log ports.Logger,
	w ports.Watcher,
	changes *watcher.ChangeFilter,
) *App {
	return &App{
		configLoader: loader,
		sources:      sources,
		parser:       parser,
		analyzer:     analyzer,
		opener:       opener,
		logger:       log,
		watcher:      w,
		changes:      changes,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}
}

// WithTeaOptions adds bubbletea program options to the App.
// This is primarily used for testing to disable input/output.
func (a *App) WithTeaOptions(opts ...tea.ProgramOption) *App {
	a.teaOptions = append(a.teaOptions, opts...)
	return a
}

// WithOutput redirects renderer and report output.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout, a.stderr = stdout, stderr
	return a
}

// WithEnvironment replaces terminal detection with env.
func (a *App) WithEnvironment(env detector.Environment) *App {
	a.environment, a.detected = env, true
	return a
}

// CheckOptions configuration for the Check method.
type CheckOptions struct {
	// Output is the --output flag: auto, tui, linear or ci.
	Output string
	// Workers overrides the configured pool size when positive.
	Workers int
	// Preset overrides the configured stage preset when set.
	Preset string
}

// Check analyzes every module of the project in dir and prints the
// report. It returns ErrCheckFailed when a module failed or has error
// diagnostics; the report is returned either way.
func (a *App) Check(ctx context.Context, dir string, opts CheckOptions) (*domain.Report, error) {
	mode, err := detector.ParseMode(opts.Output)
	if err != nil {
		return nil, err
	}
	cfg, err := a.load(dir, opts)
	if err != nil {
		return nil, err
	}
	sink, _ := newMetrics(cfg)

	session, closeStore, err := a.openSession(dir, cfg, sink)
	if err != nil {
		return nil, err
	}
	defer closeStore()

	paths, err := session.Discover(ctx)
	if err != nil {
		return nil, err
	}

	report, err := a.rendered(ctx, a.renderer(ctx, mode), func(ctx context.Context, tracer ports.Tracer) (*domain.Report, error) {
		return session.Check(ctx, paths, tracer)
	})
	if report != nil {
		WriteReport(a.stderr, report)
	}
	if err != nil {
		return report, err
	}
	return report, failure(report)
}

// Graph scans the project in dir and returns its dependency layers by
// module name, leaves first.
func (a *App) Graph(ctx context.Context, dir string) ([][]string, *domain.Report, error) {
	cfg, err := a.load(dir, CheckOptions{})
	if err != nil {
		return nil, nil, err
	}
	session := NewSession(cfg, a.sources, a.parser, a.analyzer, nil, WithLogger(a.logger))
	paths, err := session.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	report, err := session.Scan(ctx, paths)
	if err != nil {
		return nil, report, err
	}
	return session.Layers(), report, nil
}

// CleanOptions configuration for the Clean method.
type CleanOptions struct {
	// Store clears the persistent result store.
	Store bool
	// Out removes the emitted interfaces.
	Out bool
}

// Clean removes persisted results and emitted interfaces.
func (a *App) Clean(ctx context.Context, dir string, options CleanOptions) error {
	cfg, err := a.load(dir, CheckOptions{})
	if err != nil {
		return err
	}

	var errs error
	if options.Store {
		a.logger.Info("clearing result store...")
		store, err := a.opener.Open(cfg.StoreBackend, cfg.StorePath)
		switch {
		case err != nil:
			errs = errors.Join(errs, err)
		case store != nil:
			errs = errors.Join(errs, store.Clear(ctx), store.Close())
		}
	}
	if options.Out {
		out := filepath.Join(dir, domain.DefaultOutPath())
		a.logger.Info("removing emitted interfaces...")
		if err := os.RemoveAll(out); err != nil {
			errs = errors.Join(errs, zerr.With(zerr.Wrap(err, "failed to remove emitted interfaces"), "path", out))
		}
	}
	if errs == nil {
		a.logger.Info("clean complete")
	}
	return errs
}

func (a *App) load(dir string, opts CheckOptions) (*domain.Config, error) {
	cfg, err := a.configLoader.Load(dir)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to load configuration")
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.Preset != "" {
		if _, err := pipeline.PresetStages(domain.Preset(opts.Preset)); err != nil {
			return nil, err
		}
		cfg.Preset = domain.Preset(opts.Preset)
	}
	return cfg, nil
}

// openSession opens the configured store and builds a session on it. The
// returned func closes the store.
func (a *App) openSession(dir string, cfg *domain.Config, sink ports.Metrics) (*Session, func(), error) {
	store, err := a.opener.Open(cfg.StoreBackend, cfg.StorePath)
	if err != nil {
		return nil, nil, err
	}
	session := NewSession(cfg, a.sources, a.parser, a.analyzer, store,
		WithLogger(a.logger),
		WithMetrics(sink),
		WithOutDir(filepath.Join(dir, domain.DefaultOutPath())),
	)
	return session, func() {
		if store == nil {
			return
		}
		if err := store.Close(); err != nil {
			a.logger.Error(err)
		}
	}, nil
}

func (a *App) renderer(ctx context.Context, user detector.OutputMode) ports.Renderer {
	env := a.environment
	if !a.detected {
		env = detector.Current()
	}
	if detector.Resolve(detector.Detect(env), user) == detector.ModeTUI {
		opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(a.stderr)}, a.teaOptions...)
		return tui.NewRenderer(tui.NewModel(a.stderr), opts...)
	}
	return linear.NewRenderer(a.stdout, a.stderr)
}

// rendered runs fn while renderer shows its progress, the renderer and
// fn on their own goroutines.
func (a *App) rendered(
	ctx context.Context,
	renderer ports.Renderer,
	fn func(ctx context.Context, tracer ports.Tracer) (*domain.Report, error),
) (*domain.Report, error) {
	provider := telemetry.NewProvider(renderer)
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error(err)
		}
	}()
	otel.SetTracerProvider(provider)
	tracer := telemetry.NewOTelTracer("kiln", telemetry.WithProvider(provider)).WithRenderer(renderer)

	var report *domain.Report
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := renderer.Start(ctx); err != nil {
			return err
		}
		return renderer.Wait()
	})

	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = zerr.Wrap(domain.ErrTaskFailed, fmt.Sprintf("check panicked: %v", r))
			}
			_ = renderer.Stop()
		}()
		report, err = fn(ctx, tracer)
		return err
	})

	return report, g.Wait()
}

// failure returns ErrCheckFailed when report is not clean.
func failure(report *domain.Report) error {
	if report.OK() {
		return nil
	}
	s := report.Stats
	err := zerr.Wrap(domain.ErrCheckFailed, fmt.Sprintf("%d of %d module(s) not clean", s.Failed+s.Skipped, s.Modules))
	return zerr.With(err, "diagnostics", s.Diagnostics)
}

// newMetrics builds the configured sink. The Prometheus adapter is
// returned separately so its registry can be served.
func newMetrics(cfg *domain.Config) (ports.Metrics, *metrics.Prometheus) {
	switch cfg.MetricsSink {
	case domain.MetricsPrometheus:
		p := metrics.NewPrometheus()
		return p, p
	case domain.MetricsNone:
		return metrics.NoOp{}, nil
	default:
		return metrics.NewOTel(otel.GetMeterProvider()), nil
	}
}
