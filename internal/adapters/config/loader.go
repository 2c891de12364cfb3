// Package config provides the configuration loader for kiln.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Loader implements ports.ConfigLoader using a YAML file.
type Loader struct {
	Logger ports.Logger
}

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{Logger: logger}
}

var validProjectNameRegex = regexp.MustCompile("^[a-zA-Z0-9_.-]+$")

// Load reads kiln.yaml from dir. A missing file yields the defaults.
// Relative paths in the file are resolved against dir.
func (l *Loader) Load(dir string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	path := filepath.Join(dir, domain.ConfigFileName)

	var file Kilnfile
	err := readAndUnmarshalYAML(path, &file)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if l.Logger != nil {
			l.Logger.Info("no " + domain.ConfigFileName + " found, using defaults")
		}
	case err != nil:
		return nil, err
	default:
		apply(&cfg, &file)
	}

	cfg.SourceRoot = resolve(dir, cfg.SourceRoot)
	cfg.StorePath = resolve(dir, cfg.StorePath)
	if cfg.Project == "" {
		cfg.Project = filepath.Base(filepath.Clean(dir))
	}

	if err := Validate(&cfg); err != nil {
		return nil, zerr.With(err, "file", path)
	}
	return &cfg, nil
}

func readAndUnmarshalYAML[T any](configPath string, target *T) error {
	// #nosec G304 -- configPath is built from the project directory
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return zerr.Wrap(err, domain.ErrConfigReadFailed.Error())
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return zerr.Wrap(err, domain.ErrConfigParseFailed.Error())
	}
	return nil
}

//nolint:gocyclo // flat field mapping
func apply(cfg *domain.Config, f *Kilnfile) {
	cfg.Project = f.Project
	if s := f.Sources; s != nil {
		set(&cfg.SourceRoot, s.Root)
		if len(s.Extensions) > 0 {
			cfg.Extensions = normalizeExtensions(s.Extensions)
		}
	}
	if e := f.Engine; e != nil {
		setPtr(&cfg.Workers, e.Workers)
		set(&cfg.Checkpoint, domain.Checkpoint(e.Checkpoint))
		set(&cfg.Preset, domain.Preset(e.Preset))
	}
	if c := f.Cache; c != nil {
		if c.Budget != nil {
			cfg.CacheBudget = int64(*c.Budget)
		}
		setPtr(&cfg.CacheLowWater, c.LowWater)
	}
	if s := f.Store; s != nil {
		set(&cfg.StoreBackend, domain.StoreBackend(s.Backend))
		set(&cfg.StorePath, s.Path)
	}
	if p := f.Pipeline; p != nil {
		setPtr(&cfg.ReadBuffer, p.Read)
		setPtr(&cfg.ParseBuffer, p.Parse)
		setPtr(&cfg.RecordBuffer, p.Record)
		setPtr(&cfg.EmitBuffer, p.Emit)
		setPtr(&cfg.StageWorkers, p.Workers)
	}
	if s := f.Supervision; s != nil {
		set(&cfg.Strategy, domain.Strategy(s.Strategy))
		setPtr(&cfg.PoisonLimit, s.PoisonLimit)
		setPtr(&cfg.MaxRestarts, s.MaxRestarts)
		setPtr(&cfg.RestartWindow, s.RestartWindow)
		setPtr(&cfg.MailboxSize, s.Mailbox)
	}
	if m := f.Metrics; m != nil {
		set(&cfg.MetricsSink, domain.MetricsSink(m.Sink))
		set(&cfg.MetricsAddress, m.Address)
	}
	if w := f.Watch; w != nil {
		setPtr(&cfg.WatchDebounce, w.Debounce)
	}
}

func set[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Validate checks every field of cfg against its allowed values.
func Validate(cfg *domain.Config) error {
	var errs []error
	invalid := func(msg, key string, value any) {
		errs = append(errs, zerr.With(zerr.Wrap(domain.ErrInvalidConfig, msg), key, value))
	}

	if cfg.Project != "" && !validProjectNameRegex.MatchString(cfg.Project) {
		invalid("invalid project name", "project", cfg.Project)
	}
	if len(cfg.Extensions) == 0 {
		invalid("no source extensions", "extensions", cfg.Extensions)
	}
	if cfg.Workers < 0 {
		invalid("workers must not be negative", "workers", cfg.Workers)
	}
	switch cfg.Checkpoint {
	case domain.CheckpointQuery, domain.CheckpointStage, domain.CheckpointTask:
	default:
		invalid("unknown checkpoint granularity", "checkpoint", string(cfg.Checkpoint))
	}
	switch cfg.Preset {
	case domain.PresetStandard, domain.PresetCheckOnly, domain.PresetFast:
	default:
		invalid("unknown preset", "preset", string(cfg.Preset))
	}
	if cfg.CacheBudget < 0 {
		invalid("cache budget must not be negative", "budget", cfg.CacheBudget)
	}
	if cfg.CacheLowWater <= 0 || cfg.CacheLowWater > 1 {
		invalid("low water must be in (0, 1]", "low_water", cfg.CacheLowWater)
	}
	switch cfg.StoreBackend {
	case domain.StoreFile, domain.StoreBadger, domain.StoreSQLite, domain.StoreNone:
	default:
		invalid("unknown store backend", "backend", string(cfg.StoreBackend))
	}
	for name, n := range map[string]int{
		"read": cfg.ReadBuffer, "parse": cfg.ParseBuffer, "record": cfg.RecordBuffer,
		"emit": cfg.EmitBuffer, "workers": cfg.StageWorkers,
	} {
		if n <= 0 {
			invalid("pipeline sizes must be positive", name, n)
		}
	}
	switch cfg.Strategy {
	case domain.OneForOne, domain.AllForOne, domain.Escalate:
	default:
		invalid("unknown supervision strategy", "strategy", string(cfg.Strategy))
	}
	if cfg.PoisonLimit <= 0 {
		invalid("poison limit must be positive", "poison_limit", cfg.PoisonLimit)
	}
	if cfg.MaxRestarts < 0 || cfg.RestartWindow < 0 {
		invalid("restart limit must not be negative", "max_restarts", cfg.MaxRestarts)
	}
	if cfg.MailboxSize < 0 {
		invalid("mailbox size must not be negative", "mailbox", cfg.MailboxSize)
	}
	switch cfg.MetricsSink {
	case domain.MetricsOTel, domain.MetricsPrometheus, domain.MetricsNone:
	default:
		invalid("unknown metrics sink", "sink", string(cfg.MetricsSink))
	}
	if cfg.WatchDebounce < 0 {
		invalid("debounce must not be negative", "debounce", cfg.WatchDebounce.String())
	}
	return errors.Join(errs...)
}
