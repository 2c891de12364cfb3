package app

import (
	"cmp"
	"context"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"go.trai.ch/kiln/internal/adapters/metrics"
	"go.trai.ch/kiln/internal/adapters/telemetry"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/kiln/internal/engine/cache"
	"go.trai.ch/kiln/internal/engine/pipeline"
	"go.trai.ch/kiln/internal/engine/query"
	"go.trai.ch/kiln/internal/engine/scheduler"
	"go.trai.ch/zerr"
)

// Session is the compilation state of one project. The graph, the query
// engine and the result cache survive between checks, so a second Check
// only recomputes what the edits reach.
type Session struct {
	cfg      *domain.Config
	sources  ports.SourceReader
	parser   ports.Parser
	analyzer ports.Analyzer
	logger   ports.Logger
	metrics  ports.Metrics
	outDir   string

	graph  *domain.Graph
	engine *query.Engine
	cache  *cache.Cache

	// mu serializes checks and guards known.
	mu    sync.Mutex
	known map[domain.ModuleID]string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger every component of the session reports to.
func WithLogger(l ports.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metrics sink every component of the session records to.
func WithMetrics(m ports.Metrics) SessionOption {
	return func(s *Session) { s.metrics = metrics.OrNoOp(m) }
}

// WithOutDir sets where the emit stage writes module interfaces.
func WithOutDir(dir string) SessionOption {
	return func(s *Session) { s.outDir = dir }
}

// NewSession creates a session for cfg. store may be nil, in which case
// results are cached in memory only.
func NewSession(
	cfg *domain.Config,
	sources ports.SourceReader,
	parser ports.Parser,
	analyzer ports.Analyzer,
	store ports.ResultStore,
	opts ...SessionOption,
) *Session {
	s := &Session{
		cfg:      cfg,
		sources:  sources,
		parser:   parser,
		analyzer: analyzer,
		metrics:  metrics.NoOp{},
		outDir:   domain.DefaultOutPath(),
		graph:    domain.NewGraph(),
		known:    make(map[domain.ModuleID]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	engineOpts := []query.Option{
		query.WithCheckpoint(cfg.Checkpoint),
		query.WithMetrics(s.metrics),
	}
	cacheOpts := []cache.Option{
		cache.WithBudget(cfg.CacheBudget),
		cache.WithLowWater(cfg.CacheLowWater),
		cache.WithMetrics(s.metrics),
	}
	if s.logger != nil {
		engineOpts = append(engineOpts, query.WithLogger(s.logger))
		cacheOpts = append(cacheOpts, cache.WithLogger(s.logger))
	}
	if cfg.Preset == domain.PresetFast {
		engineOpts = append(engineOpts, query.WithoutCutoff(domain.KindParse))
	}

	s.engine = query.New(engineOpts...)
	s.cache = cache.New(store, cacheOpts...)
	s.registerQueries()
	return s
}

// Graph returns the session's module graph.
func (s *Session) Graph() *domain.Graph {
	return s.graph
}

// Engine returns the session's query engine.
func (s *Session) Engine() *query.Engine {
	return s.engine
}

// Cache returns the session's result cache.
func (s *Session) Cache() *cache.Cache {
	return s.cache
}

// Check brings the results of the modules at paths up to date. paths is
// the complete source set, relative to the source root; modules checked
// before but absent now are dropped. Failures are recorded in the report
// and never abort the check. Only cancellation of ctx returns an error,
// together with the partial report. A nil tracer disables tracing.
func (s *Session) Check(ctx context.Context, paths []string, tracer ports.Tracer) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	if tracer == nil {
		tracer = telemetry.NewNoOpTracer()
	}
	report := domain.NewReport()

	stages, err := pipeline.PresetStages(s.cfg.Preset)
	if err != nil {
		return nil, err
	}
	ingestStages, emitStages := pipeline.Split(stages, pipeline.StageCheck)

	paths = s.dedupe(paths, report)
	modules, ingestErr := s.ingest(ctx, paths, ingestStages, report)
	s.forget(paths)
	if ingestErr != nil {
		s.finish(report, start)
		return report, ingestErr
	}

	runErr := s.schedule(ctx, modules, tracer, report)
	if runErr == nil && len(emitStages) > 0 {
		runErr = s.emitAll(ctx, report)
	}

	s.graph.ClearChanged()
	s.finish(report, start)
	return report, runErr
}

// Scan runs only the stages before check, bringing the graph up to date
// without analyzing anything. The report holds the modules that failed.
func (s *Session) Scan(ctx context.Context, paths []string) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	report := domain.NewReport()
	stages, err := pipeline.PresetStages(s.cfg.Preset)
	if err != nil {
		return nil, err
	}
	ingestStages, _ := pipeline.Split(stages, pipeline.StageCheck)

	paths = s.dedupe(paths, report)
	_, err = s.ingest(ctx, paths, ingestStages, report)
	s.forget(paths)
	s.finish(report, start)
	return report, err
}

// Changed reports, by module name and sorted, everything the next Check
// recomputes if the files at paths changed. Paths may be absolute or
// relative to the source root. New files are included.
func (s *Session) Changed(paths []string) []string {
	var ids []domain.ModuleID
	names := make(map[string]struct{})
	for _, p := range paths {
		rel, ok := s.relative(p)
		if !ok {
			continue
		}
		name := domain.ModuleName(rel)
		id := domain.NewModuleID(name)
		if _, known := s.graph.Module(id); !known {
			names[name] = struct{}{}
			continue
		}
		ids = append(ids, id)
	}
	for id := range s.graph.DirtySet(ids) {
		if m, ok := s.graph.Module(id); ok && !m.Placeholder {
			names[m.Name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(names))
}

// Layers returns the module names of every dependency layer, leaves first.
func (s *Session) Layers() [][]string {
	layers := s.graph.Layers()
	out := make([][]string, 0, len(layers))
	for _, layer := range layers {
		names := make([]string, 0, len(layer))
		for _, id := range layer {
			m, _ := s.graph.Module(id)
			names = append(names, m.Name)
		}
		out = append(out, names)
	}
	return out
}

// Discover lists the source set under the configured root.
func (s *Session) Discover(ctx context.Context) ([]string, error) {
	return s.sources.Discover(ctx, s.cfg.SourceRoot, s.cfg.Extensions)
}

// relative maps a watched path onto the source root.
func (s *Session) relative(p string) (string, bool) {
	if !filepath.IsAbs(p) {
		return filepath.ToSlash(p), true
	}
	root, err := filepath.Abs(s.cfg.SourceRoot)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// dedupe drops every module whose name is claimed by more than one path
// and fails it, since no single source can be picked.
func (s *Session) dedupe(paths []string, report *domain.Report) []string {
	paths = slices.Clone(paths)
	slices.Sort(paths)
	claims := make(map[domain.ModuleID][]string, len(paths))
	for _, p := range paths {
		id := domain.NewModuleID(domain.ModuleName(p))
		claims[id] = append(claims[id], p)
	}
	kept := paths[:0]
	for _, p := range paths {
		name := domain.ModuleName(p)
		id := domain.NewModuleID(name)
		claim := claims[id]
		if len(claim) == 1 {
			kept = append(kept, p)
			continue
		}
		if claim[0] == p {
			report.Add(&domain.ModuleOutcome{
				Module: id,
				Name:   name,
				Status: domain.TaskFailed,
				Cause:  zerr.With(zerr.Wrap(domain.ErrDuplicateModule, name), "paths", strings.Join(claim, ", ")),
			})
		}
	}
	return kept
}

// forget drops modules that are no longer part of the source set.
func (s *Session) forget(paths []string) {
	current := make(map[domain.ModuleID]struct{}, len(paths))
	for _, p := range paths {
		current[domain.NewModuleID(domain.ModuleName(p))] = struct{}{}
	}
	for id := range s.known {
		if _, ok := current[id]; ok {
			continue
		}
		s.graph.Remove(id)
		s.engine.RemoveInput(sourceKey(id))
		delete(s.known, id)
	}
}

// schedule checks every ingested module in dependency order.
func (s *Session) schedule(ctx context.Context, modules []*ingested, tracer ports.Tracer, report *domain.Report) error {
	tasks := s.tasks(modules, report)
	if len(tasks) == 0 {
		return nil
	}

	workers := s.cfg.WorkerCount()
	exec, stop := s.startExecutor(ctx, workers)
	schedOpts := []scheduler.Option{
		scheduler.WithWorkers(workers),
		scheduler.WithMetrics(s.metrics),
	}
	if s.logger != nil {
		schedOpts = append(schedOpts, scheduler.WithLogger(s.logger))
	}
	outcomes, err := scheduler.New(exec, tracer, schedOpts...).Run(ctx, tasks)
	stop()

	for _, t := range tasks {
		if o, ok := outcomes[t.Module]; ok {
			report.Add(o)
		}
	}
	return err
}

// tasks builds the task list. Modules that depend on a module whose
// ingest failed are skipped here since the scheduler would only see a
// missing dependency.
func (s *Session) tasks(modules []*ingested, report *domain.Report) []domain.AnalysisTask {
	failed := make(map[domain.ModuleID]string)
	for id, o := range report.Outcomes {
		if o.Failed() {
			failed[id] = o.Name
		}
	}

	slices.SortFunc(modules, func(a, b *ingested) int { return cmp.Compare(a.ast.Name, b.ast.Name) })
	pending := modules
	for changed := true; changed; {
		changed = false
		next := pending[:0]
		for _, m := range pending {
			if dep, ok := failedDep(m.ast.ImportIDs(), failed); ok {
				report.Add(&domain.ModuleOutcome{
					Module: m.ast.Module,
					Name:   m.ast.Name,
					Status: domain.TaskSkipped,
					Cause:  zerr.With(zerr.Wrap(domain.ErrDependencyFailed, dep), "module", m.ast.Name),
				})
				failed[m.ast.Module] = m.ast.Name
				changed = true
				continue
			}
			next = append(next, m)
		}
		pending = next
	}

	ranks := s.graph.Ranks()
	tasks := make([]domain.AnalysisTask, 0, len(pending))
	for i, m := range pending {
		id := m.ast.Module
		rank, ok := ranks[id]
		if !ok {
			rank = -1
		}
		tasks = append(tasks, domain.AnalysisTask{
			Key:      checkKey(id),
			Module:   id,
			Name:     m.ast.Name,
			Priority: len(s.graph.Dependents(id)),
			Deps:     m.ast.ImportIDs(),
			Rank:     rank,
			Seq:      uint64(i + 1),
		})
	}
	return tasks
}

func failedDep(deps []domain.ModuleID, failed map[domain.ModuleID]string) (string, bool) {
	for _, d := range deps {
		if name, ok := failed[d]; ok {
			return name, true
		}
	}
	return "", false
}

func (s *Session) finish(report *domain.Report, start time.Time) {
	s.cache.EvictToBudget()
	report.Summarize(time.Since(start))
}
