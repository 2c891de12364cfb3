package app

import (
	"context"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/pipeline"
	"go.trai.ch/zerr"
)

// ingested is a module that made it through the stages before check.
type ingested struct {
	file domain.SourceFile
	ast  *domain.AST
}

// ingest runs the read, parse and record stages over paths. Failed items
// are added to report; the rest are returned.
func (s *Session) ingest(ctx context.Context, paths []string, names []string, report *domain.Report) ([]*ingested, error) {
	stages := make([]pipeline.Stage, 0, len(names))
	for _, name := range names {
		stage, err := s.ingestStage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	p, err := pipeline.New(stages...)
	if err != nil {
		return nil, err
	}
	p.Configure(pipeline.WithMetrics(s.metrics), pipeline.WithCheckpoint(s.cfg.Checkpoint))

	src := func(yield func(pipeline.Item) bool) {
		for _, rel := range paths {
			if !yield(pipeline.Item{ID: rel, Value: rel}) {
				return
			}
		}
	}

	var modules []*ingested
	_, err = p.Run(ctx, src, func(item pipeline.Item) {
		if m, ok := item.Value.(*ingested); ok && !item.Done() {
			modules = append(modules, m)
			return
		}
		name := domain.ModuleName(item.ID)
		cause := item.Err
		if cause == nil {
			cause = zerr.With(zerr.Wrap(domain.ErrTaskFailed, "skipped in stage "+item.Stage), "module", name)
		}
		report.Add(&domain.ModuleOutcome{
			Module: domain.NewModuleID(name),
			Name:   name,
			Status: domain.TaskFailed,
			Cause:  cause,
		})
	})
	return modules, err
}

func (s *Session) ingestStage(name string) (pipeline.Stage, error) {
	workers := s.cfg.StageWorkers
	switch name {
	case pipeline.StageRead:
		return pipeline.StageOf(name, s.cfg.ReadBuffer, workers, s.read), nil
	case pipeline.StageParse:
		return pipeline.StageOf(name, s.cfg.ParseBuffer, workers, s.parse), nil
	case pipeline.StageRecord:
		// Graph mutations are serialized on a single worker.
		return pipeline.StageOf(name, s.cfg.RecordBuffer, 1, s.record), nil
	default:
		return pipeline.Stage{}, zerr.With(zerr.Wrap(domain.ErrInvalidPipeline, "unknown ingest stage"), "stage", name)
	}
}

func (s *Session) read(ctx context.Context, rel string) (domain.SourceFile, error) {
	return s.sources.Read(ctx, s.cfg.SourceRoot, rel)
}

// parse installs the file as the module's source input and queries its
// AST. An unchanged file leaves the input, and every memo reading it, as is.
func (s *Session) parse(ctx context.Context, file domain.SourceFile) (*ingested, error) {
	id := file.ID()
	s.engine.SetInput(sourceKey(id), file)
	res, err := s.engine.Query(ctx, parseKey(id))
	if err != nil {
		return nil, err
	}
	ast, ok := res.Value.(*domain.AST)
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrParseFailed, "parser returned no AST"), "module", file.Name)
	}
	return &ingested{file: file, ast: ast}, nil
}

// record enters the module and its import edges into the graph.
func (s *Session) record(ctx context.Context, m *ingested) (*ingested, error) {
	id := m.ast.Module
	res, err := s.engine.Query(ctx, importsKey(id))
	if err != nil {
		return nil, err
	}
	deps, _ := res.Value.(importList)
	err = s.graph.RecordModule(id, domain.HashBytes(m.file.Content), slices.Clone(deps),
		domain.WithName(m.ast.Name), domain.WithPath(m.file.Path))
	if err != nil {
		return nil, err
	}
	s.known[id] = m.file.Path
	return m, nil
}
