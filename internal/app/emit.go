package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/pipeline"
	"go.trai.ch/zerr"
)

// emitAll writes the interface of every module that checked cleanly. An
// emit failure turns the module's outcome into a failure.
func (s *Session) emitAll(ctx context.Context, report *domain.Report) error {
	p, err := pipeline.New(pipeline.StageOf(pipeline.StageEmit, s.cfg.EmitBuffer, s.cfg.StageWorkers, s.emit))
	if err != nil {
		return err
	}
	p.Configure(pipeline.WithMetrics(s.metrics), pipeline.WithCheckpoint(s.cfg.Checkpoint))

	outcomes := report.Sorted()
	src := func(yield func(pipeline.Item) bool) {
		for _, o := range outcomes {
			if !yield(pipeline.Item{ID: o.Name, Value: o}) {
				return
			}
		}
	}
	_, err = p.Run(ctx, src, func(item pipeline.Item) {
		if item.Err == nil {
			return
		}
		o := report.Outcomes[domain.NewModuleID(item.ID)]
		o.Status = domain.TaskFailed
		o.Cause = item.Err
	})
	return err
}

// emit writes <out>/<module>.iface. Files whose content is unchanged are
// left alone.
func (s *Session) emit(_ context.Context, o *domain.ModuleOutcome) (string, error) {
	if o.Status != domain.TaskDone || o.Result == nil || o.Result.HasErrors() {
		return "", pipeline.ErrSkip
	}

	var buf bytes.Buffer
	buf.WriteString("module " + o.Result.Name + "\n")
	for _, name := range o.Result.Exports {
		buf.WriteString("def " + name + "\n")
	}

	path := filepath.Join(s.outDir, o.Result.Name+domain.InterfaceExt)
	// #nosec G304 -- path is built from the output directory and a validated module name
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, buf.Bytes()) {
		return path, nil
	}
	if err := os.MkdirAll(s.outDir, domain.DirPerm); err != nil {
		return "", zerr.With(zerr.Wrap(domain.ErrEmitFailed, err.Error()), "path", s.outDir)
	}
	if err := os.WriteFile(path, buf.Bytes(), domain.FilePerm); err != nil {
		return "", zerr.With(zerr.Wrap(domain.ErrEmitFailed, err.Error()), "path", path)
	}
	return path, nil
}
