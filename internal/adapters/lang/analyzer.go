package lang

import (
	"context"
	"slices"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Analyzer = (*Analyzer)(nil)

// Analyzer checks .kl modules: every use must name an imported module and
// one of its exports. Exports are the module's defs.
//
// Diagnostics carry no line numbers. The AST fingerprint ignores layout,
// so a result reused after a comment edit must not point at stale lines.
type Analyzer struct{}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze checks ast. Dependency results are consulted through read at most
// once per imported module, in first-use order.
func (a *Analyzer) Analyze(ctx context.Context, ast *domain.AST, read ports.ReadFunc) (*domain.AnalysisResult, error) {
	unit, ok := ast.Node.(*Unit)
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrAnalysisFailed, "not a .kl module"), "module", ast.Name)
	}

	res := &domain.AnalysisResult{Module: ast.Module, Name: ast.Name}
	var (
		imported = make(map[string]bool)
		used     = make(map[string]bool)
		deps     = make(map[string]*domain.AnalysisResult)
	)
	diag := func(sev domain.Severity, msg string) {
		res.Diagnostics = append(res.Diagnostics, domain.Diagnostic{Severity: sev, Message: msg})
	}

	for _, stmt := range unit.Statements {
		switch stmt.Keyword {
		case KeywordImport:
			if stmt.Module == ast.Name {
				diag(domain.SeverityError, "module imports itself")
				continue
			}
			if imported[stmt.Module] {
				diag(domain.SeverityWarning, "duplicate import "+stmt.Module)
			}
			imported[stmt.Module] = true
		case KeywordDef:
			if slices.Contains(res.Exports, stmt.Name) {
				diag(domain.SeverityWarning, "duplicate definition "+stmt.Name)
				continue
			}
			res.Exports = append(res.Exports, stmt.Name)
		}
	}

	for _, stmt := range unit.Statements {
		if stmt.Keyword != KeywordUse {
			continue
		}
		if stmt.Module == ast.Name {
			if !slices.Contains(res.Exports, stmt.Name) {
				diag(domain.SeverityError, "undefined "+stmt.Name)
			}
			continue
		}
		if !imported[stmt.Module] {
			diag(domain.SeverityError, "use of "+stmt.Module+"."+stmt.Name+" without import "+stmt.Module)
			continue
		}
		used[stmt.Module] = true

		dep, seen := deps[stmt.Module]
		if !seen {
			id := domain.NewModuleID(stmt.Module)
			var err error
			dep, err = read(ctx, id)
			if err != nil {
				return nil, err
			}
			deps[stmt.Module] = dep
			res.Reads = append(res.Reads, id)
		}
		if dep == nil {
			diag(domain.SeverityError, "unknown module "+stmt.Module)
			continue
		}
		if !slices.Contains(dep.Exports, stmt.Name) {
			diag(domain.SeverityError, stmt.Module+" has no export "+stmt.Name)
		}
	}

	for _, stmt := range unit.Statements {
		if stmt.Keyword == KeywordImport && stmt.Module != ast.Name && !used[stmt.Module] {
			used[stmt.Module] = true
			diag(domain.SeverityWarning, "unused import "+stmt.Module)
		}
	}

	return res, nil
}
