package app

import (
	"context"

	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/kiln/internal/engine/query"
	"go.trai.ch/zerr"
)

func sourceKey(id domain.ModuleID) domain.QueryKey  { return domain.NewQueryKey(domain.KindSource, id) }
func parseKey(id domain.ModuleID) domain.QueryKey   { return domain.NewQueryKey(domain.KindParse, id) }
func importsKey(id domain.ModuleID) domain.QueryKey { return domain.NewQueryKey(domain.KindImports, id) }
func checkKey(id domain.ModuleID) domain.QueryKey   { return domain.NewQueryKey(domain.KindCheck, id) }

// importList is the value of an imports query.
type importList []domain.ModuleID

// Fingerprint hashes the imported identifiers in order.
func (l importList) Fingerprint() domain.ContentHash {
	hashes := make([]domain.ContentHash, 0, len(l)+1)
	hashes = append(hashes, domain.HashStrings(domain.KindImports.String()))
	for _, id := range l {
		hashes = append(hashes, domain.ContentHash(id))
	}
	return domain.Combine(hashes...)
}

// checked is the value of a check query.
type checked struct {
	result *domain.AnalysisResult
	// fromCache is set when the result was decoded from the result cache.
	fromCache bool
}

// Fingerprint is the result's fingerprint, so an equal result recomputed
// after an edit cuts off its dependents.
func (c *checked) Fingerprint() domain.ContentHash {
	return c.result.Fingerprint()
}

func (s *Session) registerQueries() {
	s.engine.Register(domain.KindParse, s.parseQuery)
	s.engine.Register(domain.KindImports, s.importsQuery)
	s.engine.Register(domain.KindCheck, s.checkQuery)
}

func (s *Session) parseQuery(qc *query.Context, key domain.QueryKey) (any, error) {
	file, err := query.Get[domain.SourceFile](qc, sourceKey(key.Module))
	if err != nil {
		return nil, err
	}
	return s.parser.Parse(qc.Context(), file)
}

func (s *Session) importsQuery(qc *query.Context, key domain.QueryKey) (any, error) {
	ast, err := query.Get[*domain.AST](qc, parseKey(key.Module))
	if err != nil {
		return nil, err
	}
	return importList(ast.ImportIDs()), nil
}

// checkQuery analyzes one module. The result cache key covers the
// module's name, its AST fingerprint and the fingerprints of every
// imported module's result, so a hit is exactly as valid as a recompute.
func (s *Session) checkQuery(qc *query.Context, key domain.QueryKey) (any, error) {
	ctx := qc.Context()
	ast, err := query.Get[*domain.AST](qc, parseKey(key.Module))
	if err != nil {
		return nil, err
	}

	deps := ast.ImportIDs()
	hashes := make([]domain.ContentHash, 0, len(deps)+2)
	hashes = append(hashes, domain.HashStrings(ast.Name), ast.Fingerprint)
	for _, dep := range deps {
		res, err := qc.Query(checkKey(dep))
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, res.Fingerprint)
	}
	cacheKey := domain.Combine(hashes...)

	if data, ok := s.cache.Get(ctx, cacheKey); ok {
		res, err := domain.UnmarshalAnalysisResult(data)
		if err == nil {
			return &checked{result: res, fromCache: true}, nil
		}
		s.warn(zerr.With(zerr.Wrap(err, "discarding undecodable cached result"), "module", ast.Name))
		s.cache.Remove(ctx, cacheKey)
	}

	read := func(_ context.Context, dep domain.ModuleID) (*domain.AnalysisResult, error) {
		c, err := query.Get[*checked](qc, checkKey(dep))
		if err != nil {
			return nil, err
		}
		return c.result, nil
	}
	res, err := s.analyzer.Analyze(ctx, ast, read)
	if err != nil {
		return nil, err
	}
	data, err := res.Marshal()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrAnalysisFailed.Error()), "module", ast.Name)
	}
	s.cache.Put(ctx, cacheKey, data)
	return &checked{result: res}, nil
}

func (s *Session) warn(err error) {
	if s.logger != nil {
		s.logger.Warn(err.Error())
	}
}
