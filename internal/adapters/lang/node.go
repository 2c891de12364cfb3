package lang

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/core/ports"
)

const (
	// ParserNodeID is the unique identifier for the parser Graft node.
	ParserNodeID graft.ID = "adapter.lang.parser"
	// AnalyzerNodeID is the unique identifier for the analyzer Graft node.
	AnalyzerNodeID graft.ID = "adapter.lang.analyzer"
)

func init() {
	graft.Register(graft.Node[ports.Parser]{
		ID:        ParserNodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Parser, error) {
			return NewParser(), nil
		},
	})

	graft.Register(graft.Node[ports.Analyzer]{
		ID:        AnalyzerNodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Analyzer, error) {
			return NewAnalyzer(), nil
		},
	})
}
