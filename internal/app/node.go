package app

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/config"  //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/adapters/fs"      //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/adapters/lang"    //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/adapters/logger"  //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/adapters/store"   //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/adapters/watcher" //nolint:depguard // Wired in app layer
	"go.trai.ch/kiln/internal/core/ports"
)

const (
	// AppNodeID is the unique identifier for the main App Graft node.
	AppNodeID graft.ID = "app.main"
	// ComponentsNodeID is the unique identifier for the App components Graft node.
	ComponentsNodeID graft.ID = "app.components"
)

// Components holds what the CLI needs from the dependency graph.
type Components struct {
	App    *App
	Logger ports.Logger
}

func init() {
	graft.Register(graft.Node[*App]{
		ID:        AppNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			config.NodeID,
			fs.SourceNodeID,
			lang.ParserNodeID,
			lang.AnalyzerNodeID,
			store.NodeID,
			logger.NodeID,
			watcher.WatcherNodeID,
			watcher.ChangeFilterNodeID,
		},
		Run: runAppNode,
	})

	graft.Register(graft.Node[*Components]{
		ID:        ComponentsNodeID,
		Cacheable: true,
		DependsOn: []graft.ID{AppNodeID, logger.NodeID},
		Run: func(ctx context.Context) (*Components, error) {
			app, err := graft.Dep[*App](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return &Components{App: app, Logger: log}, nil
		},
	})
}

func runAppNode(ctx context.Context) (*App, error) {
	loader, err := graft.Dep[ports.ConfigLoader](ctx)
	if err != nil {
		return nil, err
	}
	sources, err := graft.Dep[ports.SourceReader](ctx)
	if err != nil {
		return nil, err
	}
	parser, err := graft.Dep[ports.Parser](ctx)
	if err != nil {
		return nil, err
	}
	analyzer, err := graft.Dep[ports.Analyzer](ctx)
	if err != nil {
		return nil, err
	}
	opener, err := graft.Dep[*store.Opener](ctx)
	if err != nil {
		return nil, err
	}
	log, err := graft.Dep[ports.Logger](ctx)
	if err != nil {
		return nil, err
	}
	w, err := graft.Dep[ports.Watcher](ctx)
	if err != nil {
		return nil, err
	}
	changes, err := graft.Dep[*watcher.ChangeFilter](ctx)
	if err != nil {
		return nil, err
	}
	return New(loader, sources, parser, analyzer, opener, log, w, changes), nil
}
