package main

import (
	"context"
	"fmt"

	"codeintel/internal/adapters/httpapi"
	"codeintel/internal/adapters/lsp"
	"codeintel/internal/adapters/mcp"
	"codeintel/internal/analyzer"
	"codeintel/internal/config"
	"codeintel/internal/eventbus"
	"codeintel/internal/layers"
	"codeintel/internal/learning/evolution"
	"codeintel/internal/learning/feedback"
	"codeintel/internal/learning/orchestrator"
	"codeintel/internal/learning/team"
	"codeintel/internal/parsing"
	"codeintel/internal/shared"
)

// app wires every core component together exactly once: a single
// process-wide assembly that every command (query, feedback, learn, serve)
// then reuses. The substrate tier (database, cache, monitoring, event bus)
// is delegated to shared.Services, which also owns health checks and
// cache/monitoring event wiring; app layers the analyzer, learning loop,
// and protocol adapters on top of it.
type app struct {
	cfg *config.Config

	svc *shared.Services

	parser *parsing.Service
	index  *layers.Index
	layers *layers.LayerManager

	analyzer     *analyzer.Core
	feedback     *feedback.Loop
	evolution    *evolution.Tracker
	team         *team.Registry
	orchestrator *orchestrator.Orchestrator

	mcp     *mcp.Server
	lsp     *lsp.Server
	httpapi *httpapi.Server
}

// buildApp constructs every component from cfg, bringing up the substrate
// tier via shared.Services.Init and layering the rest on top of it.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	bus := eventbus.New()
	a.svc = shared.New(cfg, bus)
	if err := a.svc.Init(ctx); err != nil {
		return nil, fmt.Errorf("init shared services: %w", err)
	}

	a.parser = parsing.New()
	a.index = layers.NewIndex()
	a.layers = layers.NewLayerManager(a.index)

	a.analyzer = analyzer.New(a.svc.Cache, a.layers, a.svc.Monitoring, bus)

	a.feedback = feedback.New(feedback.Config{
		Store:                           a.svc.DB,
		Bus:                             bus,
		Index:                           a.index,
		ModificationSimilarityThreshold: cfg.Feedback.SimilarityThreshold,
		MinSamples:                      cfg.Feedback.MinToLearn,
	})
	a.evolution = evolution.New(evolution.Config{
		Store:          a.svc.DB,
		Bus:            bus,
		MinOccurrences: cfg.Evolution.MinOccurrences,
		MinConfidence:  cfg.Evolution.MinConfidence,
	})
	a.team = team.New(team.Config{
		Store:             a.svc.DB,
		Bus:               bus,
		MinValidators:     cfg.Team.MinValidators,
		MinApprovalScore:  cfg.Team.MinApprovalScore,
		AdoptionThreshold: cfg.Team.AdoptionThreshold,
	})
	a.orchestrator = orchestrator.New(orchestrator.Config{
		Feedback:       a.feedback,
		Evolution:      a.evolution,
		Team:           a.team,
		MaxConcurrency: cfg.Learning.MaxConcurrentOps,
	})

	a.mcp = mcp.New(a.analyzer, a.index)
	a.lsp = lsp.New(a.analyzer, a.index, a.parser)
	a.httpapi = httpapi.New(":8089", a.analyzer, a.index, a.feedback, a.orchestrator, a.svc.Monitoring)

	return a, nil
}

// Close releases everything buildApp acquired.
func (a *app) Close() error {
	a.parser.Close()
	return a.svc.Dispose()
}
