// Package orchestrator dispatches the Learn core operation: a single typed
// entry point fanning out to the feedback, evolution, and team-sharing
// components with a bounded concurrency cap that rejects over capacity
// rather than queuing, so a caller never silently waits behind an
// unrelated backlog. It also runs named multi-component pipelines,
// periodic maintenance across the learning components, and aggregate
// health reporting.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"codeintel/internal/learning/evolution"
	"codeintel/internal/learning/feedback"
	"codeintel/internal/learning/team"
	"codeintel/internal/protocol"
)

// DefaultMaxConcurrency bounds in-flight Learn dispatches.
const DefaultMaxConcurrency = 3

// ErrOverCapacity is returned when no dispatch slot is free.
var ErrOverCapacity = fmt.Errorf("orchestrator: over capacity")

// Config wires the orchestrator to the three learning components it
// dispatches to.
type Config struct {
	Feedback       *feedback.Loop
	Evolution      *evolution.Tracker
	Team           *team.Registry
	MaxConcurrency int
}

// Orchestrator is the Learn core operation's dispatcher.
type Orchestrator struct {
	cfg  Config
	slots chan struct{}

	opsTotal  int64
	opsErrors int64
}

// New creates an Orchestrator, filling in DefaultMaxConcurrency if cfg's is
// unset.
func New(cfg Config) *Orchestrator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Orchestrator{cfg: cfg, slots: make(chan struct{}, cfg.MaxConcurrency)}
}

// Learn dispatches req to the component matching req.Operation. If no
// dispatch slot is immediately free it fails fast with ErrOverCapacity
// rather than queueing behind other in-flight work.
func (o *Orchestrator) Learn(ctx context.Context, req protocol.LearnRequest) (protocol.LearnResponse, error) {
	select {
	case o.slots <- struct{}{}:
	default:
		return protocol.LearnResponse{Success: false, Errors: []string{ErrOverCapacity.Error()}}, ErrOverCapacity
	}
	defer func() { <-o.slots }()

	start := time.Now()
	resp := protocol.LearnResponse{
		Performance: protocol.LearnPerformance{ComponentsMS: make(map[string]int64)},
	}

	var err error
	componentStart := time.Now()
	switch req.Operation {
	case protocol.LearnFeedbackRecording:
		err = o.dispatchFeedback(ctx, req, &resp)
	case protocol.LearnEvolutionTracking:
		err = o.dispatchEvolution(ctx, req, &resp)
	case protocol.LearnTeamSharing:
		err = o.dispatchTeam(ctx, req, &resp)
	case protocol.LearnPatternLearning:
		err = o.dispatchPatternLearning(ctx, req, &resp)
	case protocol.LearnComprehensiveAnalysis:
		err = o.dispatchComprehensive(ctx, req, &resp)
	default:
		err = fmt.Errorf("orchestrator: unknown operation %q", req.Operation)
	}
	resp.Performance.ComponentsMS[string(req.Operation)] = time.Since(componentStart).Milliseconds()

	resp.Success = err == nil
	atomic.AddInt64(&o.opsTotal, 1)
	if err != nil {
		resp.Errors = append(resp.Errors, err.Error())
		atomic.AddInt64(&o.opsErrors, 1)
	}
	resp.Performance.TotalMS = time.Since(start).Milliseconds()
	return resp, err
}
