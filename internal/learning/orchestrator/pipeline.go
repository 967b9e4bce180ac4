package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PipelineFeedbackCycle reads feedback stats and insights, re-runs evolution
// pattern detection, and lists the team's shared patterns, in that order.
// Each step runs on its own; no step consumes another step's output.
const PipelineFeedbackCycle = "pattern_feedback_cycle"

// PipelineComprehensiveLearning runs every configured component's summary
// step plus a closing health check, the broadest of the named pipelines.
const PipelineComprehensiveLearning = "comprehensive_learning"

// pipelineStep is one named, timed unit of work inside a pipeline run.
type pipelineStep struct {
	component string
	run       func(ctx context.Context) (any, error)
}

// PipelineStats reports per-component timing and outcome for one
// ExecutePipeline run.
type PipelineStats struct {
	PipelineID   string
	ComponentsMS map[string]int64
	TotalMS      int64
	Success      bool
	Errors       []string
}

// PipelineResult is ExecutePipeline's return value: the per-component data
// produced by each step alongside the run's aggregated stats.
type PipelineResult struct {
	Stats PipelineStats
	Data  map[string]any
}

func (o *Orchestrator) feedbackInsightsStep() pipelineStep {
	return pipelineStep{
		component: "feedback",
		run: func(ctx context.Context) (any, error) {
			if o.cfg.Feedback == nil {
				return nil, fmt.Errorf("feedback component not configured")
			}
			return map[string]any{
				"stats":    o.cfg.Feedback.Stats(),
				"insights": o.cfg.Feedback.Insights(),
			}, nil
		},
	}
}

func (o *Orchestrator) evolutionPatternsStep() pipelineStep {
	return pipelineStep{
		component: "evolution",
		run: func(ctx context.Context) (any, error) {
			if o.cfg.Evolution == nil {
				return nil, fmt.Errorf("evolution component not configured")
			}
			return o.cfg.Evolution.DetectPatternsSync(), nil
		},
	}
}

func (o *Orchestrator) teamPatternsStep() pipelineStep {
	return pipelineStep{
		component: "team",
		run: func(ctx context.Context) (any, error) {
			if o.cfg.Team == nil {
				return nil, fmt.Errorf("team component not configured")
			}
			return o.cfg.Team.Patterns(), nil
		},
	}
}

func (o *Orchestrator) healthStep() pipelineStep {
	return pipelineStep{
		component: "health",
		run: func(ctx context.Context) (any, error) {
			return o.Health(), nil
		},
	}
}

// pipelineSteps resolves a named pipeline to its ordered steps.
func (o *Orchestrator) pipelineSteps(id string) ([]pipelineStep, error) {
	switch id {
	case PipelineFeedbackCycle:
		return []pipelineStep{
			o.feedbackInsightsStep(),
			o.evolutionPatternsStep(),
			o.teamPatternsStep(),
		}, nil
	case PipelineComprehensiveLearning:
		return []pipelineStep{
			o.feedbackInsightsStep(),
			o.evolutionPatternsStep(),
			o.teamPatternsStep(),
			o.healthStep(),
		}, nil
	default:
		return nil, fmt.Errorf("orchestrator: unknown pipeline %q", id)
	}
}

// ExecutePipeline runs the named pipeline's steps in order on the caller's
// goroutine, timing each step individually. A step's failure doesn't abort
// the run: every remaining step still executes, and every failure is
// collected into the returned error and PipelineStats.Errors.
func (o *Orchestrator) ExecutePipeline(ctx context.Context, id string) (PipelineResult, error) {
	steps, err := o.pipelineSteps(id)
	if err != nil {
		return PipelineResult{}, err
	}

	stats := PipelineStats{PipelineID: id, ComponentsMS: make(map[string]int64, len(steps))}
	data := make(map[string]any, len(steps))

	start := time.Now()
	for _, step := range steps {
		stepStart := time.Now()
		result, err := step.run(ctx)
		stats.ComponentsMS[step.component] = time.Since(stepStart).Milliseconds()
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", step.component, err))
			continue
		}
		data[step.component] = result
	}
	stats.TotalMS = time.Since(start).Milliseconds()
	stats.Success = len(stats.Errors) == 0

	result := PipelineResult{Stats: stats, Data: data}
	if !stats.Success {
		return result, fmt.Errorf("orchestrator: pipeline %q: %s", id, strings.Join(stats.Errors, "; "))
	}
	return result, nil
}

// DefaultMaintenanceRetention is how long feedback/evolution events survive
// a Maintenance run before being purged.
const DefaultMaintenanceRetention = 30 * 24 * time.Hour

// Maintenance purges feedback/evolution events older than retention (0 uses
// DefaultMaintenanceRetention), compacts the team registry's dead patterns,
// and recomputes each component's summary statistics. Every configured
// component runs even if an earlier one fails; failures are joined into the
// returned error.
func (o *Orchestrator) Maintenance(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultMaintenanceRetention
	}

	var errs []string
	if o.cfg.Feedback != nil {
		if err := o.cfg.Feedback.Maintain(ctx, retention); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if o.cfg.Evolution != nil {
		if err := o.cfg.Evolution.Maintain(ctx, retention); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if o.cfg.Team != nil {
		if _, err := o.cfg.Team.Compact(ctx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("orchestrator: maintenance: %s", strings.Join(errs, "; "))
	}
	return nil
}
