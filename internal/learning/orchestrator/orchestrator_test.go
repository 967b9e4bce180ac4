package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"codeintel/internal/learning/evolution"
	"codeintel/internal/learning/feedback"
	"codeintel/internal/learning/team"
	"codeintel/internal/protocol"
)

func encodeOpaque(t *testing.T, v any) protocol.Opaque {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return protocol.Opaque(b)
}

func TestLearnDispatchesFeedbackRecording(t *testing.T) {
	o := New(Config{Feedback: feedback.New(feedback.Config{})})

	req := protocol.LearnRequest{
		Operation: protocol.LearnFeedbackRecording,
		Data: encodeOpaque(t, protocol.FeedbackRequest{
			Type:         protocol.FeedbackAccept,
			SuggestionID: "s1",
			PatternID:    "P1",
			Context:      protocol.FeedbackContext{Confidence: 0.5},
		}),
	}
	resp, err := o.Learn(context.Background(), req)
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got errors: %v", resp.Errors)
	}
	if resp.Data["event"] == nil {
		t.Error("expected event in response data")
	}
}

func TestLearnRejectsUnknownOperation(t *testing.T) {
	o := New(Config{})
	resp, err := o.Learn(context.Background(), protocol.LearnRequest{Operation: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown operation")
	}
	if resp.Success {
		t.Error("expected Success=false on error")
	}
}

func TestLearnFailsFastOverCapacity(t *testing.T) {
	o := New(Config{Team: team.New(team.Config{}), MaxConcurrency: 1})

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.slots <- struct{}{}
		<-release
		<-o.slots
	}()

	time.Sleep(10 * time.Millisecond) // let the goroutine above claim the only slot

	resp, err := o.Learn(context.Background(), protocol.LearnRequest{
		Operation: protocol.LearnTeamSharing,
		Data:      encodeOpaque(t, map[string]any{"action": "export"}),
	})
	if err != ErrOverCapacity {
		t.Fatalf("expected ErrOverCapacity, got %v", err)
	}
	if resp.Success {
		t.Error("expected Success=false over capacity")
	}

	close(release)
	wg.Wait()
}

func TestLearnTeamSharingExport(t *testing.T) {
	reg := team.New(team.Config{})
	reg.SharePattern(context.Background(), team.SharePatternRequest{Pattern: protocol.Pattern{ID: "P"}, ContributorID: "C"})

	o := New(Config{Team: reg})
	resp, err := o.Learn(context.Background(), protocol.LearnRequest{
		Operation: protocol.LearnTeamSharing,
		Data:      encodeOpaque(t, map[string]any{"action": "export"}),
	})
	if err != nil {
		t.Fatalf("Learn: %v", err)
	}
	snap, ok := resp.Data["snapshot"].(team.Snapshot)
	if !ok {
		t.Fatalf("expected team.Snapshot in response data, got %T", resp.Data["snapshot"])
	}
	if len(snap.Patterns) != 1 {
		t.Errorf("expected one pattern in export snapshot, got %d", len(snap.Patterns))
	}
}

func newFullOrchestrator() *Orchestrator {
	return New(Config{
		Feedback:  feedback.New(feedback.Config{}),
		Evolution: evolution.New(evolution.Config{}),
		Team:      team.New(team.Config{}),
	})
}

func TestExecutePipelineRunsComprehensiveLearningSteps(t *testing.T) {
	o := newFullOrchestrator()

	result, err := o.ExecutePipeline(context.Background(), PipelineComprehensiveLearning)
	if err != nil {
		t.Fatalf("ExecutePipeline: %v", err)
	}
	if !result.Stats.Success {
		t.Fatalf("expected success, got errors: %v", result.Stats.Errors)
	}
	for _, component := range []string{"feedback", "evolution", "team", "health"} {
		if _, ok := result.Stats.ComponentsMS[component]; !ok {
			t.Errorf("expected a timing entry for component %q", component)
		}
		if _, ok := result.Data[component]; !ok {
			t.Errorf("expected data for component %q", component)
		}
	}
}

func TestExecutePipelineUnknownIDFails(t *testing.T) {
	o := newFullOrchestrator()
	if _, err := o.ExecutePipeline(context.Background(), "bogus_pipeline"); err == nil {
		t.Fatal("expected an error for an unknown pipeline id")
	}
}

func TestExecutePipelineCollectsPartialFailures(t *testing.T) {
	o := New(Config{Feedback: feedback.New(feedback.Config{})})

	result, err := o.ExecutePipeline(context.Background(), PipelineFeedbackCycle)
	if err == nil {
		t.Fatal("expected an error when unconfigured components fail their steps")
	}
	if result.Stats.Success {
		t.Fatal("expected Stats.Success=false")
	}
	if len(result.Stats.Errors) != 2 {
		t.Errorf("expected two failures (evolution, team unconfigured), got %v", result.Stats.Errors)
	}
	if _, ok := result.Data["feedback"]; !ok {
		t.Error("expected the configured feedback step to still have produced data")
	}
}

func TestMaintenanceDelegatesToEachComponent(t *testing.T) {
	o := newFullOrchestrator()
	ctx := context.Background()

	old := protocol.FeedbackContext{Confidence: 0.5, Timestamp: time.Now().Add(-48 * time.Hour)}
	o.cfg.Feedback.Record(ctx, protocol.FeedbackRequest{SuggestionID: "s1", Type: protocol.FeedbackAccept, PatternID: "P1", Context: old})

	o.cfg.Evolution.Record(ctx, protocol.EvolutionEvent{Type: protocol.EvoFileModified, File: "old.go", Timestamp: time.Now().Add(-48 * time.Hour)})

	shared, _ := o.cfg.Team.SharePattern(ctx, team.SharePatternRequest{Pattern: protocol.Pattern{ID: "dead"}, ContributorID: "C"})
	o.cfg.Team.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V1", Status: "rejected", Score: 1.0})
	o.cfg.Team.ValidatePattern(ctx, shared.ID, protocol.Validation{ValidatorID: "V2", Status: "rejected", Score: 1.0})

	if err := o.Maintenance(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Maintenance: %v", err)
	}

	if len(o.cfg.Feedback.Stats().PatternPerformance) != 0 {
		t.Error("expected the stale feedback event to have been dropped by Maintenance")
	}
	if len(o.cfg.Evolution.Events()) != 0 {
		t.Error("expected the stale evolution event to have been dropped by Maintenance")
	}
	if _, err := o.cfg.Team.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
}

func TestHealthReflectsMissingComponents(t *testing.T) {
	o := New(Config{Feedback: feedback.New(feedback.Config{})})
	report := o.Health()
	if report.Status != "critical" {
		t.Errorf("expected critical status with two components unconfigured, got %s", report.Status)
	}

	full := newFullOrchestrator()
	if got := full.Health().Status; got != "healthy" {
		t.Errorf("expected healthy status with every component configured, got %s", got)
	}
}

func TestHealthReflectsErrorRate(t *testing.T) {
	o := newFullOrchestrator()
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		o.Learn(ctx, protocol.LearnRequest{
			Operation: protocol.LearnFeedbackRecording,
			Data: encodeOpaque(t, protocol.FeedbackRequest{
				Type:         protocol.FeedbackAccept,
				SuggestionID: "s1",
				Context:      protocol.FeedbackContext{Confidence: 0.5},
			}),
		})
	}
	for i := 0; i < 2; i++ {
		o.Learn(ctx, protocol.LearnRequest{Operation: "bogus"})
	}

	report := o.Health()
	if report.OpsTotal != 11 {
		t.Fatalf("expected 11 total ops recorded, got %d", report.OpsTotal)
	}
	if report.Status == "healthy" {
		t.Errorf("expected a degraded or critical status at a ~18%% error rate, got healthy (rate=%v)", report.ErrorRate)
	}
}
