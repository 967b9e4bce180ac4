package feedback

import (
	"context"
	"testing"
	"time"

	"codeintel/internal/protocol"
)

func TestRecordSanitizesInvalidTypeAndClampsConfidence(t *testing.T) {
	loop := New(Config{})
	event, err := loop.Record(context.Background(), protocol.FeedbackRequest{
		SuggestionID: "s1",
		Type:         protocol.FeedbackType("bogus"),
		Context:      protocol.FeedbackContext{Confidence: 5},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if event.Type != protocol.FeedbackAccept {
		t.Errorf("expected invalid type to fall back to accept, got %s", event.Type)
	}
	if event.Context.Confidence != 1 {
		t.Errorf("expected confidence clamped to 1, got %v", event.Context.Confidence)
	}
	if event.ID == "" {
		t.Errorf("expected a generated id")
	}
}

// TestFeedbackDrivesPatternStrength reproduces the documented scenario:
// record({type:accept, pattern_id:"P1", context.confidence:0.5}) x5 yields
// +0.1 per emission, acceptance_rate 1.0 with usage_count 5, and a single
// pattern_strength insight.
func TestFeedbackDrivesPatternStrength(t *testing.T) {
	loop := New(Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := loop.Record(ctx, protocol.FeedbackRequest{
			SuggestionID: "s1",
			Type:         protocol.FeedbackAccept,
			PatternID:    "P1",
			Context:      protocol.FeedbackContext{Confidence: 0.5},
		}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	loop.mu.Lock()
	confidence := loop.patterns["P1"].Confidence
	loop.mu.Unlock()
	if got, want := confidence, 0.5+5*0.1; !almostEqual(got, want) {
		t.Errorf("expected pattern confidence %v after 5 accepts of +0.1, got %v", want, got)
	}

	stats := loop.Stats()
	perf, ok := stats.PatternPerformance["P1"]
	if !ok {
		t.Fatalf("expected pattern_performance entry for P1")
	}
	if perf.AcceptanceRate != 1.0 {
		t.Errorf("expected acceptance_rate 1.0, got %v", perf.AcceptanceRate)
	}
	if perf.UsageCount != 5 {
		t.Errorf("expected usage_count 5, got %d", perf.UsageCount)
	}

	insights := loop.Insights()
	var strengthCount int
	for _, ins := range insights {
		if ins.Kind == protocol.InsightPatternStrength && ins.Subject == "P1" {
			strengthCount++
		}
	}
	if strengthCount != 1 {
		t.Errorf("expected exactly one pattern_strength insight for P1, got %d", strengthCount)
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}

func TestInsightsSurfacesWeaknessAndUserPreference(t *testing.T) {
	loop := New(Config{MinSamples: 3})
	ctx := context.Background()

	// 1 accept, 4 rejects -> acceptance rate 0.2 (< 0.3) over 5 samples.
	loop.Record(ctx, protocol.FeedbackRequest{Type: protocol.FeedbackAccept, PatternID: "weak", Context: protocol.FeedbackContext{Confidence: 0.5}})
	for i := 0; i < 4; i++ {
		loop.Record(ctx, protocol.FeedbackRequest{Type: protocol.FeedbackReject, PatternID: "weak", Context: protocol.FeedbackContext{Confidence: 0.5}})
	}

	insights := loop.Insights()
	found := false
	for _, ins := range insights {
		if ins.Kind == protocol.InsightPatternWeakness && ins.Subject == "weak" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a pattern_weakness insight for 'weak'")
	}
}

func TestLearnFromCorrectionRefinesAboveThreshold(t *testing.T) {
	loop := New(Config{})
	ctx := context.Background()

	loop.mu.Lock()
	loop.patterns["P1"] = &protocol.Pattern{ID: "P1", Confidence: 0.5}
	loop.mu.Unlock()

	p, err := loop.LearnFromCorrection(ctx, "const x = 1", "const x = 1;", "P1", protocol.FeedbackContext{})
	if err != nil {
		t.Fatalf("LearnFromCorrection: %v", err)
	}
	if p.ID != "P1" {
		t.Errorf("expected the existing pattern P1 to be refined, got %s", p.ID)
	}
	if p.Occurrences != 1 {
		t.Errorf("expected occurrences incremented to 1, got %d", p.Occurrences)
	}
}

func TestLearnFromCorrectionSeedsNewPatternBelowThreshold(t *testing.T) {
	loop := New(Config{})
	p, err := loop.LearnFromCorrection(context.Background(), "foo", "completely different text entirely", "P1", protocol.FeedbackContext{})
	if err != nil {
		t.Fatalf("LearnFromCorrection: %v", err)
	}
	if p.ID == "P1" {
		t.Errorf("expected a new seed pattern below the similarity threshold, not a refinement of P1")
	}
}

func TestMaintainDropsEventsOlderThanRetention(t *testing.T) {
	loop := New(Config{})
	ctx := context.Background()

	old := protocol.FeedbackContext{Confidence: 0.5, Timestamp: time.Now().Add(-48 * time.Hour)}
	recent := protocol.FeedbackContext{Confidence: 0.5, Timestamp: time.Now()}

	if _, err := loop.Record(ctx, protocol.FeedbackRequest{SuggestionID: "s-old", Type: protocol.FeedbackAccept, PatternID: "P1", Context: old}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := loop.Record(ctx, protocol.FeedbackRequest{SuggestionID: "s-new", Type: protocol.FeedbackAccept, PatternID: "P1", Context: recent}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := loop.Maintain(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Maintain: %v", err)
	}

	if got := loop.Stats().Totals; got.Accept != 1 {
		t.Errorf("expected only the recent event to survive Maintain, got totals %+v", got)
	}
}
