package evolution

import (
	"context"
	"fmt"
	"testing"
	"time"

	"codeintel/internal/protocol"
)

func TestTrackFileChangeComputesImpactAndRecords(t *testing.T) {
	tr := New(Config{})
	before := &protocol.FileSnapshot{Path: "src/widget.ts", Content: "short"}
	after := &protocol.FileSnapshot{Path: "src/widget.ts", Content: "a much longer replacement body than before"}

	event, err := tr.TrackFileChange(context.Background(), protocol.TrackFileChangeRequest{
		Path:       "src/widget.ts",
		ChangeType: protocol.FileChangeModified,
		Before:     before,
		After:      after,
	})
	if err != nil {
		t.Fatalf("TrackFileChange: %v", err)
	}
	if event.Type != protocol.EvoFileModified {
		t.Errorf("expected EvoFileModified, got %v", event.Type)
	}
	if event.Impact.FilesAffected != 1 {
		t.Errorf("expected FilesAffected 1, got %d", event.Impact.FilesAffected)
	}
}

func TestTrackFileChangeEscalatesCriticalPaths(t *testing.T) {
	tr := New(Config{})
	event, err := tr.TrackFileChange(context.Background(), protocol.TrackFileChangeRequest{
		Path:       "go.mod",
		ChangeType: protocol.FileChangeModified,
		Before:     &protocol.FileSnapshot{Content: "a"},
		After:      &protocol.FileSnapshot{Content: "b"},
	})
	if err != nil {
		t.Fatalf("TrackFileChange: %v", err)
	}
	if event.Impact.Severity != protocol.SeverityCritical {
		t.Errorf("expected critical severity for go.mod change, got %v", event.Impact.Severity)
	}
}

// TestEvolutionDetectionOnTenModifiedFiles is the literal scenario: ten
// file_modified events on paths matching src/*.ts, same event type, over
// four days, default min_occurrences=3/min_confidence=0.6, should yield
// exactly one detected pattern with frequency=10 and confidence=min(0.9,1)=0.9.
func TestEvolutionDetectionOnTenModifiedFiles(t *testing.T) {
	tr := New(Config{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		event := protocol.EvolutionEvent{
			Type:      protocol.EvoFileModified,
			File:      fmt.Sprintf("src/widget%d.ts", i),
			Timestamp: base.Add(time.Duration(i) * 10 * time.Hour),
			Impact:    protocol.EvolutionImpact{FilesAffected: 1, Severity: protocol.SeverityLow},
		}
		if _, err := tr.Record(context.Background(), event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	patterns := tr.DetectPatternsSync()
	if len(patterns) != 1 {
		t.Fatalf("expected exactly one detected pattern, got %d: %+v", len(patterns), patterns)
	}
	p := patterns[0]
	if p.Frequency != 10 {
		t.Errorf("expected frequency 10, got %d", p.Frequency)
	}
	if p.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", p.Confidence)
	}
	if p.Type != protocol.EvoPatternArchitectural {
		t.Errorf("expected architectural pattern type for file_modified events, got %v", p.Type)
	}
}

func TestEvolutionDetectionBelowMinOccurrencesDoesNotFire(t *testing.T) {
	tr := New(Config{})
	for i := 0; i < 2; i++ {
		event := protocol.EvolutionEvent{
			Type: protocol.EvoFileModified,
			File: fmt.Sprintf("src/widget%d.ts", i),
		}
		if _, err := tr.Record(context.Background(), event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if patterns := tr.DetectPatternsSync(); len(patterns) != 0 {
		t.Errorf("expected no pattern below min_occurrences, got %d", len(patterns))
	}
}

func TestEvolutionDetectionClassifiesSymbolRenamedAsRefactoring(t *testing.T) {
	tr := New(Config{})
	for i := 0; i < 6; i++ {
		event := protocol.EvolutionEvent{
			Type: protocol.EvoSymbolRenamed,
			File: fmt.Sprintf("src/foo%d.go", i),
		}
		if _, err := tr.Record(context.Background(), event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	patterns := tr.DetectPatternsSync()
	if len(patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(patterns))
	}
	if patterns[0].Type != protocol.EvoPatternRefactoring {
		t.Errorf("expected refactoring pattern type, got %v", patterns[0].Type)
	}
}

func TestRecordQualityMetricsTrimsToRollingWindow(t *testing.T) {
	tr := New(Config{})
	old := protocol.QualityMetrics{Timestamp: time.Now().Add(-400 * 24 * time.Hour)}
	recent := protocol.QualityMetrics{Timestamp: time.Now()}

	if err := tr.RecordQualityMetrics(context.Background(), old); err != nil {
		t.Fatalf("RecordQualityMetrics: %v", err)
	}
	if err := tr.RecordQualityMetrics(context.Background(), recent); err != nil {
		t.Fatalf("RecordQualityMetrics: %v", err)
	}

	snapshots := tr.QualitySnapshots()
	if len(snapshots) != 1 {
		t.Fatalf("expected old snapshot trimmed, got %d snapshots", len(snapshots))
	}
}

func TestGenerateReportComputesDecliningComplexityTrend(t *testing.T) {
	tr := New(Config{})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := protocol.QualityMetrics{
			Timestamp:  base.Add(time.Duration(i) * 24 * time.Hour),
			Complexity: protocol.QualityComplexity{Cyclomatic: 10 + i*10},
		}
		if err := tr.RecordQualityMetrics(context.Background(), m); err != nil {
			t.Fatalf("RecordQualityMetrics: %v", err)
		}
	}

	report := tr.GenerateReport(base.Add(-time.Hour), base.Add(10*24*time.Hour))
	var found bool
	for _, trend := range report.Trends {
		if trend.Metric == "complexity.cyclomatic" {
			found = true
			if trend.Direction != TrendDeclining {
				t.Errorf("expected complexity trend to be declining (rising cyclomatic is bad), got %v", trend.Direction)
			}
		}
	}
	if !found {
		t.Fatal("expected a complexity.cyclomatic trend in the report")
	}
	if len(report.Recommendations) == 0 {
		t.Error("expected at least one recommendation for a declining trend")
	}
}

func TestMaintainDropsEventsOlderThanRetention(t *testing.T) {
	tr := New(Config{})
	ctx := context.Background()

	old := protocol.EvolutionEvent{
		Type:      protocol.EvoFileModified,
		File:      "old.go",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	recent := protocol.EvolutionEvent{
		Type:      protocol.EvoFileModified,
		File:      "recent.go",
		Timestamp: time.Now(),
	}

	if _, err := tr.Record(ctx, old); err != nil {
		t.Fatalf("Record old: %v", err)
	}
	if _, err := tr.Record(ctx, recent); err != nil {
		t.Fatalf("Record recent: %v", err)
	}

	if err := tr.Maintain(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Maintain: %v", err)
	}

	events := tr.Events()
	if len(events) != 1 {
		t.Fatalf("expected only the recent event to survive Maintain, got %d events", len(events))
	}
	if events[0].File != "recent.go" {
		t.Errorf("expected the surviving event to be recent.go, got %s", events[0].File)
	}
}
