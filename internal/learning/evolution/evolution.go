// Package evolution tracks observed workspace changes (file/symbol/
// dependency events), detects recurring change patterns asynchronously on
// every record, derives trends from quality-metric history, and assembles
// period reports.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeintel/internal/dbstore"
	"codeintel/internal/eventbus"
	"codeintel/internal/protocol"
)

// DefaultMinOccurrences and DefaultMinConfidence mirror
// config.EvolutionConfig's defaults.
const (
	DefaultMinOccurrences = 3
	DefaultMinConfidence  = 0.6
)

// QualityWindow is how long record_quality_metrics' rolling in-memory
// history retains snapshots.
const QualityWindow = 365 * 24 * time.Hour

// criticalPathMarkers flags files whose change severity is escalated
// regardless of diff size — build/config manifests ripple workspace-wide.
var criticalPathMarkers = []string{"go.mod", "go.sum", "package.json", "Dockerfile", "Makefile", ".github/workflows"}

// Config wires the tracker to its dependencies.
type Config struct {
	Store          *dbstore.Store
	Bus            *eventbus.Bus
	MinOccurrences int
	MinConfidence  float64
}

// Tracker is the evolution-tracking engine.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	events   []protocol.EvolutionEvent
	patterns []protocol.EvolutionPattern
	quality  []protocol.QualityMetrics
}

// New creates a Tracker, filling in defaults for zero-valued Config fields.
func New(cfg Config) *Tracker {
	if cfg.MinOccurrences <= 0 {
		cfg.MinOccurrences = DefaultMinOccurrences
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Tracker{cfg: cfg}
}

func sanitizeSeverity(s protocol.Severity) protocol.Severity {
	switch s {
	case protocol.SeverityLow, protocol.SeverityMedium, protocol.SeverityHigh, protocol.SeverityCritical:
		return s
	default:
		return protocol.SeverityLow
	}
}

// Record validates event's severity, persists it, appends it to the
// in-memory history, and kicks off asynchronous pattern detection.
func (t *Tracker) Record(ctx context.Context, event protocol.EvolutionEvent) (protocol.EvolutionEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Impact.Severity = sanitizeSeverity(event.Impact.Severity)

	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()

	if t.cfg.Store != nil {
		if err := t.persist(ctx, event); err != nil {
			return event, err
		}
	}
	if t.cfg.Bus != nil {
		t.cfg.Bus.Emit("evolution-event-recorded", event)
	}

	go t.detectPatterns()
	return event, nil
}

func (t *Tracker) persist(ctx context.Context, event protocol.EvolutionEvent) error {
	contextJSON, _ := json.Marshal(event.Context)
	beforeJSON, _ := json.Marshal(event.Before)
	afterJSON, _ := json.Marshal(event.After)
	_, err := t.cfg.Store.Execute(ctx,
		`INSERT INTO evolution_events (id, event_type, type, timestamp, file, before_snapshot, after_snapshot, context, impact, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), string(event.Type), event.Timestamp.Unix(), event.File,
		string(beforeJSON), string(afterJSON), string(contextJSON), "{}", "{}",
	)
	if err != nil {
		return fmt.Errorf("evolution: persist event: %w", err)
	}
	return nil
}

// filePattern reduces a path to a coarse glob used to group events: the
// parent directory plus a wildcard extension, e.g. "src/widget.ts" ->
// "src/*.ts". Files with no extension group by directory alone.
func filePattern(p string) string {
	dir := path.Dir(p)
	ext := path.Ext(p)
	if ext == "" {
		return dir + "/*"
	}
	return dir + "/*" + ext
}

// isCriticalPath reports whether p matches one of the build/config markers
// whose changes are escalated to at least SeverityHigh regardless of size.
func isCriticalPath(p string) bool {
	for _, marker := range criticalPathMarkers {
		if strings.Contains(p, marker) {
			return true
		}
	}
	return false
}

// ComputeImpact derives diff size, a symbol-delta heuristic, and severity
// from a file change's before/after snapshots.
func ComputeImpact(path string, before, after *protocol.FileSnapshot) protocol.EvolutionImpact {
	diffSize := 0
	if before != nil && after != nil {
		diffSize = abs(len(after.Content) - len(before.Content))
	} else if after != nil {
		diffSize = len(after.Content)
	} else if before != nil {
		diffSize = len(before.Content)
	}

	symbolsAffected := diffSize / 80 // heuristic: ~80 chars per symbol changed
	if symbolsAffected == 0 && diffSize > 0 {
		symbolsAffected = 1
	}

	severity := protocol.SeverityLow
	switch {
	case isCriticalPath(path):
		severity = protocol.SeverityCritical
	case diffSize > 2000:
		severity = protocol.SeverityHigh
	case diffSize > 500:
		severity = protocol.SeverityMedium
	}

	return protocol.EvolutionImpact{
		FilesAffected:   1,
		SymbolsAffected: symbolsAffected,
		Severity:        severity,
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var fileChangeToEvolutionType = map[protocol.FileChangeType]protocol.EvolutionType{
	protocol.FileChangeCreated:  protocol.EvoFileCreated,
	protocol.FileChangeModified: protocol.EvoFileModified,
	protocol.FileChangeDeleted:  protocol.EvoFileDeleted,
	protocol.FileChangeRenamed:  protocol.EvoFileRenamed,
}

// TrackFileChange computes impact from before/after snapshots and records
// the resulting EvolutionEvent.
func (t *Tracker) TrackFileChange(ctx context.Context, req protocol.TrackFileChangeRequest) (protocol.EvolutionEvent, error) {
	evoType, ok := fileChangeToEvolutionType[req.ChangeType]
	if !ok {
		evoType = protocol.EvoFileModified
	}

	event := protocol.EvolutionEvent{
		Type:    evoType,
		File:    req.Path,
		Before:  req.Before,
		After:   req.After,
		Context: req.Context,
		Impact:  ComputeImpact(req.Path, req.Before, req.After),
	}
	return t.Record(ctx, event)
}

// RecordQualityMetrics appends m to the rolling 365-day in-memory window
// (older snapshots are trimmed) and persists it.
func (t *Tracker) RecordQualityMetrics(ctx context.Context, m protocol.QualityMetrics) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.quality = append(t.quality, m)
	cutoff := time.Now().Add(-QualityWindow)
	trimmed := t.quality[:0]
	for _, q := range t.quality {
		if q.Timestamp.After(cutoff) {
			trimmed = append(trimmed, q)
		}
	}
	t.quality = trimmed
	t.mu.Unlock()

	if t.cfg.Store == nil {
		if t.cfg.Bus != nil {
			t.cfg.Bus.Emit("quality-metrics-recorded", m)
		}
		return nil
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("evolution: marshal quality metrics: %w", err)
	}
	_, err = t.cfg.Store.Execute(ctx,
		`INSERT INTO quality_metrics (recorded_at, complexity, duplication, dependencies, test_coverage, maintainability)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.Timestamp.Unix(), string(payload), string(payload), string(payload), string(payload), string(payload),
	)
	if err != nil {
		return fmt.Errorf("evolution: persist quality metrics: %w", err)
	}
	if t.cfg.Bus != nil {
		t.cfg.Bus.Emit("quality-metrics-recorded", m)
	}
	return nil
}

// classifyPatternType infers an EvolutionPatternType from the dominant
// EvolutionType within a detected group.
func classifyPatternType(evoType protocol.EvolutionType) protocol.EvolutionPatternType {
	switch evoType {
	case protocol.EvoSymbolRenamed:
		return protocol.EvoPatternRefactoring
	case protocol.EvoDependencyAdded, protocol.EvoDependencyRemoved:
		return protocol.EvoPatternMigration
	case protocol.EvoSymbolAdded:
		return protocol.EvoPatternGrowth
	case protocol.EvoSymbolRemoved:
		return protocol.EvoPatternCleanup
	default:
		return protocol.EvoPatternArchitectural
	}
}

type groupKey struct {
	evoType protocol.EvolutionType
	pattern string
}

// detectPatterns groups the current event history by (type, file-pattern)
// and emits an EvolutionPattern for every group at or above MinOccurrences
// with confidence min(0.9, n/10) at or above MinConfidence, stores them as
// the current pattern set and returns them. Safe to call concurrently with
// Record (it takes its own lock and operates on a snapshot).
func (t *Tracker) detectPatterns() []protocol.EvolutionPattern {
	t.mu.Lock()
	events := make([]protocol.EvolutionEvent, len(t.events))
	copy(events, t.events)
	t.mu.Unlock()

	groups := make(map[groupKey][]protocol.EvolutionEvent)
	for _, e := range events {
		key := groupKey{evoType: e.Type, pattern: filePattern(e.File)}
		groups[key] = append(groups[key], e)
	}

	var detected []protocol.EvolutionPattern
	for key, group := range groups {
		n := len(group)
		if n < t.cfg.MinOccurrences {
			continue
		}
		confidence := float64(n) / 10.0
		if confidence > 0.9 {
			confidence = 0.9
		}
		if confidence < t.cfg.MinConfidence {
			continue
		}

		first, last := group[0].Timestamp, group[0].Timestamp
		var examples []string
		for _, e := range group {
			if e.Timestamp.Before(first) {
				first = e.Timestamp
			}
			if e.Timestamp.After(last) {
				last = e.Timestamp
			}
			examples = append(examples, e.File)
		}

		detected = append(detected, protocol.EvolutionPattern{
			ID:         "evo-" + string(key.evoType) + "-" + key.pattern,
			Type:       classifyPatternType(key.evoType),
			Name:       string(key.evoType) + " " + key.pattern,
			Frequency:  n,
			Confidence: confidence,
			Examples:   examples,
			Characteristics: protocol.EvolutionCharacteristics{
				TypicalFiles:      []string{key.pattern},
				TypicalOperations: []string{string(key.evoType)},
			},
			DetectedAt: time.Now(),
			LastSeen:   last,
		})
	}

	t.mu.Lock()
	t.patterns = detected
	t.mu.Unlock()

	if t.cfg.Store != nil {
		for _, p := range detected {
			if err := t.persistPattern(context.Background(), p); err != nil && t.cfg.Bus != nil {
				t.cfg.Bus.Emit("error", err)
			}
		}
	}
	return detected
}

func (t *Tracker) persistPattern(ctx context.Context, p protocol.EvolutionPattern) error {
	examplesJSON, _ := json.Marshal(p.Examples)
	characteristicsJSON, _ := json.Marshal(p.Characteristics)
	_, err := t.cfg.Store.Execute(ctx,
		`INSERT OR REPLACE INTO evolution_patterns (id, pattern_type, name, description, frequency, confidence, examples, characteristics, detected_at, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Type), p.Name, p.Description, p.Frequency, p.Confidence,
		string(examplesJSON), string(characteristicsJSON), p.DetectedAt.Unix(), p.LastSeen.Unix(),
	)
	if err != nil {
		return fmt.Errorf("evolution: persist pattern: %w", err)
	}
	return nil
}

// Patterns returns the most recently detected patterns.
func (t *Tracker) Patterns() []protocol.EvolutionPattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.EvolutionPattern, len(t.patterns))
	copy(out, t.patterns)
	return out
}

// DetectPatternsSync runs detectPatterns synchronously, for callers (tests,
// generate_report) that need up-to-date patterns without racing the
// asynchronous detection Record triggers.
func (t *Tracker) DetectPatternsSync() []protocol.EvolutionPattern {
	return t.detectPatterns()
}

// Events returns a copy of the in-memory event history.
func (t *Tracker) Events() []protocol.EvolutionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.EvolutionEvent, len(t.events))
	copy(out, t.events)
	return out
}

// QualitySnapshots returns a copy of the rolling quality-metrics window.
func (t *Tracker) QualitySnapshots() []protocol.QualityMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.QualityMetrics, len(t.quality))
	copy(out, t.quality)
	return out
}

// Maintain drops in-memory events older than retention, recomputes detected
// patterns from what remains, and — if a Store is configured — purges the
// matching rows from evolution_events.
func (t *Tracker) Maintain(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	t.mu.Lock()
	kept := t.events[:0]
	for _, e := range t.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.events = kept
	t.mu.Unlock()

	t.detectPatterns()

	if t.cfg.Store == nil {
		return nil
	}
	_, err := t.cfg.Store.Execute(ctx, "DELETE FROM evolution_events WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return fmt.Errorf("evolution: maintain: purge events: %w", err)
	}
	return nil
}
