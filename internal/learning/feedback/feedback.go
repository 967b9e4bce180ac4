// Package feedback records accept/reject/modify/ignore decisions about
// suggestions, adjusts the confidence of the pattern each decision
// references, and derives insights from the accumulated history: validate
// and sanitize the incoming request, adjust the pattern's confidence, then
// persist the event.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"codeintel/internal/dbstore"
	"codeintel/internal/eventbus"
	"codeintel/internal/layers"
	"codeintel/internal/protocol"
)

// DefaultModificationSimilarityThreshold is learn_from_correction's default
// refine-vs-seed-new-pattern cutoff.
const DefaultModificationSimilarityThreshold = 0.7

// DefaultMinSamples is the minimum per-pattern usage count before insights
// will surface a pattern_weakness/pattern_strength verdict about it, matching
// config.FeedbackConfig.MinToLearn's default.
const DefaultMinSamples = 5

// patternUsage accumulates per-pattern feedback-type counts used to compute
// acceptance_rate and usage_count without re-scanning the full event log.
type patternUsage struct {
	accept, reject, modify, ignore int
}

func (u patternUsage) total() int { return u.accept + u.reject + u.modify + u.ignore }
func (u patternUsage) acceptanceRate() float64 {
	if u.total() == 0 {
		return 0
	}
	return float64(u.accept) / float64(u.total())
}
func (u patternUsage) modifyRate() float64 {
	if u.total() == 0 {
		return 0
	}
	return float64(u.modify) / float64(u.total())
}

// Config wires the feedback loop to its dependencies.
type Config struct {
	Store                           *dbstore.Store
	Bus                             *eventbus.Bus
	Index                           *layers.Index // optional: kept in sync with learned patterns
	ModificationSimilarityThreshold float64
	MinSamples                      int
}

// Loop is the feedback recording and pattern-learning engine.
type Loop struct {
	mu       sync.Mutex
	cfg      Config
	events   []protocol.FeedbackEvent
	patterns map[string]*protocol.Pattern
	usage    map[string]*patternUsage
}

// New creates a Loop, filling in defaults for zero-valued Config fields.
func New(cfg Config) *Loop {
	if cfg.ModificationSimilarityThreshold <= 0 {
		cfg.ModificationSimilarityThreshold = DefaultModificationSimilarityThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &Loop{
		cfg:      cfg,
		patterns: make(map[string]*protocol.Pattern),
		usage:    make(map[string]*patternUsage),
	}
}

func sanitizeType(t protocol.FeedbackType) protocol.FeedbackType {
	switch t {
	case protocol.FeedbackAccept, protocol.FeedbackReject, protocol.FeedbackModify, protocol.FeedbackIgnore:
		return t
	default:
		return protocol.FeedbackAccept
	}
}

// confidenceAdjustment implements the per-type pattern-confidence formula.
func confidenceAdjustment(t protocol.FeedbackType, c float64) float64 {
	switch t {
	case protocol.FeedbackAccept:
		return min(0.1, (1-c)*0.2)
	case protocol.FeedbackReject:
		return -min(0.2, c*0.3)
	case protocol.FeedbackModify:
		return -min(0.05, c*0.1)
	case protocol.FeedbackIgnore:
		return -min(0.02, c*0.05)
	default:
		return 0
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Record validates and sanitizes req, persists the resulting FeedbackEvent,
// and — if req.PatternID is set — adjusts that pattern's confidence.
func (l *Loop) Record(ctx context.Context, req protocol.FeedbackRequest) (protocol.FeedbackEvent, error) {
	feedbackType := sanitizeType(req.Type)
	confidence := protocol.ClampConfidence(req.Context.Confidence)

	timestamp := req.Context.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	event := protocol.FeedbackEvent{
		ID:           uuid.NewString(),
		Type:         feedbackType,
		SuggestionID: req.SuggestionID,
		PatternID:    req.PatternID,
		Original:     req.Original,
		Final:        req.Final,
		Context:      protocol.FeedbackContext{File: req.Context.File, Operation: req.Context.Operation, Timestamp: timestamp, Confidence: confidence},
		Metadata:     req.Metadata,
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	if event.PatternID != "" {
		u, ok := l.usage[event.PatternID]
		if !ok {
			u = &patternUsage{}
			l.usage[event.PatternID] = u
		}
		switch feedbackType {
		case protocol.FeedbackAccept:
			u.accept++
		case protocol.FeedbackReject:
			u.reject++
		case protocol.FeedbackModify:
			u.modify++
		case protocol.FeedbackIgnore:
			u.ignore++
		}

		p, ok := l.patterns[event.PatternID]
		if !ok {
			p = &protocol.Pattern{ID: event.PatternID, Confidence: confidence}
			l.patterns[event.PatternID] = p
		}
		p.Confidence = protocol.ClampConfidence(p.Confidence + confidenceAdjustment(feedbackType, confidence))
		p.Occurrences++
	}
	l.syncIndexLocked()
	l.mu.Unlock()

	if l.cfg.Store != nil {
		if err := l.persist(ctx, event); err != nil {
			return event, err
		}
	}
	if l.cfg.Bus != nil {
		l.cfg.Bus.Emit("feedback-recorded", event)
	}
	return event, nil
}

func (l *Loop) persist(ctx context.Context, event protocol.FeedbackEvent) error {
	contextJSON, err := json.Marshal(event.Context)
	if err != nil {
		return fmt.Errorf("feedback: marshal context: %w", err)
	}
	_, err = l.cfg.Store.Execute(ctx,
		`INSERT INTO feedback_events (id, event_type, type, suggestion_id, pattern_id, original, final, context, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Type), string(event.Type), event.SuggestionID, event.PatternID,
		event.Original, event.Final, string(contextJSON), "{}", event.Context.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("feedback: persist event: %w", err)
	}
	return nil
}

// syncIndexLocked pushes the current pattern set to cfg.Index, if set, so
// the pattern layer consults up-to-date confidences. Caller must hold l.mu.
func (l *Loop) syncIndexLocked() {
	if l.cfg.Index == nil {
		return
	}
	patterns := make([]protocol.Pattern, 0, len(l.patterns))
	for _, p := range l.patterns {
		patterns = append(patterns, *p)
	}
	l.cfg.Index.SetPatterns(patterns)
}

// LearnFromCorrection compares original and corrected; a normalized
// similarity at or above the configured threshold refines the referenced
// pattern (if any), otherwise a new pattern seed is created.
func (l *Loop) LearnFromCorrection(ctx context.Context, original, corrected, referencedPatternID string, fctx protocol.FeedbackContext) (protocol.Pattern, error) {
	similarity := NormalizedSimilarity(original, corrected)

	l.mu.Lock()
	defer l.mu.Unlock()

	if similarity >= l.cfg.ModificationSimilarityThreshold && referencedPatternID != "" {
		p, ok := l.patterns[referencedPatternID]
		if !ok {
			p = &protocol.Pattern{ID: referencedPatternID, From: original, To: corrected}
			l.patterns[referencedPatternID] = p
		}
		p.Occurrences++
		p.Confidence = protocol.ClampConfidence(p.Confidence + 0.05)
		l.syncIndexLocked()
		return *p, nil
	}

	seed := protocol.Pattern{
		ID:          uuid.NewString(),
		From:        original,
		To:          corrected,
		Confidence:  0.3,
		Occurrences: 1,
	}
	l.patterns[seed.ID] = &seed
	l.syncIndexLocked()
	return seed, nil
}

// PatternPerformance is one pattern's contribution to Stats.
type PatternPerformance struct {
	AcceptanceRate float64
	UsageCount     int
}

// RangeBreakdown is a totals-by-type snapshot over a trailing window.
type RangeBreakdown struct {
	Accept, Reject, Modify, Ignore int
}

// Stats is the result of Loop.Stats.
type Stats struct {
	Totals             RangeBreakdown
	AverageConfidence  float64
	PatternPerformance map[string]PatternPerformance
	Last24h            RangeBreakdown
	Last7d             RangeBreakdown
	Last30d            RangeBreakdown
}

func breakdownSince(events []protocol.FeedbackEvent, since time.Time) RangeBreakdown {
	var b RangeBreakdown
	for _, e := range events {
		if e.Context.Timestamp.Before(since) {
			continue
		}
		switch e.Type {
		case protocol.FeedbackAccept:
			b.Accept++
		case protocol.FeedbackReject:
			b.Reject++
		case protocol.FeedbackModify:
			b.Modify++
		case protocol.FeedbackIgnore:
			b.Ignore++
		}
	}
	return b
}

// Stats aggregates totals, rates, per-pattern performance, and 24h/7d/30d
// breakdowns over the in-memory event history.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	stats := Stats{
		Totals:             breakdownSince(l.events, time.Time{}),
		Last24h:            breakdownSince(l.events, now.Add(-24*time.Hour)),
		Last7d:             breakdownSince(l.events, now.Add(-7*24*time.Hour)),
		Last30d:            breakdownSince(l.events, now.Add(-30*24*time.Hour)),
		PatternPerformance: make(map[string]PatternPerformance, len(l.usage)),
	}

	var confidenceSum float64
	for _, e := range l.events {
		confidenceSum += e.Context.Confidence
	}
	if len(l.events) > 0 {
		stats.AverageConfidence = confidenceSum / float64(len(l.events))
	}

	for id, u := range l.usage {
		stats.PatternPerformance[id] = PatternPerformance{
			AcceptanceRate: u.acceptanceRate(),
			UsageCount:     u.total(),
		}
	}
	return stats
}

// Insights derives pattern_weakness, pattern_strength, and user_preference
// observations from the current pattern-usage statistics.
func (l *Loop) Insights() []protocol.Insight {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.usage))
	for id := range l.usage {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var insights []protocol.Insight
	for _, id := range ids {
		u := l.usage[id]
		if u.total() < l.cfg.MinSamples {
			continue
		}
		switch {
		case u.acceptanceRate() < 0.3:
			insights = append(insights, protocol.Insight{
				Kind: protocol.InsightPatternWeakness, Subject: id,
				Detail:     fmt.Sprintf("acceptance rate %.2f over %d uses", u.acceptanceRate(), u.total()),
				Confidence: 1 - u.acceptanceRate(),
			})
		case u.acceptanceRate() > 0.8:
			insights = append(insights, protocol.Insight{
				Kind: protocol.InsightPatternStrength, Subject: id,
				Detail:     fmt.Sprintf("acceptance rate %.2f over %d uses", u.acceptanceRate(), u.total()),
				Confidence: u.acceptanceRate(),
			})
		}
		if u.modifyRate() > 0.4 {
			insights = append(insights, protocol.Insight{
				Kind: protocol.InsightUserPreference, Subject: id,
				Detail:     fmt.Sprintf("modification rate %.2f over %d uses", u.modifyRate(), u.total()),
				Confidence: u.modifyRate(),
			})
		}
	}
	return insights
}

// Maintain drops in-memory events older than retention, rebuilds the
// per-pattern usage counters from what remains, and — if a Store is
// configured — purges the matching rows from feedback_events.
func (l *Loop) Maintain(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)

	l.mu.Lock()
	kept := l.events[:0]
	for _, e := range l.events {
		if e.Context.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	l.events = kept

	usage := make(map[string]*patternUsage, len(l.usage))
	for _, e := range l.events {
		if e.PatternID == "" {
			continue
		}
		u, ok := usage[e.PatternID]
		if !ok {
			u = &patternUsage{}
			usage[e.PatternID] = u
		}
		switch e.Type {
		case protocol.FeedbackAccept:
			u.accept++
		case protocol.FeedbackReject:
			u.reject++
		case protocol.FeedbackModify:
			u.modify++
		case protocol.FeedbackIgnore:
			u.ignore++
		}
	}
	l.usage = usage
	l.mu.Unlock()

	if l.cfg.Store == nil {
		return nil
	}
	_, err := l.cfg.Store.Execute(ctx, "DELETE FROM feedback_events WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return fmt.Errorf("feedback: maintain: purge events: %w", err)
	}
	return nil
}
