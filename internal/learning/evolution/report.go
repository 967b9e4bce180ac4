package evolution

import (
	"fmt"
	"time"

	"codeintel/internal/protocol"
)

// Report is the result of GenerateReport: the events and patterns observed
// within a period, the quality trends fitted over the same window, and a
// prioritized set of recommendations derived from them.
type Report struct {
	Period          TimeRange                   `json:"period"`
	Events          []protocol.EvolutionEvent    `json:"events"`
	Patterns        []protocol.EvolutionPattern  `json:"patterns"`
	Trends          []Trend                      `json:"trends"`
	StartQuality    *protocol.QualityMetrics      `json:"start_quality,omitempty"`
	EndQuality      *protocol.QualityMetrics      `json:"end_quality,omitempty"`
	Recommendations []string                      `json:"recommendations"`
}

// TimeRange bounds a report's period, both ends inclusive.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// namedMetric pairs a QualityMetrics scalar accessor with the metadata
// ComputeTrend and recommendation text need.
type namedMetric struct {
	name           string
	extract        func(protocol.QualityMetrics) float64
	higherIsBetter bool
}

var reportMetrics = []namedMetric{
	{"complexity.cyclomatic", func(m protocol.QualityMetrics) float64 { return float64(m.Complexity.Cyclomatic) }, false},
	{"duplication.percent", func(m protocol.QualityMetrics) float64 { return m.Duplication.Percent }, false},
	{"dependencies.circular", func(m protocol.QualityMetrics) float64 { return float64(m.Dependencies.Circular) }, false},
	{"test_coverage.lines", func(m protocol.QualityMetrics) float64 { return m.TestCoverage.Lines }, true},
	{"maintainability.index", func(m protocol.QualityMetrics) float64 { return m.Maintainability.Index }, true},
	{"maintainability.debt_hours", func(m protocol.QualityMetrics) float64 { return m.Maintainability.DebtHours }, false},
}

// GenerateReport assembles a Report covering [since, until]: the events and
// patterns observed in that window, trends fitted over the quality
// snapshots within it, and recommendations derived from declining trends
// and high-confidence patterns.
func (t *Tracker) GenerateReport(since, until time.Time) Report {
	t.mu.Lock()
	events := make([]protocol.EvolutionEvent, 0, len(t.events))
	for _, e := range t.events {
		if !e.Timestamp.Before(since) && !e.Timestamp.After(until) {
			events = append(events, e)
		}
	}
	quality := make([]protocol.QualityMetrics, 0, len(t.quality))
	for _, q := range t.quality {
		if !q.Timestamp.Before(since) && !q.Timestamp.After(until) {
			quality = append(quality, q)
		}
	}
	t.mu.Unlock()

	patterns := t.DetectPatternsSync()

	var trends []Trend
	for _, m := range reportMetrics {
		if trend, ok := ComputeTrend(m.name, quality, m.extract, m.higherIsBetter); ok {
			trends = append(trends, trend)
		}
	}

	report := Report{
		Period:          TimeRange{Start: since, End: until},
		Events:          events,
		Patterns:        patterns,
		Trends:          trends,
		Recommendations: recommendationsFor(trends, patterns),
	}
	if len(quality) > 0 {
		first, last := quality[0], quality[len(quality)-1]
		report.StartQuality = &first
		report.EndQuality = &last
	}
	return report
}

// recommendationsFor prioritizes declining-trend metrics first (biggest
// percent change first), then high-confidence detected patterns worth
// acting on.
func recommendationsFor(trends []Trend, patterns []protocol.EvolutionPattern) []string {
	var recs []string

	decliningByMagnitude := make([]Trend, 0, len(trends))
	for _, tr := range trends {
		if tr.Direction == TrendDeclining {
			decliningByMagnitude = append(decliningByMagnitude, tr)
		}
	}
	for i := 0; i < len(decliningByMagnitude); i++ {
		best := i
		for j := i + 1; j < len(decliningByMagnitude); j++ {
			if percentChange(decliningByMagnitude[j]) > percentChange(decliningByMagnitude[best]) {
				best = j
			}
		}
		decliningByMagnitude[i], decliningByMagnitude[best] = decliningByMagnitude[best], decliningByMagnitude[i]
	}
	for _, tr := range decliningByMagnitude {
		recs = append(recs, fmt.Sprintf("%s trending down (%.1f%% change, fit strength %.2f)", tr.Metric, percentChange(tr)*100, tr.Strength))
	}

	for _, p := range patterns {
		if p.Confidence >= 0.8 {
			recs = append(recs, fmt.Sprintf("recurring %s pattern %q seen %d times, consider codifying it", p.Type, p.Name, p.Frequency))
		}
	}
	return recs
}

func percentChange(tr Trend) float64 {
	if tr.Start == 0 {
		return 0
	}
	return (tr.End - tr.Start) / absFloat(tr.Start)
}
