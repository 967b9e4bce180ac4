package orchestrator

import "sync/atomic"

// ComponentHealth is one learning component's wiring state.
type ComponentHealth struct {
	Name       string
	Configured bool
}

// HealthReport is the orchestrator's aggregated view across its components
// and recent Learn dispatch outcomes.
type HealthReport struct {
	Status     string // healthy | degraded | critical
	ErrorRate  float64
	OpsTotal   int64
	Components []ComponentHealth
}

// errorRateDegradedThreshold and errorRateCriticalThreshold bound the
// Learn dispatch error rate used in Health's status derivation. Below
// minSampleSize ops, the error rate is not yet considered a reliable
// signal and status is decided on component wiring alone.
const (
	errorRateDegradedThreshold = 0.1
	errorRateCriticalThreshold = 0.5
	minSampleSize              = 10
)

// Health reports overall status derived from which components are wired
// and, once enough Learn calls have been observed, their error rate:
//   - critical: two or more components unconfigured, or error rate above
//     errorRateCriticalThreshold
//   - degraded: exactly one component unconfigured, or error rate above
//     errorRateDegradedThreshold
//   - healthy: otherwise
func (o *Orchestrator) Health() HealthReport {
	total := atomic.LoadInt64(&o.opsTotal)
	errs := atomic.LoadInt64(&o.opsErrors)

	var errorRate float64
	if total > 0 {
		errorRate = float64(errs) / float64(total)
	}

	components := []ComponentHealth{
		{Name: "feedback", Configured: o.cfg.Feedback != nil},
		{Name: "evolution", Configured: o.cfg.Evolution != nil},
		{Name: "team", Configured: o.cfg.Team != nil},
	}
	missing := 0
	for _, c := range components {
		if !c.Configured {
			missing++
		}
	}

	sampled := total >= minSampleSize
	status := "healthy"
	switch {
	case missing >= 2 || (sampled && errorRate > errorRateCriticalThreshold):
		status = "critical"
	case missing == 1 || (sampled && errorRate > errorRateDegradedThreshold):
		status = "degraded"
	}

	return HealthReport{
		Status:     status,
		ErrorRate:  errorRate,
		OpsTotal:   total,
		Components: components,
	}
}
