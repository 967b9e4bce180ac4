package evolution

import "codeintel/internal/protocol"

// TrendDirection classifies the sign of a fitted linear trend.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDeclining TrendDirection = "declining"
	TrendStable    TrendDirection = "stable"
)

// Trend is the result of fitting a line to a (time, value) series: slope
// expressed as change-per-day, direction classified with a midpoint
// tolerance band, and strength reported as the fit's R^2.
type Trend struct {
	Metric     string         `json:"metric"`
	Direction  TrendDirection `json:"direction"`
	SlopePerDay float64       `json:"slope_per_day"`
	Strength   float64        `json:"strength"`
	Start      float64        `json:"start"`
	End        float64        `json:"end"`
}

// point is one (x, y) sample fed to fitLinear, x measured in days since the
// first sample.
type point struct {
	x, y float64
}

// fitLinear computes a closed-form ordinary-least-squares line y = a + b*x
// and its R^2 goodness of fit. Returns the zero Trend fields if fewer than
// two points are given (a line is undefined).
func fitLinear(pts []point) (intercept, slope, rSquared float64, ok bool) {
	n := float64(len(pts))
	if n < 2 {
		return 0, 0, 0, false
	}

	var sumX, sumY, sumXY, sumXX float64
	for _, p := range pts {
		sumX += p.x
		sumY += p.y
		sumXY += p.x * p.y
		sumXX += p.x * p.x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return sumY / n, 0, 0, true
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for _, p := range pts {
		predicted := intercept + slope*p.x
		ssRes += (p.y - predicted) * (p.y - predicted)
		ssTot += (p.y - meanY) * (p.y - meanY)
	}
	if ssTot == 0 {
		rSquared = 1
	} else {
		rSquared = 1 - ssRes/ssTot
	}
	return intercept, slope, rSquared, true
}

// classifyDirection reports improving/declining/stable from a slope, using
// a +-5% of the series midpoint tolerance band so noise-level slopes read
// as stable rather than flipping direction on rounding.
func classifyDirection(slope, midpoint float64, higherIsBetter bool) TrendDirection {
	tolerance := 0.05 * absFloat(midpoint)
	if tolerance == 0 {
		tolerance = 0.01
	}
	switch {
	case slope > tolerance:
		if higherIsBetter {
			return TrendImproving
		}
		return TrendDeclining
	case slope < -tolerance:
		if higherIsBetter {
			return TrendDeclining
		}
		return TrendImproving
	default:
		return TrendStable
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// ComputeTrend fits a line through a named metric series and classifies its
// direction. higherIsBetter controls whether a positive slope reads as
// improving (e.g. test coverage) or declining (e.g. complexity, debt hours).
func ComputeTrend(metric string, samples []protocol.QualityMetrics, extract func(protocol.QualityMetrics) float64, higherIsBetter bool) (Trend, bool) {
	if len(samples) < 2 {
		return Trend{}, false
	}
	origin := samples[0].Timestamp
	pts := make([]point, len(samples))
	for i, s := range samples {
		pts[i] = point{x: s.Timestamp.Sub(origin).Hours() / 24, y: extract(s)}
	}

	_, slope, rSquared, ok := fitLinear(pts)
	if !ok {
		return Trend{}, false
	}

	start := extract(samples[0])
	end := extract(samples[len(samples)-1])
	midpoint := (start + end) / 2

	return Trend{
		Metric:      metric,
		Direction:   classifyDirection(slope, midpoint, higherIsBetter),
		SlopePerDay: slope,
		Strength:    rSquared,
		Start:       start,
		End:         end,
	}, true
}
