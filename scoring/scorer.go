package scoring

import (
	"fmt"
	"math"
)

// Weights combines the risk signals into a single penalty. The values
// come from configuration and must sum to 1.0.
type Weights struct {
	LocationRisk   float64
	Weather        float64
	GroupSize      float64
	TimeOfDay      float64
	RouteDeviation float64
}

func (w Weights) Validate() error {
	sum := w.LocationRisk + w.Weather + w.GroupSize + w.TimeOfDay + w.RouteDeviation
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("risk weights sum to %g, want 1.0", sum)
	}
	return nil
}

// DefaultWeights mirror the documented design defaults.
func DefaultWeights() Weights {
	return Weights{
		LocationRisk:   0.30,
		Weather:        0.20,
		GroupSize:      0.20,
		TimeOfDay:      0.15,
		RouteDeviation: 0.15,
	}
}

// Signals are the inputs to one score update, each normalized to [0,1]
// before weighting by the helpers below.
type Signals struct {
	// ZoneRisk is the max risk level over current zone memberships,
	// 0 when the tourist is in no zone.
	ZoneRisk int
	// WeatherSeverity is an ordinal 0 (clear) to 5 (extreme).
	WeatherSeverity int
	// Hour is the local hour of the fix, 0-23.
	Hour int
	// RouteDeviationM is the distance in meters off the planned route.
	RouteDeviationM float64
	// GroupSize is the travel party size; 0 means unknown.
	GroupSize int
}

// Scorer moves a tourist's safety score toward a signal-derived target
// with a bounded step, which smooths out single noisy fixes.
type Scorer struct {
	weights Weights
	maxStep int
}

func NewScorer(weights Weights, maxStep int) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if maxStep <= 0 {
		return nil, fmt.Errorf("max score step must be positive, got %d", maxStep)
	}
	return &Scorer{weights: weights, maxStep: maxStep}, nil
}

// Update returns the new score after one bounded step from current
// toward the target implied by the signals. The result is always in
// [0,100]; out-of-bounds input is clamped, never propagated as an error.
func (s *Scorer) Update(current int, sig Signals) int {
	current = clamp(current)
	target := s.Target(sig)

	diff := target - current
	if diff > s.maxStep {
		diff = s.maxStep
	} else if diff < -s.maxStep {
		diff = -s.maxStep
	}
	return clamp(current + diff)
}

// Target computes the steady-state score for the given signals:
// 100 minus the weighted penalty scaled onto the score range.
func (s *Scorer) Target(sig Signals) int {
	penalty := s.weights.LocationRisk*zoneRiskFactor(sig.ZoneRisk) +
		s.weights.Weather*weatherFactor(sig.WeatherSeverity) +
		s.weights.GroupSize*groupSizeFactor(sig.GroupSize) +
		s.weights.TimeOfDay*timeOfDayFactor(sig.Hour) +
		s.weights.RouteDeviation*deviationFactor(sig.RouteDeviationM)
	return clamp(100 - int(math.Round(penalty*100)))
}

// MaxStep exposes the configured bound for callers reporting it.
func (s *Scorer) MaxStep() int {
	return s.maxStep
}

func zoneRiskFactor(level int) float64 {
	if level <= 0 {
		return 0
	}
	if level > 5 {
		level = 5
	}
	return float64(level) / 5
}

func weatherFactor(severity int) float64 {
	if severity <= 0 {
		return 0
	}
	if severity > 5 {
		severity = 5
	}
	return float64(severity) / 5
}

// timeOfDayFactor penalizes night hours; late night is the riskiest
// bucket for a tourist on the move.
func timeOfDayFactor(hour int) float64 {
	switch {
	case hour >= 22 || hour < 5:
		return 1.0
	case hour >= 18:
		return 0.5
	case hour < 7:
		return 0.5
	default:
		return 0
	}
}

// deviationFactor saturates at 2km off the planned route.
func deviationFactor(meters float64) float64 {
	if meters <= 0 {
		return 0
	}
	const saturation = 2000
	if meters >= saturation {
		return 1
	}
	return meters / saturation
}

// groupSizeFactor treats solo travel as the highest exposure and
// groups of 4+ as baseline.
func groupSizeFactor(size int) float64 {
	switch {
	case size <= 0:
		return 0.25 // unknown
	case size == 1:
		return 1.0
	case size == 2:
		return 0.5
	case size == 3:
		return 0.25
	default:
		return 0
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
