package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())

	bad := Weights{LocationRisk: 0.5, Weather: 0.5, GroupSize: 0.5}
	assert.Error(t, bad.Validate())
}

func TestNewScorerRejectsBadConfig(t *testing.T) {
	_, err := NewScorer(Weights{LocationRisk: 1.0}, 0)
	assert.Error(t, err)

	_, err = NewScorer(Weights{LocationRisk: 0.9}, 10)
	assert.Error(t, err)
}

func TestUpdateMovesTowardTargetBoundedStep(t *testing.T) {
	s, err := NewScorer(DefaultWeights(), 10)
	require.NoError(t, err)

	// Tourist enters a level-5 zone at night: target drops well below 100.
	sig := Signals{ZoneRisk: 5, Hour: 23, GroupSize: 1}
	target := s.Target(sig)
	require.Less(t, target, 60)

	got := s.Update(100, sig)
	assert.Equal(t, 90, got, "one update moves at most maxStep")

	// Repeated updates converge to the target and stay there.
	score := 100
	for i := 0; i < 20; i++ {
		score = s.Update(score, sig)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
	}
	assert.Equal(t, target, score)
}

func TestUpdateStaysInBounds(t *testing.T) {
	s, err := NewScorer(DefaultWeights(), 10)
	require.NoError(t, err)

	calm := Signals{}
	danger := Signals{ZoneRisk: 5, WeatherSeverity: 5, Hour: 2, RouteDeviationM: 5000, GroupSize: 1}

	score := 50
	for i := 0; i < 30; i++ {
		score = s.Update(score, danger)
		require.GreaterOrEqual(t, score, 0)
		require.LessOrEqual(t, score, 100)
	}
	assert.Equal(t, 0, score, "all-signal worst case target is 0")

	for i := 0; i < 30; i++ {
		score = s.Update(score, calm)
		require.GreaterOrEqual(t, score, 0)
		require.LessOrEqual(t, score, 100)
	}
	assert.Equal(t, s.Target(calm), score)
}

func TestUpdateClampsOutOfBoundsInput(t *testing.T) {
	s, err := NewScorer(DefaultWeights(), 10)
	require.NoError(t, err)

	assert.LessOrEqual(t, s.Update(250, Signals{}), 100)
	assert.GreaterOrEqual(t, s.Update(-40, Signals{ZoneRisk: 5}), 0)
}

func TestCalmSignalsTargetHigh(t *testing.T) {
	s, err := NewScorer(DefaultWeights(), 10)
	require.NoError(t, err)

	// Daytime, no zone, group of 4: only the unknown-weather penalty is 0.
	target := s.Target(Signals{Hour: 12, GroupSize: 4})
	assert.Equal(t, 100, target)
}
