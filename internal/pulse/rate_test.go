package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateRate(t *testing.T) {
	cfg := DefaultSettings().rateConfig()

	tests := []struct {
		name    string
		peaks   []int
		outcome RateOutcome
		bpm     int
	}{
		{"no peaks", nil, RateTooFewPeaks, 0},
		{"single peak", []int{40}, RateTooFewPeaks, 0},
		{"60 bpm", []int{10, 60, 110, 160}, RateAccepted, 60},
		{"truncates", []int{0, 41}, RateAccepted, 73},
		{"too fast interval dropped", []int{0, 10, 60}, RateAccepted, 60},
		{"200 bpm", []int{10, 25}, RateNoPlausibleInterval, 0},
		{"interval at lower bound excluded", []int{0, 20}, RateNoPlausibleInterval, 0},
		{"interval at upper bound excluded", []int{0, 100}, RateNoPlausibleInterval, 0},
		{"below 40 bpm", []int{0, 95}, RateOutOfRange, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := EstimateRate(tc.peaks, cfg)
			assert.Equal(t, tc.outcome, res.Outcome)
			assert.Equal(t, tc.bpm, res.BPM)
		})
	}
}

func TestSmooth(t *testing.T) {
	assert.Equal(t, 72, Smooth(0, 72, 0.8), "first candidate is adopted")
	assert.Equal(t, 60, Smooth(60, 0, 0.8), "zero candidate keeps estimate")
	assert.Equal(t, 62, Smooth(60, 70, 0.8))
	assert.Equal(t, 88, Smooth(100, 40, 0.8))
	assert.Equal(t, 60, Smooth(60, 60, 0.8))
}

func TestSmooth_StaysInRange(t *testing.T) {
	cfg := DefaultSettings()
	for prev := 40; prev <= 180; prev++ {
		for cand := 40; cand <= 180; cand += 7 {
			got := Smooth(prev, cand, cfg.SmoothingWeight)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 180)

			// One step moves at most a fifth of the gap, plus truncation.
			bound := abs(cand-prev)/5 + 1
			assert.LessOrEqual(t, abs(got-prev), bound, "prev %d cand %d", prev, cand)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
