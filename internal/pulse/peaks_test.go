package pulse

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPeakConfig() PeakConfig {
	return DefaultSettings().peakConfig()
}

func spikes(n int, at map[int]float64) []float64 {
	x := make([]float64, n)
	for i, v := range at {
		x[i] = v
	}
	return x
}

func TestDetectPeaks_TooShort(t *testing.T) {
	res := DetectPeaks(make([]float64, 19), defaultPeakConfig())
	assert.Equal(t, PeaksTooShort, res.Outcome)
	assert.Empty(t, res.Peaks)
}

func TestDetectPeaks_FlatSignal(t *testing.T) {
	for _, level := range []float64{0, 512} {
		x := make([]float64, 60)
		for i := range x {
			x[i] = level
		}
		res := DetectPeaks(x, defaultPeakConfig())
		assert.Equal(t, PeaksFlat, res.Outcome)
		assert.Empty(t, res.Peaks)
	}
}

func TestDetectPeaks_LowAmplitudeNoiseIsFlat(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := make([]float64, 200)
	for i := range x {
		x[i] = rng.Float64()*8 - 4 // σ ≈ 2.3
	}
	res := DetectPeaks(x, defaultPeakConfig())
	assert.Equal(t, PeaksFlat, res.Outcome)
	assert.Empty(t, res.Peaks)
}

func TestDetectPeaks_EvenSpikes(t *testing.T) {
	x := spikes(200, map[int]float64{20: 100, 70: 100, 120: 100, 170: 100})
	res := DetectPeaks(x, defaultPeakConfig())
	require.Equal(t, PeaksFound, res.Outcome)
	assert.Equal(t, []int{20, 70, 120, 170}, res.Peaks)
	assert.InDelta(t, 2, res.Mean, 1e-12)
	assert.InDelta(t, 14, res.StdDev, 1e-12)
}

func TestDetectPeaks_DistanceKeepsTallest(t *testing.T) {
	x := spikes(200, map[int]float64{20: 100, 40: 80, 90: 100})
	res := DetectPeaks(x, defaultPeakConfig())
	assert.Equal(t, []int{20, 90}, res.Peaks)
}

func TestDetectPeaks_PlateauMidpoint(t *testing.T) {
	x := spikes(100, map[int]float64{50: 100, 51: 100, 52: 100})
	res := DetectPeaks(x, defaultPeakConfig())
	assert.Equal(t, []int{51}, res.Peaks)
}

func TestDetectPeaks_EndpointsAreNotPeaks(t *testing.T) {
	x := spikes(100, map[int]float64{0: 100, 99: 100, 50: 60})
	res := DetectPeaks(x, defaultPeakConfig())
	assert.Equal(t, []int{50}, res.Peaks)
}

func TestDetectPeaks_Prominence(t *testing.T) {
	// 32 is a local maximum on the shoulder of 30 but only 5 above the dip
	// between them; 0.5σ is about 8.1.
	x := spikes(100, map[int]float64{30: 100, 31: 90, 32: 95})
	cfg := defaultPeakConfig()
	cfg.MinDistance = 1

	assert.InDelta(t, 5, prominence(x, 32), 1e-12)
	assert.InDelta(t, 100, prominence(x, 30), 1e-12)

	res := DetectPeaks(x, cfg)
	assert.Equal(t, []int{30}, res.Peaks)
}

func TestDetectPeaks_HeightThreshold(t *testing.T) {
	x := spikes(200, map[int]float64{20: 100, 70: 100, 120: 8, 170: 100})
	res := DetectPeaks(x, defaultPeakConfig())
	assert.Less(t, 8.0, res.Height)
	assert.Equal(t, []int{20, 70, 170}, res.Peaks)
}

func TestDetectPeaks_NeverCloserThanMinDistance(t *testing.T) {
	cfg := defaultPeakConfig()
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		x := make([]float64, 20+rng.Intn(300))
		for i := range x {
			x[i] = rng.NormFloat64() * 50
		}
		res := DetectPeaks(x, cfg)
		for i := 1; i < len(res.Peaks); i++ {
			require.GreaterOrEqual(t, res.Peaks[i]-res.Peaks[i-1], cfg.MinDistance, "trial %d peaks %v", trial, res.Peaks)
		}
	}
}

func TestSettings_MinPeakDistanceRoundsUp(t *testing.T) {
	tests := []struct {
		fs, spacing float64
		want        int
	}{
		{50, 0.6, 30},
		{51, 0.6, 31},
		{59.9, 0.6, 36},
		{250, 0.6, 150},
		{1, 0.6, 1},
		{50, 0, 1},
	}
	for _, tt := range tests {
		s := DefaultSettings()
		s.SamplingRate, s.MinPeakSpacing = tt.fs, tt.spacing
		assert.Equal(t, tt.want, s.minPeakDistance(), "fs=%v spacing=%v", tt.fs, tt.spacing)
	}
}

func TestDetectPeaks_SpacingAtFractionalDistance(t *testing.T) {
	// 51 Hz * 0.6 s is 30.6 samples, so beats 30 samples apart are too close
	// and the first of the pair is dropped; 31 apart is allowed.
	s := DefaultSettings()
	s.SamplingRate = 51

	x := spikes(200, map[int]float64{20: 100, 50: 110, 100: 100, 150: 100})
	res := DetectPeaks(x, s.peakConfig())
	require.Equal(t, PeaksFound, res.Outcome)
	assert.Equal(t, []int{50, 100, 150}, res.Peaks)

	x = spikes(200, map[int]float64{19: 100, 50: 110, 100: 100, 150: 100})
	res = DetectPeaks(x, s.peakConfig())
	require.Equal(t, PeaksFound, res.Outcome)
	assert.Equal(t, []int{19, 50, 100, 150}, res.Peaks)
}
