// Package pulse turns a stream of raw heartbeat waveform samples into a
// smoothed heart rate estimate.
//
// Samples are appended to a bounded window. Every BatchSize new samples the
// whole window is detrended, bandpass filtered, searched for beats, and the
// beat spacing is converted into beats per minute. The per-batch candidate is
// blended into the reported rate with exponential smoothing.
package pulse

import (
	"errors"
	"fmt"
	"math"
)

// Input range of the device ADC.
const (
	MinRawSample = 0
	MaxRawSample = 1023
)

// RawSample is one ADC reading in [MinRawSample, MaxRawSample].
type RawSample int

// Valid reports whether the sample is inside the ADC range.
func (s RawSample) Valid() bool {
	return s >= MinRawSample && s <= MaxRawSample
}

// Settings holds the pipeline parameters. It is copied into a Processor at
// construction and never changes afterwards.
type Settings struct {
	SamplingRate float64 // Hz
	LowCut       float64 // Hz
	HighCut      float64 // Hz
	FilterOrder  int

	WindowSize int
	BatchSize  int

	BaselineWidth     int
	BaselineMinLength int

	MinPeakSignal     int
	FlatnessThreshold float64
	HeightFactor      float64 // multiples of σ above the mean
	ProminenceFactor  float64 // multiples of σ
	MinPeakSpacing    float64 // seconds

	MinInterval float64 // seconds, exclusive
	MaxInterval float64 // seconds, exclusive
	MinBPM      float64
	MaxBPM      float64

	// SmoothingWeight is the share kept from the previous estimate.
	SmoothingWeight float64
}

// DefaultSettings returns the parameters used with the ESP32 pulse sensor
// firmware (50 Hz, 0..1023 scaled output).
func DefaultSettings() Settings {
	return Settings{
		SamplingRate: 50,
		LowCut:       0.5,
		HighCut:      15,
		FilterOrder:  2,

		WindowSize: 200,
		BatchSize:  50,

		BaselineWidth:     25,
		BaselineMinLength: 10,

		MinPeakSignal:     20,
		FlatnessThreshold: 5,
		HeightFactor:      0.8,
		ProminenceFactor:  0.5,
		MinPeakSpacing:    0.6,

		MinInterval: 0.4,
		MaxInterval: 2.0,
		MinBPM:      40,
		MaxBPM:      180,

		SmoothingWeight: 0.8,
	}
}

// ErrInvalidSettings is wrapped by every Validate failure.
var ErrInvalidSettings = errors.New("invalid pulse settings")

// Validate checks the settings for values the pipeline cannot work with.
func (s Settings) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
	}

	if !(s.SamplingRate > 0) || math.IsInf(s.SamplingRate, 0) {
		return bad("sampling rate must be positive, got %v", s.SamplingRate)
	}
	if !(s.LowCut > 0) || !(s.HighCut > s.LowCut) {
		return bad("pass band must satisfy 0 < low < high, got [%v, %v]", s.LowCut, s.HighCut)
	}
	if s.FilterOrder < 1 {
		return bad("filter order must be at least 1, got %d", s.FilterOrder)
	}
	if s.WindowSize < 1 {
		return bad("window size must be positive, got %d", s.WindowSize)
	}
	if s.BatchSize < 1 || s.BatchSize > s.WindowSize {
		return bad("batch size must be in [1, %d], got %d", s.WindowSize, s.BatchSize)
	}
	if s.BaselineWidth < 1 || s.BaselineMinLength < 0 {
		return bad("baseline width %d / min length %d out of range", s.BaselineWidth, s.BaselineMinLength)
	}
	if s.MinPeakSignal < 3 {
		return bad("min peak signal length must be at least 3, got %d", s.MinPeakSignal)
	}
	if s.FlatnessThreshold < 0 || s.HeightFactor < 0 || s.ProminenceFactor < 0 || s.MinPeakSpacing < 0 {
		return bad("peak thresholds must be non-negative")
	}
	if !(s.MinInterval >= 0) || !(s.MaxInterval > s.MinInterval) {
		return bad("interval bounds must satisfy 0 <= min < max, got (%v, %v)", s.MinInterval, s.MaxInterval)
	}
	if !(s.MinBPM >= 0) || !(s.MaxBPM >= s.MinBPM) {
		return bad("bpm bounds must satisfy 0 <= min <= max, got [%v, %v]", s.MinBPM, s.MaxBPM)
	}
	if s.SmoothingWeight < 0 || s.SmoothingWeight >= 1 {
		return bad("smoothing weight must be in [0, 1), got %v", s.SmoothingWeight)
	}
	return nil
}

// minPeakDistance is the peak spacing in samples, rounded up so no two peaks
// are ever closer than MinPeakSpacing seconds.
func (s Settings) minPeakDistance() int {
	d := int(math.Ceil(s.SamplingRate * s.MinPeakSpacing))
	if d < 1 {
		return 1
	}
	return d
}

func (s Settings) peakConfig() PeakConfig {
	return PeakConfig{
		MinLength:         s.MinPeakSignal,
		FlatnessThreshold: s.FlatnessThreshold,
		HeightFactor:      s.HeightFactor,
		ProminenceFactor:  s.ProminenceFactor,
		MinDistance:       s.minPeakDistance(),
	}
}

func (s Settings) rateConfig() RateConfig {
	return RateConfig{
		SamplingRate: s.SamplingRate,
		MinInterval:  s.MinInterval,
		MaxInterval:  s.MaxInterval,
		MinBPM:       s.MinBPM,
		MaxBPM:       s.MaxBPM,
	}
}
