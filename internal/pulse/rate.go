package pulse

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// RateConfig holds the plausibility bounds for a rate candidate.
type RateConfig struct {
	SamplingRate float64
	MinInterval  float64 // seconds, exclusive
	MaxInterval  float64 // seconds, exclusive
	MinBPM       float64 // inclusive
	MaxBPM       float64 // inclusive
}

// RateOutcome says whether a batch produced a usable rate candidate.
type RateOutcome int

const (
	RateAccepted RateOutcome = iota
	RateTooFewPeaks
	RateNoPlausibleInterval
	RateOutOfRange
)

func (o RateOutcome) String() string {
	switch o {
	case RateAccepted:
		return "accepted"
	case RateTooFewPeaks:
		return "too-few-peaks"
	case RateNoPlausibleInterval:
		return "no-plausible-interval"
	case RateOutOfRange:
		return "out-of-range"
	default:
		return fmt.Sprintf("RateOutcome(%d)", int(o))
	}
}

// RateResult is a per-batch rate candidate. BPM is zero unless Outcome is
// RateAccepted.
type RateResult struct {
	Outcome   RateOutcome
	BPM       int
	Intervals []float64 // retained beat intervals, seconds
}

// EstimateRate converts ascending peak indices into beats per minute using
// the mean of the plausible peak-to-peak intervals.
func EstimateRate(peaks []int, cfg RateConfig) RateResult {
	if len(peaks) < 2 || !(cfg.SamplingRate > 0) {
		return RateResult{Outcome: RateTooFewPeaks}
	}

	var intervals []float64
	for i := 1; i < len(peaks); i++ {
		iv := float64(peaks[i]-peaks[i-1]) / cfg.SamplingRate
		if iv > cfg.MinInterval && iv < cfg.MaxInterval {
			intervals = append(intervals, iv)
		}
	}
	if len(intervals) == 0 {
		return RateResult{Outcome: RateNoPlausibleInterval}
	}

	bpm := 60 / stat.Mean(intervals, nil)
	if bpm < cfg.MinBPM || bpm > cfg.MaxBPM {
		return RateResult{Outcome: RateOutOfRange, Intervals: intervals}
	}
	return RateResult{Outcome: RateAccepted, BPM: int(bpm), Intervals: intervals}
}

// Smooth blends a new candidate into the previous estimate, keeping weight
// of the previous value. A zero previous estimate adopts the candidate and a
// zero candidate leaves the estimate unchanged.
func Smooth(previous, candidate int, weight float64) int {
	switch {
	case candidate <= 0:
		return previous
	case previous == 0:
		return candidate
	default:
		return int(weight*float64(previous) + (1-weight)*float64(candidate))
	}
}
