package pulse

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PeakConfig bounds which local maxima count as beats.
type PeakConfig struct {
	MinLength         int     // shorter signals yield no peaks
	FlatnessThreshold float64 // σ below this yields no peaks
	HeightFactor      float64 // height >= μ + HeightFactor·σ
	ProminenceFactor  float64 // prominence >= ProminenceFactor·σ
	MinDistance       int     // samples between accepted peaks
}

// PeakOutcome says why a batch did or did not produce peaks.
type PeakOutcome int

const (
	PeaksFound PeakOutcome = iota
	PeaksTooShort
	PeaksFlat
	PeaksDegenerate
)

func (o PeakOutcome) String() string {
	switch o {
	case PeaksFound:
		return "found"
	case PeaksTooShort:
		return "too-short"
	case PeaksFlat:
		return "flat"
	case PeaksDegenerate:
		return "degenerate"
	default:
		return fmt.Sprintf("PeakOutcome(%d)", int(o))
	}
}

// PeakResult carries the accepted peak indices (ascending) and the
// thresholds they were judged against. PeaksFound may still hold zero peaks.
type PeakResult struct {
	Outcome    PeakOutcome
	Peaks      []int
	Mean       float64
	StdDev     float64
	Height     float64 // minimum accepted height
	Prominence float64 // minimum accepted prominence
}

// DetectPeaks finds beats in a filtered batch. A peak must be a local maximum
// at least Height tall, at least MinDistance samples from every taller
// accepted peak, and at least Prominence above the higher of its two
// surrounding minima.
func DetectPeaks(signal []float64, cfg PeakConfig) PeakResult {
	if len(signal) < cfg.MinLength || len(signal) < 3 {
		return PeakResult{Outcome: PeaksTooShort}
	}

	mean, std := stat.PopMeanStdDev(signal, nil)
	res := PeakResult{Mean: mean, StdDev: std}
	if math.IsNaN(mean) || math.IsNaN(std) || math.IsInf(mean, 0) || math.IsInf(std, 0) {
		res.Outcome = PeaksDegenerate
		return res
	}
	if std < cfg.FlatnessThreshold {
		res.Outcome = PeaksFlat
		return res
	}

	res.Height = mean + cfg.HeightFactor*std
	res.Prominence = cfg.ProminenceFactor * std

	candidates := localMaxima(signal)
	tall := candidates[:0]
	for _, p := range candidates {
		if signal[p] >= res.Height {
			tall = append(tall, p)
		}
	}
	spaced := selectByDistance(signal, tall, cfg.MinDistance)

	res.Peaks = make([]int, 0, len(spaced))
	for _, p := range spaced {
		if prominence(signal, p) >= res.Prominence {
			res.Peaks = append(res.Peaks, p)
		}
	}
	return res
}

// localMaxima returns interior samples greater than both neighbours. A flat
// top counts once, at its middle (rounded down). Endpoints never qualify.
func localMaxima(x []float64) []int {
	var peaks []int
	last := len(x) - 1
	for i := 1; i < last; i++ {
		if !(x[i-1] < x[i]) {
			continue
		}
		ahead := i + 1
		for ahead < last && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			peaks = append(peaks, (i+ahead-1)/2)
			i = ahead
		}
	}
	return peaks
}

// selectByDistance keeps peaks tallest first, discarding any that sit closer
// than distance samples to an already kept peak. Ties keep the later index
// first, as a stable ascending sort visited from the end does.
func selectByDistance(x []float64, peaks []int, distance int) []int {
	if distance <= 1 || len(peaks) < 2 {
		return append([]int(nil), peaks...)
	}
	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[peaks[order[a]]] < x[peaks[order[b]]] })

	for i := len(order) - 1; i >= 0; i-- {
		j := order[i]
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// prominence walks outwards from peak until a taller sample or the signal
// edge, tracking the minimum on each side.
func prominence(x []float64, peak int) float64 {
	top := x[peak]
	leftMin := top
	for i := peak; i >= 0 && x[i] <= top; i-- {
		leftMin = math.Min(leftMin, x[i])
	}
	rightMin := top
	for i := peak; i < len(x) && x[i] <= top; i++ {
		rightMin = math.Min(rightMin, x[i])
	}
	return top - math.Max(leftMin, rightMin)
}
