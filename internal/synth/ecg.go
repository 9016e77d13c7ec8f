// Package synth generates a synthetic ECG trace shaped like the output of the
// pulse sensor boards, for running without hardware.
package synth

import (
	"math"
	"strconv"
	"sync"

	"github.com/banshee-data/pulse.report/internal/pulse"
)

// wave is one Gaussian component of a heartbeat, positioned in beat phase
// [0,1).
type wave struct {
	amp, centre, width float64
}

// P, Q, R, S and T waves.
var beat = []wave{
	{0.08, 0.18, 0.03},
	{-0.12, 0.30, 0.01},
	{1.00, 0.32, 0.015},
	{-0.25, 0.35, 0.012},
	{0.25, 0.60, 0.06},
}

// Config describes the generated signal.
type Config struct {
	SamplingRate float64 // Hz
	BPM          float64
	Noise        float64 // amplitude in normalised units, 0 for a clean trace
	Offset       float64 // ADC counts at the isoelectric line
	Gain         float64 // ADC counts per normalised unit
}

// DefaultConfig returns a 72 BPM trace at 50 Hz, centred in the ADC range.
func DefaultConfig() Config {
	return Config{SamplingRate: 50, BPM: 72, Offset: 400, Gain: 450}
}

// ECG is a stateful waveform generator. It is safe for concurrent use.
type ECG struct {
	mu    sync.Mutex
	cfg   Config
	phase float64
	n     int
}

// New returns a generator for cfg. Zero fields fall back to DefaultConfig.
func New(cfg Config) *ECG {
	def := DefaultConfig()
	if cfg.SamplingRate <= 0 {
		cfg.SamplingRate = def.SamplingRate
	}
	if cfg.BPM <= 0 {
		cfg.BPM = def.BPM
	}
	if cfg.Gain == 0 {
		cfg.Gain = def.Gain
	}
	if cfg.Offset == 0 {
		cfg.Offset = def.Offset
	}
	return &ECG{cfg: cfg}
}

// SetBPM changes the rate from the next sample on. Non-positive values are
// ignored.
func (e *ECG) SetBPM(bpm float64) {
	if bpm <= 0 {
		return
	}
	e.mu.Lock()
	e.cfg.BPM = bpm
	e.mu.Unlock()
}

// BPM returns the current generated rate.
func (e *ECG) BPM() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.BPM
}

// Next advances one sample period and returns the ADC reading.
func (e *ECG) Next() pulse.RawSample {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.phase += e.cfg.BPM / 60 / e.cfg.SamplingRate
	if e.phase >= 1 {
		e.phase -= math.Floor(e.phase)
	}
	e.n++

	v := 0.05 * math.Sin(2*math.Pi*0.33*e.phase) // respiration wander
	for _, w := range beat {
		d := (e.phase - w.centre) / w.width
		v += w.amp * math.Exp(-0.5*d*d)
	}
	// deterministic hash noise keeps runs reproducible
	v += e.cfg.Noise * math.Sin(float64(e.n)*12.9898)

	r := math.Round(e.cfg.Offset + e.cfg.Gain*v)
	return pulse.RawSample(math.Max(pulse.MinRawSample, math.Min(pulse.MaxRawSample, r)))
}

// Line returns the next sample formatted the way the device prints it.
func (e *ECG) Line() string {
	return strconv.Itoa(int(e.Next()))
}

// Samples returns the next n samples.
func (e *ECG) Samples(n int) []pulse.RawSample {
	out := make([]pulse.RawSample, n)
	for i := range out {
		out[i] = e.Next()
	}
	return out
}
