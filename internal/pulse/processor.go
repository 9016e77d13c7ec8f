package pulse

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// State is the batch trigger state of a Processor.
type State int

const (
	// StateAccumulating waits for BatchSize new samples.
	StateAccumulating State = iota
	// StateProcessing runs the pipeline over the window. It only lasts
	// for the duration of the Push call that completed the batch.
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateProcessing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// BatchResult describes one pipeline run.
type BatchResult struct {
	Seq     uint64
	Samples int       // window length the batch ran over
	Last    RawSample // sample that completed the batch
	Time    time.Time

	Filter FilterOutcome
	// Skipped is set when the filter changed the batch length. Peak
	// detection and the rate update did not run.
	Skipped bool
	Peaks   PeakResult
	Rate    RateResult

	// BPM is the smoothed estimate after this batch.
	BPM int
}

// Updated reports whether the batch changed the reported estimate.
func (r BatchResult) Updated() bool {
	return !r.Skipped && r.Rate.Outcome == RateAccepted
}

// Trace is a copy of the data behind the most recent batch, for observers.
type Trace struct {
	Seq        uint64
	Time       time.Time
	Raw        []RawSample
	Baseline   []float64 // baseline removed
	Filtered   []float64
	Peaks      []int
	Height     float64
	Prominence float64
	BPM        int
}

// Processor owns the sample window and the reported rate. Push must only be
// called from one goroutine; Rate, State and Trace may be called from any.
type Processor struct {
	settings Settings
	filter   *Bandpass
	clock    timeutil.Clock
	// applyFilter is filter.Apply; tests swap it to break the length
	// invariant.
	applyFilter func([]float64) FilterResult

	// worker-owned
	window  *Window
	pending int
	seq     uint64

	state atomic.Int32
	rate  atomic.Int64

	mu    sync.RWMutex
	trace Trace
}

// NewProcessor validates the settings and designs the filter.
func NewProcessor(s Settings, clock timeutil.Clock) (*Processor, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	p := &Processor{
		settings: s,
		filter:   NewBandpass(s),
		clock:    clock,
		window:   NewWindow(s.WindowSize),
	}
	p.applyFilter = p.filter.Apply
	return p, nil
}

// Rate returns the current smoothed estimate, 0 until the first accepted
// batch.
func (p *Processor) Rate() int { return int(p.rate.Load()) }

// State returns the batch trigger state.
func (p *Processor) State() State { return State(p.state.Load()) }

// Trace returns a copy of the most recent batch data.
func (p *Processor) Trace() Trace {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t := p.trace
	t.Raw = slices.Clone(t.Raw)
	t.Baseline = slices.Clone(t.Baseline)
	t.Filtered = slices.Clone(t.Filtered)
	t.Peaks = slices.Clone(t.Peaks)
	return t
}

// Push appends a validated sample. When it completes a batch the pipeline
// runs before Push returns and the result is reported with ok set.
// Out-of-range samples are dropped without touching the window or the batch
// counter.
func (p *Processor) Push(s RawSample) (res BatchResult, ok bool) {
	if !s.Valid() {
		return BatchResult{}, false
	}
	p.window.Push(s)
	p.pending++

	if p.pending < p.settings.BatchSize || p.window.Len() < p.settings.BatchSize {
		return BatchResult{}, false
	}

	p.state.Store(int32(StateProcessing))
	defer func() {
		p.pending = 0
		p.state.Store(int32(StateAccumulating))
	}()
	return p.process(s), true
}

func (p *Processor) process(last RawSample) BatchResult {
	p.seq++
	raw := p.window.Snapshot()
	res := BatchResult{
		Seq:     p.seq,
		Samples: len(raw),
		Last:    last,
		Time:    p.clock.Now(),
		BPM:     p.Rate(),
	}

	detrended := RemoveBaseline(Float64s(raw), p.settings.BaselineWidth, p.settings.BaselineMinLength)
	filtered := p.applyFilter(detrended)
	res.Filter = filtered.Outcome

	if len(filtered.Signal) != len(detrended) {
		res.Skipped = true
		return res
	}

	res.Peaks = DetectPeaks(filtered.Signal, p.settings.peakConfig())
	res.Rate = EstimateRate(res.Peaks.Peaks, p.settings.rateConfig())
	if res.Rate.Outcome == RateAccepted {
		res.BPM = Smooth(res.BPM, res.Rate.BPM, p.settings.SmoothingWeight)
		p.rate.Store(int64(res.BPM))
	}

	p.mu.Lock()
	p.trace = Trace{
		Seq:        res.Seq,
		Time:       res.Time,
		Raw:        raw,
		Baseline:   detrended,
		Filtered:   filtered.Signal,
		Peaks:      res.Peaks.Peaks,
		Height:     res.Peaks.Height,
		Prominence: res.Peaks.Prominence,
		BPM:        res.BPM,
	}
	p.mu.Unlock()
	return res
}
