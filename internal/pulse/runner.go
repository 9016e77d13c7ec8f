package pulse

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// Default pauses for the worker loop.
const (
	DefaultIdlePause    = 5 * time.Millisecond
	DefaultErrorBackoff = 100 * time.Millisecond
)

// Observer is notified from the worker goroutine. Implementations must not
// block.
type Observer interface {
	ObserveSample(accepted bool)
	ObserveBatch(BatchResult)
}

// RunnerConfig wires a Runner. Source and Processor are required.
type RunnerConfig struct {
	Processor    *Processor
	Source       SampleSource
	Sink         RateSink // optional
	Clock        timeutil.Clock
	IdlePause    time.Duration
	ErrorBackoff time.Duration
	Observers    []Observer
}

// Runner is the single worker that moves samples from a source into a
// Processor and reports the rate back to the device.
type Runner struct {
	cfg RunnerConfig
}

// NewRunner fills in defaults for the unset fields of cfg.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Processor == nil {
		return nil, errors.New("runner requires a processor")
	}
	if cfg.Source == nil {
		return nil, errors.New("runner requires a sample source")
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.IdlePause <= 0 {
		cfg.IdlePause = DefaultIdlePause
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	return &Runner{cfg: cfg}, nil
}

// Run loops until ctx is done or the source closes. Malformed samples,
// degenerate batches and transport errors never end the loop. Run returns
// ctx.Err() on cancellation and nil when the source closes.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := r.Step(); err != nil {
			switch {
			case errors.Is(err, ErrNoSample):
				r.cfg.Clock.Sleep(r.cfg.IdlePause)
			case errors.Is(err, ErrSourceClosed):
				monitoring.Logf("sample source closed, stopping worker")
				return nil
			default:
				monitoring.Logf("error reading sample: %v", err)
				r.cfg.Clock.Sleep(r.cfg.ErrorBackoff)
			}
		}
	}
}

// Step reads at most one sample and pushes it. Malformed samples are
// counted and swallowed; ErrNoSample, ErrSourceClosed and transport errors
// are returned for Run to act on.
func (r *Runner) Step() error {
	s, err := r.cfg.Source.Next()
	switch {
	case errors.Is(err, ErrMalformedSample):
		monitoring.Debugf("discarding sample: %v", err)
		r.observeSample(false)
		return nil
	case err != nil:
		return err
	}

	res, ok := r.cfg.Processor.Push(s)
	r.observeSample(s.Valid())
	if !ok {
		return nil
	}

	if !res.Skipped {
		r.report(res)
	} else {
		monitoring.Logf("batch %d skipped: filter changed length", res.Seq)
	}
	for _, o := range r.cfg.Observers {
		o.ObserveBatch(res)
	}
	return nil
}

// report sends the estimate to the device. Send failures are logged only.
func (r *Runner) report(res BatchResult) {
	monitoring.Logf("batch %4d | raw %4d | bpm %3d | peaks %d | %s/%s/%s",
		res.Seq, res.Last, res.BPM, len(res.Peaks.Peaks), res.Filter, res.Peaks.Outcome, res.Rate.Outcome)
	if r.cfg.Sink == nil {
		return
	}
	if err := r.cfg.Sink.SendCommand(strconv.Itoa(res.BPM) + "\n"); err != nil {
		monitoring.Logf("failed to send rate to device: %v", err)
	}
}

func (r *Runner) observeSample(accepted bool) {
	for _, o := range r.cfg.Observers {
		o.ObserveSample(accepted)
	}
}
