package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/monitor"
	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// replayEpoch anchors batch timestamps so repeated runs are identical.
var replayEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Result summarises one pass of a capture through the estimator.
type Result struct {
	Capture   string          `json:"capture"`
	Lines     int             `json:"lines"`
	Accepted  uint64          `json:"accepted"`
	Rejected  uint64          `json:"rejected"`
	Batches   int             `json:"batches"`
	Skipped   int             `json:"skipped"`
	Updates   int             `json:"updates"`
	FinalBPM  int             `json:"final_bpm"`
	Duration  float64         `json:"duration_secs"` // capture length at the sampling rate
	Outcomes  map[string]int  `json:"outcomes"`
	Reported  []string        `json:"reported"` // exactly what the device would have received
	Entries   []monitor.Entry `json:"entries"`
	LastTrace pulse.Trace     `json:"-"`
}

// captureSink collects the rate commands instead of writing to a device.
type captureSink struct {
	sent []string
}

func (s *captureSink) SendCommand(cmd string) error {
	s.sent = append(s.sent, cmd)
	return nil
}

// sampleClock steps the mock clock one sample period per accepted sample,
// so batch timestamps follow capture time rather than wall time.
type sampleClock struct {
	clock  *timeutil.MockClock
	period time.Duration
}

func (c sampleClock) ObserveSample(accepted bool) {
	if accepted {
		c.clock.Advance(c.period)
	}
}

func (c sampleClock) ObserveBatch(pulse.BatchResult) {}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		lines = append(lines, scan.Text())
	}
	return lines, scan.Err()
}

// replay runs every line of r through a fresh Processor built from tuning.
func replay(name string, r io.Reader, tuning *config.TuningConfig) (*Result, error) {
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}

	settings := tuning.Settings()
	clock := timeutil.NewMockClock(replayEpoch)
	proc, err := pulse.NewProcessor(settings, clock)
	if err != nil {
		return nil, err
	}

	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)

	history := monitor.NewHistory(len(lines)/settings.BatchSize + 1)
	sink := &captureSink{}
	runner, err := pulse.NewRunner(pulse.RunnerConfig{
		Processor: proc,
		Source:    pulse.NewLineSource(ch),
		Sink:      sink,
		Clock:     clock,
		Observers: []pulse.Observer{
			sampleClock{clock: clock, period: time.Duration(float64(time.Second) / settings.SamplingRate)},
			history,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := runner.Run(context.Background()); err != nil {
		return nil, err
	}

	res := &Result{
		Capture:   name,
		Lines:     len(lines),
		FinalBPM:  proc.Rate(),
		Outcomes:  make(map[string]int),
		Reported:  sink.sent,
		Entries:   history.Entries(),
		LastTrace: proc.Trace(),
	}
	res.Accepted, res.Rejected = history.Samples()
	res.Duration = float64(res.Accepted) / settings.SamplingRate
	res.Batches = len(res.Entries)
	for _, e := range res.Entries {
		if e.Skipped {
			res.Skipped++
			res.Outcomes["skipped"]++
			continue
		}
		if e.Updated {
			res.Updates++
		}
		res.Outcomes["filter:"+e.Filter]++
		res.Outcomes["peaks:"+e.Detection]++
		res.Outcomes["rate:"+e.Rate]++
	}
	return res, nil
}

func replayFile(path string, tuning *config.TuningConfig) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return replay(path, f, tuning)
}

func printResults(w io.Writer, result *Result, verbose bool) {
	fmt.Fprintln(w, "\n=== Replay Results ===")
	fmt.Fprintf(w, "Capture: %s\n", result.Capture)
	fmt.Fprintf(w, "Lines: %d (%d accepted, %d rejected)\n", result.Lines, result.Accepted, result.Rejected)
	fmt.Fprintf(w, "Duration: %.1fs\n", result.Duration)
	fmt.Fprintf(w, "Batches: %d (%d updated the estimate, %d skipped)\n", result.Batches, result.Updates, result.Skipped)
	fmt.Fprintf(w, "Final BPM: %d\n", result.FinalBPM)

	fmt.Fprintln(w, "\n--- Outcomes ---")
	keys := make([]string, 0, len(result.Outcomes))
	for k := range result.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-32s %d\n", k, result.Outcomes[k])
	}

	if !verbose {
		return
	}
	fmt.Fprintln(w, "\n--- Batches ---")
	for _, e := range result.Entries {
		if e.Skipped {
			fmt.Fprintf(w, "%4d  %3d bpm  skipped\n", e.Seq, e.BPM)
			continue
		}
		fmt.Fprintf(w, "%4d  %3d bpm  candidate %3d  peaks %d  %s/%s/%s\n",
			e.Seq, e.BPM, e.Candidate, e.Peaks, e.Filter, e.Detection, e.Rate)
	}
}
