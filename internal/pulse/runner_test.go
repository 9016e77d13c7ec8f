package pulse

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSink) SendCommand(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	return s.err
}

type countingObserver struct {
	accepted, rejected int
	batches            []BatchResult
}

func (o *countingObserver) ObserveSample(ok bool) {
	if ok {
		o.accepted++
	} else {
		o.rejected++
	}
}

func (o *countingObserver) ObserveBatch(res BatchResult) { o.batches = append(o.batches, res) }

// scriptedSource replays a fixed list of results, then reports closed.
type scriptedSource struct {
	steps []func() (RawSample, error)
}

func (s *scriptedSource) Next() (RawSample, error) {
	if len(s.steps) == 0 {
		return 0, ErrSourceClosed
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step()
}

func closedLines(lines ...string) <-chan string {
	ch := make(chan string, len(lines))
	for _, l := range lines {
		ch <- l
	}
	close(ch)
	return ch
}

func muteLogs(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

func newTestRunner(t *testing.T, src SampleSource, sink RateSink, obs ...Observer) (*Runner, *Processor, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	p, err := NewProcessor(DefaultSettings(), clock)
	require.NoError(t, err)
	r, err := NewRunner(RunnerConfig{
		Processor: p,
		Source:    src,
		Sink:      sink,
		Clock:     clock,
		Observers: obs,
	})
	require.NoError(t, err)
	return r, p, clock
}

func TestNewRunner_RequiresParts(t *testing.T) {
	_, err := NewRunner(RunnerConfig{Source: NewLineSource(nil)})
	assert.Error(t, err)

	p, perr := NewProcessor(DefaultSettings(), nil)
	require.NoError(t, perr)
	_, err = NewRunner(RunnerConfig{Processor: p})
	assert.Error(t, err)
}

func TestRunner_SendsRateAfterEveryBatch(t *testing.T) {
	muteLogs(t)
	lines := make([]string, 0, 300)
	for i := 0; i < 300; i++ {
		lines = append(lines, strconv.Itoa(int(sineSample(i, 60, 50))))
	}
	sink := &recordingSink{}
	obs := &countingObserver{}
	r, p, _ := newTestRunner(t, NewLineSource(closedLines(lines...)), sink, obs)

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, sink.sent, 6)
	require.Len(t, obs.batches, 6)
	for i, cmd := range sink.sent {
		assert.True(t, strings.HasSuffix(cmd, "\n"), "command %q not newline terminated", cmd)
		assert.Equal(t, strconv.Itoa(obs.batches[i].BPM)+"\n", cmd)
	}
	assert.Equal(t, strconv.Itoa(p.Rate())+"\n", sink.sent[len(sink.sent)-1])
	assert.Equal(t, 300, obs.accepted)
}

func TestRunner_MalformedLinesDoNotAdvanceBatch(t *testing.T) {
	muteLogs(t)
	lines := make([]string, 0, 60)
	for i := 0; i < 49; i++ {
		lines = append(lines, "512")
	}
	lines = append(lines, "abc123-", "", "2000", "-")

	obs := &countingObserver{}
	r, p, _ := newTestRunner(t, NewLineSource(closedLines(lines...)), nil, obs)
	require.NoError(t, r.Run(context.Background()))

	assert.Empty(t, obs.batches)
	assert.Equal(t, 49, p.pending)
	assert.Equal(t, 49, p.window.Len())
	assert.Equal(t, 4, obs.rejected)

	// One more valid line completes the batch.
	r2, err := NewRunner(RunnerConfig{Processor: p, Source: NewLineSource(closedLines("512")), Observers: []Observer{obs}})
	require.NoError(t, err)
	require.NoError(t, r2.Run(context.Background()))
	assert.Len(t, obs.batches, 1)
}

func TestRunner_SendFailureIsSwallowed(t *testing.T) {
	muteLogs(t)
	lines := make([]string, 150)
	for i := range lines {
		lines[i] = strconv.Itoa(int(sineSample(i, 60, 50)))
	}
	sink := &recordingSink{err: errors.New("device unplugged")}
	obs := &countingObserver{}
	r, _, _ := newTestRunner(t, NewLineSource(closedLines(lines...)), sink, obs)

	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, sink.sent, 3)
	assert.Len(t, obs.batches, 3)
}

func TestRunner_IdleAndBackoffPauses(t *testing.T) {
	muteLogs(t)
	src := &scriptedSource{steps: []func() (RawSample, error){
		func() (RawSample, error) { return 0, ErrNoSample },
		func() (RawSample, error) { return 0, errors.New("read timeout") },
		func() (RawSample, error) { return 512, nil },
		func() (RawSample, error) { return 0, ErrNoSample },
	}}
	r, p, clock := newTestRunner(t, src, nil)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []time.Duration{DefaultIdlePause, DefaultErrorBackoff, DefaultIdlePause}, clock.Sleeps())
	assert.Equal(t, 1, p.pending)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	muteLogs(t)
	lines := make(chan string) // never delivers
	r, _, _ := newTestRunner(t, NewLineSource(lines), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_StopsMidBatchWithoutProcessing(t *testing.T) {
	muteLogs(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	count := 0
	src := &scriptedSource{}
	for i := 0; i < 100; i++ {
		src.steps = append(src.steps, func() (RawSample, error) {
			count++
			if count == 30 {
				cancel()
			}
			return 512, nil
		})
	}
	obs := &countingObserver{}
	r, p, _ := newTestRunner(t, src, nil, obs)

	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
	assert.Empty(t, obs.batches)
	assert.Equal(t, 30, p.pending)
}
