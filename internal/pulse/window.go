package pulse

// Window keeps the most recent samples in arrival order. Once full, every
// Push evicts the oldest sample. A Window is not safe for concurrent use.
type Window struct {
	buf   []RawSample
	start int // index of the oldest sample
	n     int
}

// NewWindow creates a window holding at most capacity samples. A capacity
// below one is treated as one.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]RawSample, capacity)}
}

// Push appends s, dropping the oldest sample when the window is full.
func (w *Window) Push(s RawSample) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

// Snapshot returns a copy of the window contents, oldest first.
func (w *Window) Snapshot() []RawSample {
	out := make([]RawSample, w.n)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Len returns the number of samples held.
func (w *Window) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Float64s converts samples into a fresh float slice for the numeric stages.
func Float64s(samples []RawSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}
