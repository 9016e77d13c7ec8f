package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/pulse.report/internal/pulse"
)

// DefaultHistorySize keeps about ten minutes of batches at 50 Hz / B=50.
const DefaultHistorySize = 600

// Entry is the summary of one processed batch.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	BPM       int       `json:"bpm"`
	Candidate int       `json:"candidate"`
	Peaks     int       `json:"peaks"`
	Filter    string    `json:"filter"`
	Detection string    `json:"detection"`
	Rate      string    `json:"rate"`
	Skipped   bool      `json:"skipped,omitempty"`
	Updated   bool      `json:"updated"`
}

func newEntry(res pulse.BatchResult) Entry {
	e := Entry{
		Seq:       res.Seq,
		Time:      res.Time,
		BPM:       res.BPM,
		Candidate: res.Rate.BPM,
		Peaks:     len(res.Peaks.Peaks),
		Filter:    res.Filter.String(),
		Skipped:   res.Skipped,
		Updated:   res.Updated(),
	}
	if !res.Skipped {
		e.Detection = res.Peaks.Outcome.String()
		e.Rate = res.Rate.Outcome.String()
	}
	return e
}

// History is a bounded ring of batch summaries. It implements pulse.Observer
// and is safe to read while the worker writes to it.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool

	lastUpdate time.Time

	accepted atomic.Uint64
	rejected atomic.Uint64
}

// NewHistory returns a History holding up to size entries.
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]Entry, size)}
}

// ObserveSample implements pulse.Observer.
func (h *History) ObserveSample(accepted bool) {
	if accepted {
		h.accepted.Add(1)
	} else {
		h.rejected.Add(1)
	}
}

// ObserveBatch implements pulse.Observer.
func (h *History) ObserveBatch(res pulse.BatchResult) {
	e := newEntry(res)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	if e.Updated {
		h.lastUpdate = e.Time
	}
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Entries returns the stored entries, oldest first.
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		return append([]Entry(nil), h.entries[:h.next]...)
	}
	out := make([]Entry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}

// Last returns the most recent entry.
func (h *History) Last() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full && h.next == 0 {
		return Entry{}, false
	}
	i := (h.next - 1 + len(h.entries)) % len(h.entries)
	return h.entries[i], true
}

// LastUpdate returns when a batch last changed the estimate, or the zero
// time if none has.
func (h *History) LastUpdate() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastUpdate
}

// Samples returns the accepted and rejected sample counts.
func (h *History) Samples() (accepted, rejected uint64) {
	return h.accepted.Load(), h.rejected.Load()
}
