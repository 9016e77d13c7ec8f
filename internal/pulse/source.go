package pulse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNoSample means the source has nothing to deliver right now.
	ErrNoSample = errors.New("no sample available")
	// ErrMalformedSample means a line arrived but did not hold a valid
	// sample. It is discarded.
	ErrMalformedSample = errors.New("malformed sample")
	// ErrSourceClosed means the source will not deliver any more samples.
	ErrSourceClosed = errors.New("sample source closed")
)

// SampleSource delivers decoded samples one at a time. Next must not block
// for long: it returns ErrNoSample when nothing is pending. Any error other
// than the sentinels above is treated as a transport failure.
type SampleSource interface {
	Next() (RawSample, error)
}

// RateSink receives the reported rate after every processed batch.
type RateSink interface {
	SendCommand(command string) error
}

// ParseSample decodes one device line. Everything except ASCII digits and
// '-' is stripped before parsing, so "12a3" reads as 123 while "abc123-"
// fails. Values outside the ADC range are rejected.
func ParseSample(line string) (RawSample, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, strings.TrimSpace(line))

	if cleaned == "" || cleaned == "-" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedSample, line)
	}
	v, err := strconv.Atoi(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedSample, line)
	}
	s := RawSample(v)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d outside [%d, %d]", ErrMalformedSample, v, MinRawSample, MaxRawSample)
	}
	return s, nil
}

// LineSource decodes samples from a channel of device lines, such as a
// serialmux subscription.
type LineSource struct {
	lines <-chan string
}

// NewLineSource wraps lines. The source reports ErrSourceClosed once lines
// is closed and drained.
func NewLineSource(lines <-chan string) *LineSource {
	return &LineSource{lines: lines}
}

// Next takes one pending line without blocking.
func (s *LineSource) Next() (RawSample, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return 0, ErrSourceClosed
		}
		return ParseSample(line)
	default:
		return 0, ErrNoSample
	}
}
