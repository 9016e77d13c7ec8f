package pulse

import (
	"errors"
	"testing"
)

func TestParseSample(t *testing.T) {
	tests := []struct {
		line    string
		want    RawSample
		wantErr bool
	}{
		{"512", 512, false},
		{"  0\r\n", 0, false},
		{"1023", 1023, false},
		{"12a3", 123, false},
		{"abc123-", 0, true},
		{"", 0, true},
		{"-", 0, true},
		{"hello", 0, true},
		{"1024", 0, true},
		{"-5", 0, true},
		{"--5", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseSample(tc.line)
		if tc.wantErr {
			if !errors.Is(err, ErrMalformedSample) {
				t.Errorf("ParseSample(%q) error = %v, want ErrMalformedSample", tc.line, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSample(%q) unexpected error: %v", tc.line, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSample(%q) = %d, want %d", tc.line, got, tc.want)
		}
	}
}

func TestLineSource(t *testing.T) {
	lines := make(chan string, 3)
	src := NewLineSource(lines)

	if _, err := src.Next(); !errors.Is(err, ErrNoSample) {
		t.Fatalf("empty source error = %v, want ErrNoSample", err)
	}

	lines <- "700"
	lines <- "abc123-"
	close(lines)

	if s, err := src.Next(); err != nil || s != 700 {
		t.Errorf("Next() = %d, %v; want 700, nil", s, err)
	}
	if _, err := src.Next(); !errors.Is(err, ErrMalformedSample) {
		t.Errorf("Next() error = %v, want ErrMalformedSample", err)
	}
	if _, err := src.Next(); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Next() error = %v, want ErrSourceClosed", err)
	}
}
