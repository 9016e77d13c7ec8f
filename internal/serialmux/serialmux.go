// Package serialmux owns the serial link to the sensor board. Lines read from
// the port are fanned out to any number of subscribers, and commands from any
// goroutine are written back one at a time.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

var (
	ErrWriteFailed = fmt.Errorf("failed to write to serial port")
	ErrClosed      = errors.New("serial mux is closed")
)

// DefaultSettleDelay is how long a freshly opened board needs after the port
// toggles DTR and resets it.
const DefaultSettleDelay = 2 * time.Second

// subscriberBuffer holds about five seconds of 50 Hz samples.
const subscriberBuffer = 256

// SerialMux multiplexes one serial port between many line subscribers.
type SerialMux[T SerialPorter] struct {
	port   T
	settle time.Duration
	sleep  func(time.Duration)

	mu          sync.Mutex // guards subscribers
	subscribers map[string]chan string
	writeMu     sync.Mutex

	closed  atomic.Bool
	dropped atomic.Uint64
}

// SerialMuxInterface is what the service needs from a device link.
type SerialMuxInterface interface {
	// Subscribe returns an ID and a buffered channel of lines. The channel
	// is closed by Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand writes one newline terminated command.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port fails.
	Monitor(context.Context) error
	Close() error

	// Initialize blocks until the device is ready to stream samples.
	Initialize() error

	// AttachAdminRoutes adds the serial console under /debug/. tsweb keeps
	// these routes to loopback and tailnet callers.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps an already open port. The settle delay is zero; use
// SetSettleDelay for hardware that resets on open.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		sleep:       time.Sleep,
		subscribers: make(map[string]chan string),
	}
}

// SetSettleDelay sets how long Initialize waits. Negative values mean zero.
func (s *SerialMux[T]) SetSettleDelay(d time.Duration) {
	s.settle = max(d, 0)
}

// Dropped counts lines discarded because a subscriber's buffer was full.
func (s *SerialMux[T]) Dropped() uint64 { return s.dropped.Load() }

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()
	return id, ch
}

// Unsubscribe closes and forgets the channel for id. Unknown IDs are ignored.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Initialize waits for the board to finish its reset. The ECG board takes no
// setup commands; it starts streaming one sample per line on its own.
func (s *SerialMux[T]) Initialize() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.settle > 0 {
		s.sleep(s.settle)
	}
	return nil
}

// SendCommand writes command followed by a newline, unless it already ends
// in one. Short writes report ErrWriteFailed.
func (s *SerialMux[T]) SendCommand(command string) error {
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor scans the port and hands every line to the subscribers. It returns
// ctx.Err() on cancellation, the scanner error if reading fails, and nil at
// end of stream or once the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the select below.
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(s.port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if !s.fanOut(line) {
				return nil
			}
		}
	}
}

// fanOut offers line to every subscriber without blocking. It reports false
// once the mux is closed.
func (s *SerialMux[T]) fanOut(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	for id, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			s.dropped.Add(1)
			monitoring.Debugf("serialmux: subscriber %s full, dropped %q", id, line)
		}
	}
	return true
}

// Close closes every subscriber channel and then the port. Only the first
// call closes the port.
func (s *SerialMux[T]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
	return s.port.Close()
}
