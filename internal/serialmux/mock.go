package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// LineGenerator produces the next line a mock device emits, without the
// trailing newline.
type LineGenerator func() string

// MockSerialPort is a SerialPorter fed by a LineGenerator. Commands written to
// it are kept so dev-mode and tests can inspect what the host sent back.
type MockSerialPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	closed  bool
	done    chan struct{}
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errPortClosed
	}
	return m.written.Write(p)
}

// Close stops the generator and unblocks readers.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.w.Close()
	return m.r.Close()
}

// Written returns a copy of every byte written to the port.
func (m *MockSerialPort) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// NewMockSerialMux creates a SerialMux backed by a mock device that emits one
// generated line per tick of clock at the given interval.
func NewMockSerialMux(gen LineGenerator, interval time.Duration, clock timeutil.Clock) *SerialMux[*MockSerialPort] {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r, w := io.Pipe()
	port := &MockSerialPort{r: r, w: w, done: make(chan struct{})}

	// created before the goroutine starts so a mock clock can drive it straight away
	ticker := clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-port.done:
				return
			case <-ticker.C():
				if _, err := io.WriteString(w, gen()+"\n"); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(port)
}

// ScriptedPort is an in-memory SerialPorter for tests. Reads return data
// passed to Feed and block while none is pending, the way a quiet board does.
// Writes are captured for Written.
type ScriptedPort struct {
	mu      sync.Mutex
	ready   *sync.Cond
	pending bytes.Buffer
	written bytes.Buffer
	ended   bool
	closed  bool

	readErr  error
	writeErr error
	closeErr error
	maxWrite int
}

var errPortClosed = errors.New("serial port closed")

// NewScriptedPort returns a port with data already pending.
func NewScriptedPort(data string) *ScriptedPort {
	p := &ScriptedPort{}
	p.ready = sync.NewCond(&p.mu)
	p.pending.WriteString(data)
	return p
}

// Feed queues data for the next reads.
func (p *ScriptedPort) Feed(data string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.WriteString(data)
	p.ready.Broadcast()
}

// Hangup makes reads return io.EOF once pending data is drained.
func (p *ScriptedPort) Hangup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
	p.ready.Broadcast()
}

// FailReads makes every read return err once pending data is drained.
func (p *ScriptedPort) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
	p.ready.Broadcast()
}

// FailWrites makes every write return err.
func (p *ScriptedPort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// FailClose makes Close return err.
func (p *ScriptedPort) FailClose(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeErr = err
}

// ShortWrites caps every write at n bytes.
func (p *ScriptedPort) ShortWrites(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxWrite = n
}

func (p *ScriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		switch {
		case p.closed:
			return 0, errPortClosed
		case p.pending.Len() > 0:
			return p.pending.Read(b)
		case p.readErr != nil:
			return 0, p.readErr
		case p.ended:
			return 0, io.EOF
		}
		p.ready.Wait()
	}
}

func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.maxWrite > 0 && len(b) > p.maxWrite {
		b = b[:p.maxWrite]
	}
	return p.written.Write(b)
}

// Close unblocks pending reads. Later reads and writes fail.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.ready.Broadcast()
	return p.closeErr
}

// Written returns everything written so far.
func (p *ScriptedPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// IsClosed reports whether Close has been called.
func (p *ScriptedPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MockSerialPortFactory hands out Port, or fails with Error, and records
// every Open.
type MockSerialPortFactory struct {
	mu        sync.Mutex
	Port      SerialPorter
	Error     error
	OpenCalls []MockOpenCall
}

// MockOpenCall is one recorded Open.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Options: opts})
	if f.Error != nil {
		return nil, f.Error
	}
	return f.Port, nil
}
