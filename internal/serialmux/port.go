package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// SerialPortFactoryFunc adapts a plain function to SerialPortFactory.
type SerialPortFactoryFunc func(path string, opts PortOptions) (SerialPorter, error)

// Open calls f(path, opts).
func (f SerialPortFactoryFunc) Open(path string, opts PortOptions) (SerialPorter, error) {
	return f(path, opts)
}
