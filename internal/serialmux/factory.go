package serialmux

import (
	"errors"

	"go.bug.st/serial"
)

// ErrNoPorts is returned by FirstPort when the system reports no serial ports.
var ErrNoPorts = errors.New("no serial ports found")

// OpenSerialMux opens path through factory. The returned mux has no settle
// delay; callers talking to real hardware should set one, usually
// DefaultSettleDelay.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	if _, err := opts.Normalise(); err != nil {
		return nil, err
	}
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}

// NewRealSerialPortFactory returns a factory that opens ports with
// go.bug.st/serial.
func NewRealSerialPortFactory() SerialPortFactory {
	return SerialPortFactoryFunc(func(path string, opts PortOptions) (SerialPorter, error) {
		mode, err := opts.SerialMode()
		if err != nil {
			return nil, err
		}
		return serial.Open(path, mode)
	})
}

// portLister is swapped in tests.
var portLister = serial.GetPortsList

// ListPorts returns the serial ports known to the system in the order the
// operating system enumerates them.
func ListPorts() ([]string, error) {
	return portLister()
}

// FirstPort returns the first port reported by ListPorts.
func FirstPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	if len(ports) == 0 {
		return "", ErrNoPorts
	}
	return ports[0], nil
}
