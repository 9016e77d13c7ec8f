package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalise(t *testing.T) {
	tests := []struct {
		name string
		in   PortOptions
		want string
	}{
		{"unset is the board default", PortOptions{}, "115200 8N1"},
		{"negative baud falls back", PortOptions{BaudRate: -1}, "115200 8N1"},
		{"slow board", PortOptions{BaudRate: 57600}, "57600 8N1"},
		{"lowercase parity word", PortOptions{BaudRate: 9600, DataBits: 7, Parity: " even "}, "9600 7E1"},
		{"odd letter", PortOptions{Parity: "o", StopBits: 2}, "115200 8O2"},
		{"none", PortOptions{Parity: "NONE"}, "115200 8N1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalise()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			again, err := got.Normalise()
			require.NoError(t, err)
			assert.Equal(t, got, again, "normalising twice changes nothing")
		})
	}
}

func TestPortOptions_Normalise_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		errPart string
	}{
		{"non-standard baud", PortOptions{BaudRate: 12345}, "baud rate"},
		{"baud between standard rates", PortOptions{BaudRate: 250000}, "baud rate"},
		{"too few data bits", PortOptions{DataBits: 4}, "data bits"},
		{"too many data bits", PortOptions{DataBits: 9}, "data bits"},
		{"three stop bits", PortOptions{StopBits: 3}, "stop bits"},
		{"mark parity", PortOptions{Parity: "M"}, "parity"},
		{"typo", PortOptions{Parity: "X"}, "parity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.in.Normalise()
			assert.ErrorContains(t, err, tt.errPart)
		})
	}
}

func TestPortOptions_StandardBaudRates(t *testing.T) {
	for rate := range standardBaudRates {
		got, err := PortOptions{BaudRate: rate}.Normalise()
		if assert.NoError(t, err, "baud %d", rate) {
			assert.Equal(t, rate, got.BaudRate)
		}
	}
	assert.True(t, standardBaudRates[DefaultBaudRate], "default rate must be accepted")
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		in   PortOptions
		want serial.Mode
	}{
		{PortOptions{}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}},
		{PortOptions{BaudRate: 57600, Parity: "E"}, serial.Mode{BaudRate: 57600, DataBits: 8, Parity: serial.EvenParity, StopBits: serial.OneStopBit}},
		{PortOptions{Parity: "ODD", StopBits: 2}, serial.Mode{BaudRate: 115200, DataBits: 8, Parity: serial.OddParity, StopBits: serial.TwoStopBits}},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			mode, err := tt.in.SerialMode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, *mode)
		})
	}
}

// serial.OneStopBit is the zero value, so passing StopBits through as an
// integer would ask the driver for one and a half.
func TestPortOptions_SerialMode_StopBitsAreMapped(t *testing.T) {
	mode, err := PortOptions{StopBits: 1}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.NotEqual(t, serial.StopBits(1), mode.StopBits)
}

func TestPortOptions_SerialMode_Invalid(t *testing.T) {
	mode, err := PortOptions{BaudRate: 12345}.SerialMode()
	assert.Error(t, err)
	assert.Nil(t, mode)
}

func TestPortOptions_String_Invalid(t *testing.T) {
	assert.Equal(t, "invalid(12345 8N1)", PortOptions{BaudRate: 12345, DataBits: 8, Parity: "N", StopBits: 1}.String())
}
