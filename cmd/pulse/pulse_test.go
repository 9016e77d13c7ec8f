package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/synth"
)

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, pulse.DefaultSettings(), cfg.Settings())

	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": "/dev/ttyACM0", "smoothing_weight": 0.5}`), 0o644))
	cfg, err = loadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.GetPort())
	assert.Equal(t, 0.5, cfg.GetSmoothingWeight())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestResolvePort(t *testing.T) {
	cfg := config.DefaultTuningConfig()
	dev := "/dev/ttyUSB3"
	cfg.Port = &dev

	got, err := resolvePort("/dev/ttyACM0", cfg)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", got, "flag wins over config")

	got, err = resolvePort("", cfg)
	require.NoError(t, err)
	assert.Equal(t, dev, got)
}

func TestOpenDevice_DevModeStreamsSamples(t *testing.T) {
	device, name, err := openDevice(options{
		Dev:         true,
		DevBPM:      60,
		DevInterval: time.Millisecond,
		Tuning:      config.DefaultTuningConfig(),
	})
	require.NoError(t, err)
	defer device.Close()
	assert.Contains(t, name, "60 bpm")
	require.NoError(t, device.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, lines := device.Subscribe()
	go device.Monitor(ctx)

	for i := 0; i < 5; i++ {
		select {
		case line := <-lines:
			_, err := pulse.ParseSample(line)
			assert.NoError(t, err, "line %q", line)
		case <-time.After(2 * time.Second):
			t.Fatal("no samples from synthetic device")
		}
	}
}

func TestRun_DevModeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, options{
			Listen:      "127.0.0.1:0",
			Dev:         true,
			DevBPM:      72,
			DevInterval: time.Millisecond,
			HistorySize: 16,
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRun_InvalidTuning(t *testing.T) {
	cfg := config.DefaultTuningConfig()
	bad := 0
	cfg.BatchSize = &bad

	err := run(context.Background(), options{Listen: "127.0.0.1:0", Dev: true, Tuning: cfg})
	assert.Error(t, err)
}

func noSettle() *config.TuningConfig {
	cfg := config.DefaultTuningConfig()
	zero := "0s"
	cfg.SettleDelay = &zero
	return cfg
}

func TestRun_OpenFailureIsFatal(t *testing.T) {
	openErr := errors.New("permission denied")
	factory := serialmux.NewMockSerialPortFactory(nil)
	factory.Error = openErr

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), options{
			Listen:  "127.0.0.1:0",
			Port:    "/dev/ttyACM0",
			Baud:    57600,
			Tuning:  noSettle(),
			Factory: factory,
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, openErr)
		assert.Contains(t, err.Error(), "/dev/ttyACM0")
	case <-time.After(2 * time.Second):
		t.Fatal("run kept going after the port failed to open")
	}

	require.Len(t, factory.OpenCalls, 1)
	assert.Equal(t, "/dev/ttyACM0", factory.OpenCalls[0].Path)
	assert.Equal(t, 57600, factory.OpenCalls[0].Options.BaudRate, "flag overrides config")
}

func TestRun_InvalidPortOptionsNeverOpen(t *testing.T) {
	cfg := noSettle()
	parity := "X"
	cfg.Parity = &parity
	factory := serialmux.NewMockSerialPortFactory(serialmux.NewScriptedPort(""))

	err := run(context.Background(), options{Listen: "127.0.0.1:0", Port: "/dev/ttyACM0", Tuning: cfg, Factory: factory})
	assert.Error(t, err)
	assert.Empty(t, factory.OpenCalls)
}

func TestRun_ReportsRateToDevice(t *testing.T) {
	ecg := synth.New(synth.DefaultConfig())
	// 250 lines fit in one subscriber buffer, so none are dropped.
	var lines strings.Builder
	for i := 0; i < 250; i++ {
		lines.WriteString(ecg.Line() + "\r\n")
	}
	port := serialmux.NewScriptedPort(lines.String())
	factory := serialmux.NewMockSerialPortFactory(port)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := run(ctx, options{
		Listen:      "127.0.0.1:0",
		Port:        "/dev/ttyACM0",
		HistorySize: 16,
		Tuning:      noSettle(),
		Factory:     factory,
	})
	require.NoError(t, err)

	written := port.Written()
	assert.Regexp(t, regexp.MustCompile(`^(\d+\n){5}$`), written)
	assert.True(t, port.IsClosed(), "port closed on shutdown")
}
