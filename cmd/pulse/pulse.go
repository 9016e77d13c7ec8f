package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/metrics"
	"github.com/banshee-data/pulse.report/internal/monitor"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/synth"
	"github.com/banshee-data/pulse.report/internal/timeutil"
	"github.com/banshee-data/pulse.report/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against a synthetic ECG instead of a serial device")
	devBPM      = flag.Float64("dev-bpm", 72, "Heart rate of the synthetic ECG in dev mode")
	listen      = flag.String("listen", ":8080", "Listen address")
	port        = flag.String("port", "", "Serial port to use (default: config, then first enumerated port)")
	baud        = flag.Int("baud", 0, "Serial baud rate (default: config, then 115200)")
	configPath  = flag.String("config", "", "Path to a JSON tuning file (default: built-in defaults)")
	listPorts   = flag.Bool("list-ports", false, "List serial ports and exit")
	historySize = flag.Int("history", monitor.DefaultHistorySize, "Number of batches kept for /api/history")
	debugLog    = flag.Bool("debug", false, "Log discarded device lines")
	showVersion = flag.Bool("version", false, "Print the build version and exit")
)

// options is the resolved command line, kept apart from the flag pointers so
// run can be driven from tests.
type options struct {
	Listen      string
	Port        string
	Baud        int
	Dev         bool
	DevBPM      float64
	DevInterval time.Duration // zero means one sample period
	HistorySize int
	Tuning      *config.TuningConfig
	Factory     serialmux.SerialPortFactory // nil opens real ports
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// resolvePort picks the device path: flag, then config, then the first
// port the OS enumerates.
func resolvePort(flagPort string, cfg *config.TuningConfig) (string, error) {
	if flagPort != "" {
		return flagPort, nil
	}
	if p := cfg.GetPort(); p != "" {
		return p, nil
	}
	return serialmux.FirstPort()
}

func printPorts(w io.Writer) error {
	ports, err := serialmux.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

// openDevice returns the serial mux the estimator talks to and the name it
// is reported under.
func openDevice(opts options) (serialmux.SerialMuxInterface, string, error) {
	if opts.Dev {
		synthCfg := synth.DefaultConfig()
		synthCfg.SamplingRate = opts.Tuning.GetSamplingRate()
		synthCfg.BPM = opts.DevBPM
		ecg := synth.New(synthCfg)

		interval := opts.DevInterval
		if interval <= 0 {
			interval = time.Duration(float64(time.Second) / synthCfg.SamplingRate)
		}
		mux := serialmux.NewMockSerialMux(ecg.Line, interval, timeutil.RealClock{})
		mux.SetSettleDelay(0)
		return mux, fmt.Sprintf("synthetic ECG at %.0f bpm", synthCfg.BPM), nil
	}

	path, err := resolvePort(opts.Port, opts.Tuning)
	if err != nil {
		return nil, "", fmt.Errorf("no serial port: %w", err)
	}
	portOpts := opts.Tuning.PortOptions()
	if opts.Baud > 0 {
		portOpts.BaudRate = opts.Baud
	}
	factory := opts.Factory
	if factory == nil {
		factory = serialmux.NewRealSerialPortFactory()
	}
	mux, err := serialmux.OpenSerialMux(factory, path, portOpts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	mux.SetSettleDelay(opts.Tuning.GetSettleDelay())
	return mux, fmt.Sprintf("%s (%s)", path, portOpts), nil
}

// run wires the device, the estimator and the web server, and blocks until
// ctx is cancelled or the device goes away.
func run(ctx context.Context, opts options) error {
	if opts.Tuning == nil {
		opts.Tuning = config.DefaultTuningConfig()
	}
	if err := opts.Tuning.Validate(); err != nil {
		return fmt.Errorf("invalid tuning: %w", err)
	}

	device, name, err := openDevice(opts)
	if err != nil {
		return err
	}
	defer device.Close()

	if err := device.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	log.Printf("initialized device %s", name)

	proc, err := pulse.NewProcessor(opts.Tuning.Settings(), timeutil.RealClock{})
	if err != nil {
		return err
	}

	collector := metrics.New()
	history := monitor.NewHistory(opts.HistorySize)

	// Subscribe before the monitor starts so the first lines are not lost.
	id, lines := device.Subscribe()
	defer device.Unsubscribe(id)

	runner, err := pulse.NewRunner(pulse.RunnerConfig{
		Processor:    proc,
		Source:       pulse.NewLineSource(lines),
		Sink:         device,
		Clock:        timeutil.RealClock{},
		IdlePause:    opts.Tuning.GetIdlePause(),
		ErrorBackoff: opts.Tuning.GetErrorBackoff(),
		Observers:    []pulse.Observer{collector, history},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var monitorErr error

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := device.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
			monitorErr = err
		}
		log.Print("monitor routine terminated")
		// Nothing more will arrive once the device is gone.
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("estimator stopped: %v", err)
		}
		log.Print("estimator routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address: opts.Listen,
			Source:  proc,
			History: history,
			Metrics: collector.Handler(),
			Admin:   []monitor.AdminRouter{device},
			Port:    name,
		})
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	wg.Wait()
	return monitorErr
}

// Main
func main() {
	flag.Parse()
	monitoring.SetDebug(*debugLog)

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		if err := printPorts(os.Stdout); err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *baud < 0 {
		log.Fatal("Baud rate must be positive")
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config: %v", err)
	}

	log.Printf("starting %s", version.String())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, options{
		Listen:      *listen,
		Port:        *port,
		Baud:        *baud,
		Dev:         *devMode,
		DevBPM:      *devBPM,
		HistorySize: *historySize,
		Tuning:      tuning,
	})
	if err != nil {
		log.Fatalf("pulse: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
