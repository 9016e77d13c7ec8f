// Command replay runs a recorded device capture, one sample per line, through
// the heart-rate estimator offline and reports what it would have sent.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/monitor"
	"github.com/banshee-data/pulse.report/internal/monitoring"
)

// Config holds the command line of the replay tool.
type Config struct {
	Capture    string
	ConfigFile string
	OutputDir  string
	OutputJSON string
	ChartHTML  string
	TracePNG   string
	Verbose    bool
}

func main() {
	cfg := parseFlags()

	if cfg.Capture == "" {
		log.Fatal("capture file is required")
	}
	if !cfg.Verbose {
		monitoring.SetLogger(nil)
	}

	tuning := config.DefaultTuningConfig()
	if cfg.ConfigFile != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(cfg.ConfigFile); err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("Failed to create output directory: %v", err)
		}
	}

	result, err := replayFile(cfg.Capture, tuning)
	if err != nil {
		log.Fatalf("Replay failed: %v", err)
	}
	printResults(os.Stdout, result, cfg.Verbose)

	if cfg.OutputJSON != "" {
		if err := exportJSON(result, cfg.outputPath(cfg.OutputJSON)); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		}
	}
	if cfg.ChartHTML != "" {
		if err := writeFile(cfg.outputPath(cfg.ChartHTML), func(f *os.File) error {
			return monitor.RenderRateChart(f, result.Entries)
		}); err != nil {
			log.Printf("Warning: failed to write rate chart: %v", err)
		}
	}
	if cfg.TracePNG != "" {
		if err := writeFile(cfg.outputPath(cfg.TracePNG), func(f *os.File) error {
			return monitor.RenderTrace(f, result.LastTrace, monitor.TraceWidth, monitor.TraceHeight)
		}); err != nil {
			log.Printf("Warning: failed to write trace plot: %v", err)
		}
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.Capture, "capture", "", "Path to a capture file with one sample per line")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Path to a JSON tuning file (default: built-in defaults)")
	flag.StringVar(&cfg.OutputDir, "output", "", "Output directory for results")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g., replay.json)")
	flag.StringVar(&cfg.ChartHTML, "chart", "", "Output rate chart filename (e.g., rate.html)")
	flag.StringVar(&cfg.TracePNG, "trace", "", "Output plot of the last window (e.g., trace.png)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Print every batch")

	flag.Parse()
	return cfg
}

func (c Config) outputPath(name string) string {
	if c.OutputDir == "" {
		return name
	}
	return filepath.Join(c.OutputDir, name)
}

func writeFile(path string, render func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("Wrote %s", path)
	return nil
}

func exportJSON(result *Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return err
	}
	log.Printf("Results exported to: %s", path)
	return nil
}
