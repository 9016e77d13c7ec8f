package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/pulse.defaults.json"

// Runtime defaults that are not part of pulse.Settings.
const (
	defaultIdlePause    = 5 * time.Millisecond
	defaultErrorBackoff = 100 * time.Millisecond
)

// TuningConfig is the on-disk form of the estimator parameters plus the serial
// connection. Every field is optional; a nil field means "use the default".
// Durations are strings such as "600ms".
type TuningConfig struct {
	// Device
	Port     *string `json:"port,omitempty"` // empty picks the first enumerated port
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
	// SettleDelay is how long to wait after opening the port for the board
	// to reset before reading.
	SettleDelay *string `json:"settle_delay,omitempty"`

	// Sampling and filter
	SamplingRate *float64 `json:"sampling_rate,omitempty"`
	LowCut       *float64 `json:"low_cut,omitempty"`
	HighCut      *float64 `json:"high_cut,omitempty"`
	FilterOrder  *int     `json:"filter_order,omitempty"`

	// Windowing
	WindowSize        *int `json:"window_size,omitempty"`
	BatchSize         *int `json:"batch_size,omitempty"`
	BaselineWidth     *int `json:"baseline_width,omitempty"`
	BaselineMinLength *int `json:"baseline_min_length,omitempty"`

	// Peak detection
	MinPeakSignal     *int     `json:"min_peak_signal,omitempty"`
	FlatnessThreshold *float64 `json:"flatness_threshold,omitempty"`
	HeightFactor      *float64 `json:"height_factor,omitempty"`
	ProminenceFactor  *float64 `json:"prominence_factor,omitempty"`
	MinPeakSpacing    *string  `json:"min_peak_spacing,omitempty"`

	// Rate estimation
	MinInterval     *string  `json:"min_interval,omitempty"`
	MaxInterval     *string  `json:"max_interval,omitempty"`
	MinBPM          *float64 `json:"min_bpm,omitempty"`
	MaxBPM          *float64 `json:"max_bpm,omitempty"`
	SmoothingWeight *float64 `json:"smoothing_weight,omitempty"`

	// Worker loop
	IdlePause    *string `json:"idle_pause,omitempty"`
	ErrorBackoff *string `json:"error_backoff,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

func secondsString(s float64) string {
	return time.Duration(s * float64(time.Second)).String()
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// pulse.DefaultSettings and the serial defaults.
func DefaultTuningConfig() *TuningConfig {
	s := pulse.DefaultSettings()
	return &TuningConfig{
		Port:     ptrString(""),
		BaudRate: ptrInt(serialmux.DefaultBaudRate),
		DataBits: ptrInt(8),
		StopBits: ptrInt(1),
		Parity:   ptrString("N"),

		SettleDelay: ptrString(serialmux.DefaultSettleDelay.String()),

		SamplingRate: ptrFloat64(s.SamplingRate),
		LowCut:       ptrFloat64(s.LowCut),
		HighCut:      ptrFloat64(s.HighCut),
		FilterOrder:  ptrInt(s.FilterOrder),

		WindowSize:        ptrInt(s.WindowSize),
		BatchSize:         ptrInt(s.BatchSize),
		BaselineWidth:     ptrInt(s.BaselineWidth),
		BaselineMinLength: ptrInt(s.BaselineMinLength),

		MinPeakSignal:     ptrInt(s.MinPeakSignal),
		FlatnessThreshold: ptrFloat64(s.FlatnessThreshold),
		HeightFactor:      ptrFloat64(s.HeightFactor),
		ProminenceFactor:  ptrFloat64(s.ProminenceFactor),
		MinPeakSpacing:    ptrString(secondsString(s.MinPeakSpacing)),

		MinInterval:     ptrString(secondsString(s.MinInterval)),
		MaxInterval:     ptrString(secondsString(s.MaxInterval)),
		MinBPM:          ptrFloat64(s.MinBPM),
		MaxBPM:          ptrFloat64(s.MaxBPM),
		SmoothingWeight: ptrFloat64(s.SmoothingWeight),

		IdlePause:    ptrString(defaultIdlePause.String()),
		ErrorBackoff: ptrString(defaultErrorBackoff.String()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to defaults, so partial configs
// are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/replay/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Durations must
// parse, serial options must normalise, and the resulting pulse.Settings must
// pass their own validation.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"min_peak_spacing", c.MinPeakSpacing},
		{"min_interval", c.MinInterval},
		{"max_interval", c.MaxInterval},
		{"idle_pause", c.IdlePause},
		{"error_backoff", c.ErrorBackoff},
		{"settle_delay", c.SettleDelay},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.value)
		}
	}

	if _, err := c.PortOptions().Normalise(); err != nil {
		return fmt.Errorf("serial options: %w", err)
	}

	return c.Settings().Validate()
}

// Settings converts the configuration into pulse.Settings, filling unset
// fields from pulse.DefaultSettings.
func (c *TuningConfig) Settings() pulse.Settings {
	s := pulse.DefaultSettings()
	s.SamplingRate = c.GetSamplingRate()
	if c.LowCut != nil {
		s.LowCut = *c.LowCut
	}
	if c.HighCut != nil {
		s.HighCut = *c.HighCut
	}
	if c.FilterOrder != nil {
		s.FilterOrder = *c.FilterOrder
	}
	s.WindowSize = c.GetWindowSize()
	s.BatchSize = c.GetBatchSize()
	if c.BaselineWidth != nil {
		s.BaselineWidth = *c.BaselineWidth
	}
	if c.BaselineMinLength != nil {
		s.BaselineMinLength = *c.BaselineMinLength
	}
	if c.MinPeakSignal != nil {
		s.MinPeakSignal = *c.MinPeakSignal
	}
	if c.FlatnessThreshold != nil {
		s.FlatnessThreshold = *c.FlatnessThreshold
	}
	if c.HeightFactor != nil {
		s.HeightFactor = *c.HeightFactor
	}
	if c.ProminenceFactor != nil {
		s.ProminenceFactor = *c.ProminenceFactor
	}
	s.MinPeakSpacing = durationSeconds(c.MinPeakSpacing, s.MinPeakSpacing)
	s.MinInterval = durationSeconds(c.MinInterval, s.MinInterval)
	s.MaxInterval = durationSeconds(c.MaxInterval, s.MaxInterval)
	if c.MinBPM != nil {
		s.MinBPM = *c.MinBPM
	}
	if c.MaxBPM != nil {
		s.MaxBPM = *c.MaxBPM
	}
	s.SmoothingWeight = c.GetSmoothingWeight()
	return s
}

// durationSeconds parses v as a duration in seconds, returning def when v is
// unset or malformed.
func durationSeconds(v *string, def float64) float64 {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d.Seconds()
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// PortOptions returns the serial options for the device.
func (c *TuningConfig) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	opts.BaudRate = c.GetBaudRate()
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetPort returns the configured port path, or "" to auto-select.
func (c *TuningConfig) GetPort() string {
	if c.Port == nil {
		return ""
	}
	return *c.Port
}

// GetBaudRate returns the baud_rate value or the default.
func (c *TuningConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.BaudRate
}

// GetSamplingRate returns the sampling_rate value or the default.
func (c *TuningConfig) GetSamplingRate() float64 {
	if c.SamplingRate == nil {
		return pulse.DefaultSettings().SamplingRate
	}
	return *c.SamplingRate
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return pulse.DefaultSettings().WindowSize
	}
	return *c.WindowSize
}

// GetBatchSize returns the batch_size value or the default.
func (c *TuningConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return pulse.DefaultSettings().BatchSize
	}
	return *c.BatchSize
}

// GetSmoothingWeight returns the smoothing_weight value or the default.
func (c *TuningConfig) GetSmoothingWeight() float64 {
	if c.SmoothingWeight == nil {
		return pulse.DefaultSettings().SmoothingWeight
	}
	return *c.SmoothingWeight
}

// GetIdlePause returns how long the worker waits when no sample is pending.
func (c *TuningConfig) GetIdlePause() time.Duration {
	return parseDuration(c.IdlePause, defaultIdlePause)
}

// GetErrorBackoff returns how long the worker waits after a read error.
func (c *TuningConfig) GetErrorBackoff() time.Duration {
	return parseDuration(c.ErrorBackoff, defaultErrorBackoff)
}

// GetSettleDelay returns how long to wait for the device after opening it.
func (c *TuningConfig) GetSettleDelay() time.Duration {
	return parseDuration(c.SettleDelay, serialmux.DefaultSettleDelay)
}
