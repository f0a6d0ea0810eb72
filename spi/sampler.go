package spi

import (
	"fmt"

	"github.com/soypat/spiwave/internal/slog"
	"github.com/soypat/spiwave/wave"
)

// Signals names the trace signals the sampler reads.
type Signals struct {
	Clock  string
	MOSI   string
	MISO   string
	Select string // Active low chip select.
	// CPOL and CPHA are read each sample when the capture mode is not fixed.
	CPOL string
	CPHA string
}

// DefaultSignals returns the signal names used by lab traces.
func DefaultSignals() Signals {
	return Signals{
		Clock:  "sclk",
		MOSI:   "mosi",
		MISO:   "miso",
		Select: "ss",
		CPOL:   "cpol",
		CPHA:   "cpha",
	}
}

// CaptureConfig configures the edge sampler.
type CaptureConfig struct {
	Signals Signals
	// Mode is the capture mode used when FixedMode is set.
	Mode Mode
	// FixedMode makes the sampler ignore the CPOL and CPHA signals.
	FixedMode bool
	// Logger receives capture diagnostics. May be nil.
	Logger *slog.Logger
}

func (cfg *CaptureConfig) required() []string {
	s := cfg.Signals
	names := []string{s.Clock, s.MOSI, s.MISO, s.Select}
	if !cfg.FixedMode {
		names = append(names, s.CPOL, s.CPHA)
	}
	return names
}

// Sample walks src once and captures a (MOSI, MISO) bit pair on every qualifying
// clock edge seen while chip select is low. The clock is taken to be low
// before the first sample. Any signal lookup failure aborts the capture.
func Sample(src wave.Source, cfg CaptureConfig) (*Bitstream, error) {
	present := make(map[string]bool)
	for _, name := range src.SignalNames() {
		present[name] = true
	}
	for _, name := range cfg.required() {
		if !present[name] {
			return nil, fmt.Errorf("spi: required signal: %w: %q", wave.ErrSignalNotFound, name)
		}
	}
	var (
		s        = cfg.Signals
		bs       = &Bitstream{}
		n        = src.SampleCount()
		mode     = cfg.Mode
		edge     = mode.Edge()
		prevClk  bool
		haveMode = cfg.FixedMode
	)
	read := func(name string, i int) (bool, error) {
		v, err := src.ValueAt(name, i)
		if err != nil {
			return false, fmt.Errorf("spi: sample %d: %w", i, err)
		}
		return v != 0, nil
	}
	for i := 0; i < n; i++ {
		clk, err := read(s.Clock, i)
		if err != nil {
			return nil, err
		}
		mosi, err := read(s.MOSI, i)
		if err != nil {
			return nil, err
		}
		miso, err := read(s.MISO, i)
		if err != nil {
			return nil, err
		}
		sel, err := read(s.Select, i)
		if err != nil {
			return nil, err
		}
		if !cfg.FixedMode {
			cpol, err := read(s.CPOL, i)
			if err != nil {
				return nil, err
			}
			cpha, err := read(s.CPHA, i)
			if err != nil {
				return nil, err
			}
			if m := NewMode(cpol, cpha); !haveMode || m != mode {
				if cfg.Logger != nil {
					cfg.Logger.Debug("spi:mode", slog.Int("sample", i), slog.String("mode", m.String()), slog.String("edge", m.Edge().String()))
				}
				mode, edge, haveMode = m, m.Edge(), true
			}
		}
		if !sel && edge.Qualifies(prevClk, clk) {
			bs.capture(mosi, miso, i)
		}
		prevClk = clk
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("spi:sampled", slog.Int("samples", n), slog.Int("bits", bs.Len()))
	}
	return bs, nil
}
