// Package config loads spiwave settings from a TOML file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/soypat/spiwave/internal/slog"
	"github.com/soypat/spiwave/spi"
)

// EnvLogLevel overrides the configured log level when set.
const EnvLogLevel = "SPIWAVE_LOG_LEVEL"

type Config struct {
	Capture   spi.CaptureConfig
	OmitRead  bool
	OmitWrite bool
	LogLevel  slog.Level
	MQTT      MQTT
}

// MQTT configures publishing of decoded transactions. Publishing is
// disabled when Broker is empty.
type MQTT struct {
	Broker   string
	Topic    string
	ClientID string
	Timeout  time.Duration
}

// Default returns the configuration used when no file is given: lab signal
// names with the mode read from the cpol and cpha signals.
func Default() Config {
	return Config{
		Capture:  spi.CaptureConfig{Signals: spi.DefaultSignals()},
		LogLevel: slog.LevelInfo,
		MQTT: MQTT{
			Topic:    "spiwave/transactions",
			ClientID: "spiwave",
			Timeout:  5 * time.Second,
		},
	}
}

// config.toml key mapping.
type fileConfig struct {
	Signals struct {
		Clock  string `toml:"clock"`
		MOSI   string `toml:"mosi"`
		MISO   string `toml:"miso"`
		Select string `toml:"select"`
		CPOL   string `toml:"cpol"`
		CPHA   string `toml:"cpha"`
	} `toml:"signals"`
	Mode struct {
		CPOL int `toml:"cpol"`
		CPHA int `toml:"cpha"`
	} `toml:"mode"`
	Output struct {
		OmitRead  bool `toml:"omit_read"`
		OmitWrite bool `toml:"omit_write"`
	} `toml:"output"`
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	MQTT struct {
		Broker   string `toml:"broker"`
		Topic    string `toml:"topic"`
		ClientID string `toml:"client_id"`
		Timeout  string `toml:"timeout"`
	} `toml:"mqtt"`
}

// Load reads the TOML file at path and overlays the keys it defines onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	sig := &cfg.Capture.Signals
	setString := func(dst *string, value string, key ...string) {
		if meta.IsDefined(key...) {
			*dst = strings.TrimSpace(value)
		}
	}
	setString(&sig.Clock, raw.Signals.Clock, "signals", "clock")
	setString(&sig.MOSI, raw.Signals.MOSI, "signals", "mosi")
	setString(&sig.MISO, raw.Signals.MISO, "signals", "miso")
	setString(&sig.Select, raw.Signals.Select, "signals", "select")
	setString(&sig.CPOL, raw.Signals.CPOL, "signals", "cpol")
	setString(&sig.CPHA, raw.Signals.CPHA, "signals", "cpha")

	cpolSet, cphaSet := meta.IsDefined("mode", "cpol"), meta.IsDefined("mode", "cpha")
	if cpolSet != cphaSet {
		return Config{}, fmt.Errorf("load config %s: mode needs both cpol and cpha", path)
	}
	if cpolSet {
		cfg.Capture.Mode, err = ModeFromInts(raw.Mode.CPOL, raw.Mode.CPHA)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg.Capture.FixedMode = true
	}

	cfg.OmitRead = raw.Output.OmitRead
	cfg.OmitWrite = raw.Output.OmitWrite
	if meta.IsDefined("log", "level") {
		cfg.LogLevel, err = ParseLevel(raw.Log.Level)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	setString(&cfg.MQTT.Broker, raw.MQTT.Broker, "mqtt", "broker")
	setString(&cfg.MQTT.Topic, raw.MQTT.Topic, "mqtt", "topic")
	setString(&cfg.MQTT.ClientID, raw.MQTT.ClientID, "mqtt", "client_id")
	if meta.IsDefined("mqtt", "timeout") {
		cfg.MQTT.Timeout, err = time.ParseDuration(raw.MQTT.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: mqtt timeout: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// ApplyEnv applies environment variable overrides.
func (cfg *Config) ApplyEnv() error {
	if raw, ok := os.LookupEnv(EnvLogLevel); ok && strings.TrimSpace(raw) != "" {
		lvl, err := ParseLevel(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = lvl
	}
	return nil
}

// Validate checks the configuration is usable.
func (cfg *Config) Validate() error {
	if cfg.OmitRead && cfg.OmitWrite {
		return fmt.Errorf("config: cannot omit both read and write transactions")
	}
	s := cfg.Capture.Signals
	if s.Clock == "" || s.MOSI == "" || s.MISO == "" || s.Select == "" {
		return fmt.Errorf("config: clock, mosi, miso and select signal names are required")
	}
	if !cfg.Capture.FixedMode && (s.CPOL == "" || s.CPHA == "") {
		return fmt.Errorf("config: cpol and cpha signal names are required without a fixed mode")
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		return fmt.Errorf("config: mqtt topic is required")
	}
	return nil
}

// ModeFromInts returns the SPI mode for integer CPOL and CPHA values.
func ModeFromInts(cpol, cpha int) (spi.Mode, error) {
	if cpol < 0 || cpol > 1 || cpha < 0 || cpha > 1 {
		return 0, fmt.Errorf("cpol=%d cpha=%d: each must be 0 or 1", cpol, cpha)
	}
	return spi.NewMode(cpol == 1, cpha == 1), nil
}

// ParseLevel parses a log level name.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", raw)
}
