// Package config loads the settings of the executive. Settings come from
// built-in defaults, then an optional YAML file, then PHOBOS_* environment
// variables, which may themselves be provided by a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phobosrover/phobosexec/loco"
)

// ErrInvalid is returned when a setting has a value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration of the executive.
type Config struct {
	Exec    ExecConfig    `yaml:"exec"`
	Log     LogConfig     `yaml:"log"`
	Archive ArchiveConfig `yaml:"archive"`
	Monitor MonitorConfig `yaml:"monitor"`
	Loco    loco.Limits   `yaml:"loco"`
}

// ExecConfig holds the cycle engine settings.
type ExecConfig struct {
	FreqHz      float64 `yaml:"freq_hz"`
	SessionRoot string  `yaml:"session_root"`
}

// LogConfig holds the session log settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ArchiveConfig holds the archive settings.
type ArchiveConfig struct {
	Enabled   bool `yaml:"enabled"`
	BatchSize int  `yaml:"batch_size"`
}

// MonitorConfig holds the monitoring server settings.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Exec: ExecConfig{
			FreqHz:      100,
			SessionRoot: "sessions",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Archive: ArchiveConfig{
			Enabled:   true,
			BatchSize: 1000,
		},
		Monitor: MonitorConfig{
			Port: 0,
		},
		Loco: loco.DefaultParams(),
	}
}

// Load builds the configuration. An empty path skips the YAML file. A .env
// file in the working directory is loaded when present; variables already
// set in the environment win over it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", filename, err)
	}

	return nil
}

type lookupFunc func(key string) (string, bool)

func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	num := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}

			*dst = f
		}
	}

	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}

			*dst = n
		}
	}

	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v))
				return
			}

			*dst = b
		}
	}

	num("PHOBOS_FREQ_HZ", &cfg.Exec.FreqHz)
	str("PHOBOS_SESSION_ROOT", &cfg.Exec.SessionRoot)
	str("PHOBOS_LOG_LEVEL", &cfg.Log.Level)
	integer("PHOBOS_LOG_MAX_SIZE_MB", &cfg.Log.MaxSizeMB)
	integer("PHOBOS_LOG_MAX_BACKUPS", &cfg.Log.MaxBackups)
	boolean("PHOBOS_ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	integer("PHOBOS_ARCHIVE_BATCH_SIZE", &cfg.Archive.BatchSize)
	boolean("PHOBOS_MONITOR_ENABLED", &cfg.Monitor.Enabled)
	integer("PHOBOS_MONITOR_PORT", &cfg.Monitor.Port)
	boolean("PHOBOS_MONITOR_OPEN_BROWSER", &cfg.Monitor.OpenBrowser)
	num("PHOBOS_LOCO_MAX_SPEED_MSS", &cfg.Loco.MaxSpeedMss)
	num("PHOBOS_LOCO_MAX_CURV_M", &cfg.Loco.MaxCurvM)
	num("PHOBOS_LOCO_MAX_RATE_RADS", &cfg.Loco.MaxRateRads)

	return errors.Join(errs...)
}

// Validate checks that every setting can be used.
func (c *Config) Validate() error {
	var errs []error

	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Exec.FreqHz <= 0 {
		invalid("exec.freq_hz must be positive, got %v", c.Exec.FreqHz)
	}

	if c.Exec.SessionRoot == "" {
		invalid("exec.session_root must not be empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		invalid("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		invalid("log rotation settings must not be negative")
	}

	if c.Archive.BatchSize <= 0 {
		invalid("archive.batch_size must be positive, got %d", c.Archive.BatchSize)
	}

	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		invalid("monitor.port out of range: %d", c.Monitor.Port)
	}

	if c.Loco.MaxSpeedMss <= 0 || c.Loco.MaxCurvM <= 0 || c.Loco.MaxRateRads <= 0 {
		invalid("loco limits must be positive")
	}

	return errors.Join(errs...)
}
