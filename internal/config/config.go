// Package config loads docstore settings from YAML.
//
// Settings are resolved in three layers: Default, then the file given to
// Load, then command-line overrides applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docstore/internal/keystore"
)

// Engine names accepted in Config.Engine.
const (
	EngineSQLite = "sqlite"
	EngineMemory = "memory"
)

// Config is the top-level configuration document.
type Config struct {
	Engine string       `yaml:"engine"`
	Path   string       `yaml:"path"`
	Stores StoresConfig `yaml:"stores"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Log    LogConfig    `yaml:"log"`
}

// StoresConfig names the two physical stores behind the composite.
type StoresConfig struct {
	Live string `yaml:"live"`
	Dead string `yaml:"dead"`
}

// SQLiteConfig holds engine settings used when Engine is "sqlite".
type SQLiteConfig struct {
	Synchronous   string `yaml:"synchronous"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// BusyTimeout returns BusyTimeoutMS as a duration.
func (c SQLiteConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: EngineSQLite,
		Path:   "./docstore.db",
		Stores: StoresConfig{Live: "default", Dead: "del_default"},
		SQLite: SQLiteConfig{Synchronous: "NORMAL", BusyTimeoutMS: 5000},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. Unknown fields are rejected so typos
// such as "store:" for "stores:" do not pass silently.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
// Empty input yields the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	var errs []error
	switch c.Engine {
	case EngineSQLite:
		if c.Path == "" {
			errs = append(errs, errors.New("path is required for the sqlite engine"))
		}
		switch strings.ToUpper(c.SQLite.Synchronous) {
		case "OFF", "NORMAL", "FULL":
		default:
			errs = append(errs, fmt.Errorf("sqlite.synchronous must be OFF, NORMAL or FULL, got %q", c.SQLite.Synchronous))
		}
		if c.SQLite.BusyTimeoutMS < 0 {
			errs = append(errs, fmt.Errorf("sqlite.busy_timeout_ms must not be negative, got %d", c.SQLite.BusyTimeoutMS))
		}
	case EngineMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q (want %s or %s)", c.Engine, EngineSQLite, EngineMemory))
	}

	if !keystore.ValidIdentifier(c.Stores.Live) {
		errs = append(errs, fmt.Errorf("invalid live store name %q", c.Stores.Live))
	}
	if !keystore.ValidIdentifier(c.Stores.Dead) {
		errs = append(errs, fmt.Errorf("invalid dead store name %q", c.Stores.Dead))
	}
	if c.Stores.Live == c.Stores.Dead {
		errs = append(errs, fmt.Errorf("live and dead stores must differ, both are %q", c.Stores.Live))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}

// NewLogger builds a logger writing to w as configured. verbose forces debug.
func (c LogConfig) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
