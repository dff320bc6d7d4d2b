// Package config loads the rewind server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// REWIND_* environment variables, highest priority last.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/rewind/extension"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig     `mapstructure:"server" yaml:"server"`
	Store   StoreConfig      `mapstructure:"store" yaml:"store"`
	NATS    NATSConfig       `mapstructure:"nats" yaml:"nats"`
	Metrics MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig        `mapstructure:"log" yaml:"log"`
	Rewind  extension.Config `mapstructure:"rewind" yaml:"rewind"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend. The CLI opens "memory" and
// "badger" itself; SQL, Mongo and Redis stores are wired by embedding
// applications through the extension.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Path is the badger data directory. Empty keeps badger in memory.
	Path string `mapstructure:"path" yaml:"path"`
}

// NATSConfig enables cross-instance live tails. Empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	Name          string `mapstructure:"name" yaml:"name"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "badger",
			Path:   "./data",
		},
		NATS: NATSConfig{
			Name:          "rewind",
			SubjectPrefix: "rewind.live",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Rewind: extension.DefaultConfig(),
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "badger":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q (want memory or badger)", c.Store.Driver))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr: required"))
	}
	if c.Rewind.SessionTimeout <= 0 {
		errs = append(errs, errors.New("rewind.session_timeout: must be positive"))
	}
	if c.Rewind.ReapInterval <= 0 {
		errs = append(errs, errors.New("rewind.reap_interval: must be positive"))
	}
	if c.Rewind.RateLimit < 0 {
		errs = append(errs, errors.New("rewind.rate_limit: must not be negative"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
