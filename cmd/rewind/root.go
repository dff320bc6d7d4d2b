package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/rewind/internal/config"
	"github.com/xraph/rewind/store"
	"github.com/xraph/rewind/store/badger"
	"github.com/xraph/rewind/store/memory"
)

// cfg holds the loaded configuration, populated in PersistentPreRunE.
var cfg *config.Config

// logger is built from cfg.Log.
var logger *slog.Logger

var configPath string

var rootCmd = &cobra.Command{
	Use:           "rewind",
	Short:         "Record, store and replay browser sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger = newLogger(c.Log)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $"+config.PathEnvVar+")")
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rewind:", err)
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openStore opens the configured backend. Badger holds an exclusive lock
// on its directory, so offline commands cannot share it with a running
// server.
func openStore(c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "memory":
		return memory.New(), nil
	case "badger":
		s, err := badger.Open(c.Path, badger.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open badger store at %q: %w", c.Path, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", c.Driver)
	}
}
