package rewind

import (
	"time"

	"github.com/xraph/rewind/signal"
)

// Config holds the configuration for a Rewind instance.
type Config struct {
	// SessionTimeout closes sessions that received no batch for this long.
	SessionTimeout time.Duration `json:"session_timeout" yaml:"session_timeout" mapstructure:"session_timeout"`

	// ReapInterval is how often the reaper looks for idle sessions.
	ReapInterval time.Duration `json:"reap_interval" yaml:"reap_interval" mapstructure:"reap_interval"`

	// ReapBatchSize is the maximum number of sessions closed per reap cycle.
	ReapBatchSize int `json:"reap_batch_size" yaml:"reap_batch_size" mapstructure:"reap_batch_size"`

	// RetentionInterval is how often project retention is enforced. Zero
	// disables the retention sweep.
	RetentionInterval time.Duration `json:"retention_interval" yaml:"retention_interval" mapstructure:"retention_interval"`

	// InlineSignals materializes error groups and rage-click flags while
	// ingesting. When off, signals are only computed on read.
	InlineSignals bool `json:"inline_signals" yaml:"inline_signals" mapstructure:"inline_signals"`

	// StrictCatalog quarantines custom events without a definition.
	StrictCatalog bool `json:"strict_catalog" yaml:"strict_catalog" mapstructure:"strict_catalog"`

	// CacheTTL is the TTL for the catalog's in-memory definition cache.
	// Set to 0 to cache until invalidated.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// RateLimit is the per-session events-per-second limit applied to
	// projects that do not set their own. 0 means unlimited.
	RateLimit int `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// Signals holds the detector thresholds.
	Signals signal.Config `json:"signals" yaml:"signals" mapstructure:"signals"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:    30 * time.Minute,
		ReapInterval:      time.Minute,
		ReapBatchSize:     100,
		RetentionInterval: time.Hour,
		InlineSignals:     true,
		CacheTTL:          30 * time.Second,
		Signals:           signal.DefaultConfig(),
	}
}
