package extension

import (
	"time"

	"github.com/xraph/rewind"
)

// Config holds configuration for the Rewind Forge extension.
// Fields can be set programmatically via ExtOption functions or loaded from
// YAML configuration files (under "extensions.rewind" or "rewind" keys).
type Config struct {
	// Config embeds the core rewind configuration.
	rewind.Config `json:",inline" yaml:",inline" mapstructure:",squash"`

	// BasePath is the URL prefix for all rewind routes (default: "/rewind").
	BasePath string `json:"base_path" yaml:"base_path" mapstructure:"base_path"`

	// DisableRoutes disables automatic route registration with the Forge router.
	DisableRoutes bool `json:"disable_routes" yaml:"disable_routes" mapstructure:"disable_routes"`

	// RequireSignature rejects uploads without a valid HMAC signature.
	RequireSignature bool `json:"require_signature" yaml:"require_signature" mapstructure:"require_signature"`

	// SignatureTolerance bounds clock skew on signed uploads.
	SignatureTolerance time.Duration `json:"signature_tolerance" yaml:"signature_tolerance" mapstructure:"signature_tolerance"`

	// MaxBodyBytes bounds one uploaded batch.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes" mapstructure:"max_body_bytes"`

	// LiveBuffer is the number of undelivered batches a live viewer may
	// lag behind before deliveries are dropped. Zero disables the live tail.
	LiveBuffer int `json:"live_buffer" yaml:"live_buffer" mapstructure:"live_buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Config:             rewind.DefaultConfig(),
		BasePath:           "/rewind",
		SignatureTolerance: 5 * time.Minute,
		MaxBodyBytes:       4 << 20,
		LiveBuffer:         64,
	}
}

// ToRewindOptions converts the embedded Config into rewind.Option values.
// Zero fields keep the engine defaults.
func (c Config) ToRewindOptions() []rewind.Option {
	var opts []rewind.Option

	if c.SessionTimeout > 0 {
		opts = append(opts, rewind.WithSessionTimeout(c.SessionTimeout))
	}
	if c.ReapInterval > 0 {
		opts = append(opts, rewind.WithReapInterval(c.ReapInterval))
	}
	if c.CacheTTL > time.Duration(0) {
		opts = append(opts, rewind.WithCacheTTL(c.CacheTTL))
	}
	if c.RateLimit > 0 {
		opts = append(opts, rewind.WithRateLimit(c.RateLimit))
	}
	if c.Signals.RageClick.MinClicks > 0 || len(c.Signals.ScrollThresholds) > 0 {
		opts = append(opts, rewind.WithSignalConfig(c.Signals))
	}
	opts = append(opts,
		rewind.WithInlineSignals(c.InlineSignals),
		rewind.WithStrictCatalog(c.StrictCatalog),
	)

	return opts
}
