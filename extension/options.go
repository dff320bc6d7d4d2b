package extension

import (
	"log/slog"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/store"
)

// ExtOption configures the Rewind Forge extension.
type ExtOption func(*Extension)

// WithStore sets the persistence backend via a rewind option.
func WithStore(s store.Store) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, rewind.WithStore(s))
	}
}

// WithPrefix sets the URL prefix for all rewind routes.
func WithPrefix(prefix string) ExtOption {
	return func(e *Extension) {
		e.config.BasePath = prefix
	}
}

// WithConfig sets the extension configuration directly.
func WithConfig(cfg Config) ExtOption {
	return func(e *Extension) {
		e.config = cfg
	}
}

// WithLogger sets the logger shared by the engine and the HTTP handlers.
func WithLogger(l *slog.Logger) ExtOption {
	return func(e *Extension) {
		e.logger = l
	}
}

// WithRewindOption appends a raw rewind.Option to the extension.
func WithRewindOption(opt rewind.Option) ExtOption {
	return func(e *Extension) {
		e.opts = append(e.opts, opt)
	}
}

// WithDisableRoutes disables automatic route registration.
func WithDisableRoutes() ExtOption {
	return func(e *Extension) {
		e.config.DisableRoutes = true
	}
}

// WithHub serves the live tail from an existing hub instead of creating
// one. Pair it with a rewind.WithFeed option when appends are published
// through a bridge.
func WithHub(h *feed.Hub) ExtOption {
	return func(e *Extension) {
		e.hub = h
	}
}
