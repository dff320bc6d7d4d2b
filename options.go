package rewind

import (
	"log/slog"
	"time"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/internal/keylock"
	"github.com/xraph/rewind/observability"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/ratelimit"
	"github.com/xraph/rewind/signal"
	"github.com/xraph/rewind/store"
)

// Rewind is the root session capture and replay engine.
type Rewind struct {
	config     Config
	store      store.Store
	catalog    *catalog.Catalog
	projects   *project.Service
	quarantine *quarantine.Service
	signals    *signal.Service
	limiter    *ratelimit.Limiter
	locks      *keylock.Map
	feed       feed.Publisher
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
	now        func() time.Time

	reaper *reaper
}

// Option configures a Rewind instance.
type Option func(*Rewind) error

// New creates a new Rewind with the given options.
func New(opts ...Option) (*Rewind, error) {
	r := &Rewind{
		config: DefaultConfig(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.store == nil {
		return nil, ErrNoStore
	}
	r.wireServices()
	return r, nil
}

// WithStore sets the persistence backend for the Rewind instance.
func WithStore(s store.Store) Option {
	return func(r *Rewind) error {
		r.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the Rewind instance.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rewind) error {
		r.logger = logger
		return nil
	}
}

// WithConfig replaces the whole configuration. Options applied after it
// still override individual fields.
func WithConfig(cfg Config) Option {
	return func(r *Rewind) error {
		r.config = cfg
		return nil
	}
}

// WithMetrics records ingestion metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Rewind) error {
		r.metrics = m
		return nil
	}
}

// WithTracer traces ingestion and rebuilds with t.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Rewind) error {
		r.tracer = t
		return nil
	}
}

// WithFeed publishes appended events to p, typically a *feed.Hub or a
// *feed.NATSBridge.
func WithFeed(p feed.Publisher) Option {
	return func(r *Rewind) error {
		r.feed = p
		return nil
	}
}

// WithSignalConfig sets the signal detector thresholds.
func WithSignalConfig(cfg signal.Config) Option {
	return func(r *Rewind) error {
		r.config.Signals = cfg
		return nil
	}
}

// WithSessionTimeout sets how long a session may stay idle before the
// reaper closes it.
func WithSessionTimeout(d time.Duration) Option {
	return func(r *Rewind) error {
		r.config.SessionTimeout = d
		return nil
	}
}

// WithReapInterval sets how often the reaper looks for idle sessions.
func WithReapInterval(d time.Duration) Option {
	return func(r *Rewind) error {
		r.config.ReapInterval = d
		return nil
	}
}

// WithInlineSignals toggles signal materialization during ingestion.
func WithInlineSignals(on bool) Option {
	return func(r *Rewind) error {
		r.config.InlineSignals = on
		return nil
	}
}

// WithStrictCatalog quarantines custom events that have no definition.
func WithStrictCatalog(on bool) Option {
	return func(r *Rewind) error {
		r.config.StrictCatalog = on
		return nil
	}
}

// WithCacheTTL sets the TTL for the catalog's in-memory definition cache.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Rewind) error {
		r.config.CacheTTL = d
		return nil
	}
}

// WithRateLimit sets the default per-session events-per-second limit.
func WithRateLimit(perSecond int) Option {
	return func(r *Rewind) error {
		r.config.RateLimit = perSecond
		return nil
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Rewind) error {
		r.now = func() time.Time { return now().UTC() }
		return nil
	}
}
