package rewind

import (
	"context"

	"github.com/xraph/rewind/catalog"
	"github.com/xraph/rewind/internal/keylock"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/ratelimit"
	"github.com/xraph/rewind/recorder"
	"github.com/xraph/rewind/signal"
	"github.com/xraph/rewind/store"
)

// wireServices initializes the internal services after options have been applied.
func (r *Rewind) wireServices() {
	r.catalog = catalog.NewCatalog(r.store, catalog.Config{
		CacheTTL: r.config.CacheTTL,
		Strict:   r.config.StrictCatalog,
	}, r.logger)

	r.projects = project.NewService(r.store, r.logger)

	r.quarantine = quarantine.NewService(r.store, r.logger)

	r.signals = signal.NewService(r.store, r.store, r.store, r.config.Signals, r.logger)

	r.limiter = ratelimit.New(ratelimit.WithClock(r.now))

	r.locks = keylock.New()

	r.reaper = newReaper(r)
}

// Start begins the idle-session reaper and retention sweep.
func (r *Rewind) Start(ctx context.Context) {
	r.reaper.start(ctx)
}

// Stop halts the reaper and waits for an in-flight cycle to finish.
func (r *Rewind) Stop(ctx context.Context) {
	r.reaper.stop(ctx)
}

// Config returns the effective configuration.
func (r *Rewind) Config() Config {
	return r.config
}

// Catalog returns the custom event catalog.
func (r *Rewind) Catalog() *catalog.Catalog {
	return r.catalog
}

// Projects returns the project management service.
func (r *Rewind) Projects() *project.Service {
	return r.projects
}

// Quarantine returns the quarantine service.
func (r *Rewind) Quarantine() *quarantine.Service {
	return r.quarantine
}

// Signals returns the signal service.
func (r *Rewind) Signals() *signal.Service {
	return r.signals
}

// Store returns the underlying store.
func (r *Rewind) Store() store.Store {
	return r.store
}

// RecorderSettings is what a client fetches before it starts capturing.
type RecorderSettings struct {
	Project  project.Settings `json:"project"`
	Recorder recorder.Config  `json:"recorder"`
}

// RecorderConfig resolves an ingest key to the recording settings clients
// apply. Project settings can only tighten capture, never relax it.
func (r *Rewind) RecorderConfig(ctx context.Context, key string) (*RecorderSettings, error) {
	p, err := r.projects.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	settings := p.Settings()
	return &RecorderSettings{
		Project:  settings,
		Recorder: settings.Apply(recorder.DefaultConfig()),
	}, nil
}
