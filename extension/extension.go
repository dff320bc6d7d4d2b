package extension

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/api"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/signature"
)

// Extension mounts Rewind into a Forge application.
type Extension struct {
	config Config
	opts   []rewind.Option
	logger *slog.Logger

	rw  *rewind.Rewind
	hub *feed.Hub
}

// New creates a new Rewind Forge extension.
func New(opts ...ExtOption) *Extension {
	e := &Extension{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init builds the engine. It is idempotent.
func (e *Extension) Init() (*rewind.Rewind, error) {
	if e.rw != nil {
		return e.rw, nil
	}

	opts := append([]rewind.Option{rewind.WithLogger(e.logger)}, e.config.ToRewindOptions()...)
	if e.hub == nil && e.config.LiveBuffer > 0 {
		e.hub = feed.NewHub(feed.WithBuffer(e.config.LiveBuffer), feed.WithLogger(e.logger))
	}
	if e.hub != nil {
		opts = append(opts, rewind.WithFeed(e.hub))
	}
	opts = append(opts, e.opts...)

	rw, err := rewind.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("rewind extension: %w", err)
	}
	e.rw = rw
	return rw, nil
}

// Rewind returns the engine, nil before Init.
func (e *Extension) Rewind() *rewind.Rewind { return e.rw }

// Hub returns the live feed hub, nil when the live tail is disabled.
func (e *Extension) Hub() *feed.Hub { return e.hub }

// Handler returns the plain HTTP API, including ingestion and the live
// tail. It can be used standalone without Forge.
func (e *Extension) Handler() (http.Handler, error) {
	rw, err := e.Init()
	if err != nil {
		return nil, err
	}

	var hopts []api.HandlerOption
	if e.hub != nil {
		hopts = append(hopts, api.WithHub(e.hub))
	}
	if e.config.RequireSignature {
		hopts = append(hopts, api.WithVerifier(signature.NewVerifier(e.config.SignatureTolerance)))
	}
	if e.config.MaxBodyBytes > 0 {
		hopts = append(hopts, api.WithMaxBodyBytes(e.config.MaxBodyBytes))
	}
	return api.NewHandler(rw, e.logger, hopts...), nil
}

// RegisterRoutes mounts the admin API with OpenAPI metadata on a Forge
// router. Ingestion and the live tail come from Handler.
func (e *Extension) RegisterRoutes(router forge.Router, log forge.Logger) error {
	if e.config.DisableRoutes {
		return nil
	}
	rw, err := e.Init()
	if err != nil {
		return err
	}
	api.NewForgeAPI(rw, log).RegisterRoutes(router.Group(e.config.BasePath))
	return nil
}

// Start launches the reaper.
func (e *Extension) Start(ctx context.Context) error {
	rw, err := e.Init()
	if err != nil {
		return err
	}
	rw.Start(ctx)
	return nil
}

// Stop halts background work and closes live viewers.
func (e *Extension) Stop(ctx context.Context) error {
	if e.rw != nil {
		e.rw.Stop(ctx)
	}
	if e.hub != nil {
		e.hub.Close()
	}
	return nil
}

// Prefix returns the configured URL prefix.
func (e *Extension) Prefix() string { return e.config.BasePath }

// Config returns the extension configuration.
func (e *Extension) Config() Config { return e.config }
