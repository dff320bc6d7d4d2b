package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/extension"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion and replay API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // best effort on shutdown
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	hub := feed.NewHub(
		feed.WithBuffer(cfg.Rewind.LiveBuffer),
		feed.WithLogger(logger),
		feed.WithSubscriberHook(func(delta int) { metrics.LiveSubscribers.Add(float64(delta)) }),
	)

	extOpts := []extension.ExtOption{
		extension.WithConfig(cfg.Rewind),
		extension.WithStore(st),
		extension.WithLogger(logger),
		extension.WithHub(hub),
		extension.WithRewindOption(rewind.WithMetrics(metrics)),
		extension.WithRewindOption(rewind.WithTracer(observability.NewTracer())),
	}

	var bridge *feed.NATSBridge
	if cfg.NATS.URL != "" {
		nc, err := feed.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			return err
		}
		defer nc.Close()
		bridge = feed.NewNATSBridge(nc, hub,
			feed.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			feed.WithBridgeLogger(logger),
		)
		extOpts = append(extOpts, extension.WithRewindOption(rewind.WithFeed(bridge)))
	}

	ext := extension.New(extOpts...)
	api, err := ext.Handler()
	if err != nil {
		return err
	}

	prefix := strings.TrimSuffix(ext.Prefix(), "/")
	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, api))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	tree := suture.New("rewind", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: logger}).MustHook(),
		Timeout:   cfg.Server.ShutdownTimeout,
	})
	tree.Add(&httpService{
		srv: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.Add(&engineService{ext: ext})
	if bridge != nil {
		tree.Add(&bridgeService{bridge: bridge})
	}

	logger.Info("rewind listening",
		"addr", cfg.Server.Addr,
		"prefix", prefix,
		"store", cfg.Store.Driver,
		"nats", cfg.NATS.URL != "",
	)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
