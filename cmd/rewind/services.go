package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/rewind/extension"
	"github.com/xraph/rewind/feed"
)

// httpService runs the API server under the supervisor.
type httpService struct {
	srv             *http.Server
	shutdownTimeout time.Duration
}

// Serve implements suture.Service.
func (s *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return ctx.Err()
}

func (s *httpService) String() string { return "http-server" }

// engineService runs the idle-session reaper and retention sweep.
type engineService struct {
	ext *extension.Extension
}

// Serve implements suture.Service.
func (s *engineService) Serve(ctx context.Context) error {
	if err := s.ext.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ext.Stop(stopCtx); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *engineService) String() string { return "rewind-engine" }

// bridgeService relays live events between instances over NATS.
type bridgeService struct {
	bridge *feed.NATSBridge
}

// Serve implements suture.Service.
func (s *bridgeService) Serve(ctx context.Context) error {
	return s.bridge.Serve(ctx)
}

func (s *bridgeService) String() string { return "nats-bridge" }
