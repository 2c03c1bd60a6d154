// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// HTTPServer is the slice of *http.Server the wrapper needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService adapts the blocking ListenAndServe pattern to suture's
// context-aware Serve.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *HTTPService) String() string { return "http-server" }

// Serve runs the listener until ctx is cancelled, then drains connections
// within the shutdown timeout. http.ErrServerClosed is the normal exit.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return ctx.Err()
	}
}

// CronRunner is the scheduler's lifecycle surface.
type CronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// CronService runs a cron-backed scheduler as a supervised service. The
// cron library manages its own goroutines, so Serve just parks on the
// context after a successful start.
type CronService struct {
	runner CronRunner
}

func NewCronService(runner CronRunner) *CronService {
	return &CronService{runner: runner}
}

func (s *CronService) String() string { return "scheduler" }

func (s *CronService) Serve(ctx context.Context) error {
	if err := s.runner.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.runner.Stop()
	return ctx.Err()
}
