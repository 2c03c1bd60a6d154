// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package main is the Metarr server entry point.
//
// Startup order: configuration, logging, SQLite store, event bus, the
// workflow engine with its job queue, the cron scheduler, the websocket
// hub, and finally the HTTP surface. Everything long-running is placed
// under a suture supervisor tree so a crashing component restarts in
// isolation; SIGINT/SIGTERM cancel the tree's context for a graceful
// drain.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/metarr/metarr/internal/api"
	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/notify"
	"github.com/metarr/metarr/internal/provider"
	"github.com/metarr/metarr/internal/publish"
	"github.com/metarr/metarr/internal/queue"
	"github.com/metarr/metarr/internal/scan"
	"github.com/metarr/metarr/internal/scheduler"
	"github.com/metarr/metarr/internal/settings"
	"github.com/metarr/metarr/internal/supervisor"
	"github.com/metarr/metarr/internal/verify"
	"github.com/metarr/metarr/internal/websocket"
	"github.com/metarr/metarr/internal/workflow"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("loading configuration")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("starting metarr")
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("opening database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("closing database")
		}
	}()

	st := settings.NewService(db)
	defer st.Close()

	bus := events.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("closing event bus")
		}
	}()

	store := queue.NewStore(db)
	scanner := scan.NewScanner(cfg.Paths, db, bus)
	orchestrator := provider.NewOrchestrator(cfg.Providers, db, bus)

	language := cfg.Providers.TMDB.Language
	if language == "" {
		language = "en"
	}
	pipeline := enrich.NewPipeline(cfg.Enrich, cfg.Paths, language, db, orchestrator, st, bus)
	bulk := enrich.NewBulk(cfg.Enrich, db, store, bus)
	verifier := verify.NewVerifier(cfg.Verify, cfg.Paths, db, st, bus)
	publisher := publish.NewPublisher(db, bus)
	notifier := notify.NewService(cfg.Notify)

	registry := queue.NewRegistry()
	engine := workflow.New(cfg, db, store, scanner, orchestrator, pipeline,
		bulk, verifier, publisher, notifier, st, bus)
	engine.Register(registry)

	// Stage toggles persisted in settings are applied before the pool
	// starts, so a disabled stage stays disabled across restarts.
	for key, jobTypes := range settings.ToggleJobTypes {
		on, err := st.Bool(context.Background(), key)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("reading stage toggle")
			continue
		}
		for _, jt := range jobTypes {
			registry.SetEnabled(jt, on)
		}
	}

	pool := queue.NewPool(store, registry, bus, metrics.Recorder{}, queue.PoolConfig{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		JobTimeout:   cfg.Queue.JobTimeout,
		DrainTimeout: cfg.Queue.DrainTimeout,
	})

	sched := scheduler.New(cfg.Scheduler, store)
	hub := websocket.NewHub()
	subscriber := websocket.NewSubscriber(bus, hub)

	router := api.New(cfg.Server, db, store, registry, sched, bulk, st, hub)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddDataService(pool)
	tree.AddWorkerService(supervisor.NewCronService(sched))
	tree.AddMessagingService(hub)
	tree.AddMessagingService(subscriber)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, supervisor.DefaultTreeConfig().ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", cfg.Server.Addr()).Msg("serving")
	if err := tree.Serve(ctx); err != nil && err != context.Canceled {
		logging.Error().Err(err).Msg("supervisor tree exited")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
