// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/middleware"
	"github.com/metarr/metarr/internal/queue"
	"github.com/metarr/metarr/internal/scheduler"
	"github.com/metarr/metarr/internal/settings"
	"github.com/metarr/metarr/internal/websocket"
)

// Router wires the HTTP surface to the stores and services behind it.
type Router struct {
	cfg      config.ServerConfig
	db       *database.DB
	store    *queue.Store
	registry *queue.Registry
	sched    *scheduler.Scheduler
	bulk     *enrich.Bulk
	settings *settings.Service
	hub      *websocket.Hub
}

// New builds the router. hub and sched may be nil in tests; the routes
// that need them fail with 500 instead of panicking.
func New(cfg config.ServerConfig, db *database.DB, store *queue.Store, registry *queue.Registry, sched *scheduler.Scheduler, bulk *enrich.Bulk, st *settings.Service, hub *websocket.Hub) *Router {
	return &Router{cfg: cfg, db: db, store: store, registry: registry, sched: sched, bulk: bulk, settings: st, hub: hub}
}

// Setup assembles the chi route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Webhook-Secret"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", router.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", router.handleWS)

	// Webhook intake gets its own strict limit: downloaders retry
	// aggressively and a misconfigured one must not starve the API.
	r.Route("/api/v1/webhook", func(r chi.Router) {
		r.Use(httprate.LimitByIP(60, router.rateWindow()))
		r.Use(middleware.Metrics)
		r.Post("/", router.handleWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.rateLimit(), router.rateWindow()))
		r.Use(middleware.Metrics)

		r.Get("/movies", router.handleListMovies)
		r.Get("/movies/{id}", router.handleGetMovie)
		r.Post("/movies/{id}/scan", router.trigger("scan"))
		r.Post("/movies/{id}/enrich", router.trigger("enrich"))
		r.Post("/movies/{id}/publish", router.trigger("publish"))
		r.Post("/movies/{id}/verify", router.trigger("verify"))

		r.Get("/jobs", router.handleListJobs)
		r.Get("/jobs/stats", router.handleJobStats)
		r.Get("/jobs/{id}", router.handleGetJob)
		r.Delete("/jobs/{id}", router.handleCancelJob)

		r.Get("/libraries", router.handleListLibraries)
		r.Post("/libraries/{id}/scan", router.handleScanLibrary)

		r.Get("/settings", router.handleGetSettings)
		r.Put("/settings/{key}", router.handlePutSetting)

		r.Post("/bulk/enrich", router.handleBulkStart)
		r.Get("/bulk/enrich", router.handleBulkStatus)
		r.Delete("/bulk/enrich", router.handleBulkStop)

		r.Post("/scheduler/{task}/run", router.handleSchedulerRun)
	})

	return r
}

func (router *Router) rateLimit() int {
	if router.cfg.RateLimitReqs > 0 {
		return router.cfg.RateLimitReqs
	}
	return 300
}

func (router *Router) rateWindow() time.Duration {
	if router.cfg.RateLimitWindow > 0 {
		return router.cfg.RateLimitWindow
	}
	return time.Minute
}
