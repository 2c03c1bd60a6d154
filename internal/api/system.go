// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	gorillaws "github.com/gorilla/websocket"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/websocket"
)

// handleHealthz pings the database; anything else worth failing health
// over would already have taken the process down.
func (router *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := router.db.SQL().PingContext(r.Context()); err != nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeDatabaseError, "database unreachable")
		return
	}
	rw.Success(map[string]string{"status": "ok"})
}

// schedulerTasks maps the run-now task names onto their scheduled job.
var schedulerTasks = map[string]models.JobType{
	"file-scan":       models.JobScheduledFileScan,
	"provider-update": models.JobScheduledProviderUpdate,
	"cleanup":         models.JobScheduledCleanup,
	"bulk-enrich":     models.JobScheduledBulkEnrich,
}

// handleSchedulerRun fires one scheduled task immediately, outside its
// cron cadence.
func (router *Router) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	jobType, ok := schedulerTasks[chi.URLParam(r, "task")]
	if !ok {
		rw.NotFound("unknown scheduler task")
		return
	}
	enqueued, err := router.sched.Tick(r.Context(), jobType)
	if err != nil {
		rw.InternalError(err)
		return
	}
	if !enqueued {
		rw.Conflict("task already queued")
		return
	}
	rw.Accepted(map[string]any{"type": jobType})
}

// handleWS upgrades the connection and hands it to the hub. Origin is
// checked against the CORS allowlist; same-origin requests carry no
// Origin header and always pass.
func (router *Router) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     router.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(router.hub, conn)
	router.hub.Register <- client
	client.Start()
}

func (router *Router) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range router.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
