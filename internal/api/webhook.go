// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// webhookRequest is the provider-agnostic downloader notification. Radarr
// and Sonarr both produce this shape natively.
type webhookRequest struct {
	Source    string `json:"source"`
	EventType string `json:"eventType"`
	Movie     *struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Year       int    `json:"year"`
		Path       string `json:"path"`
		FolderPath string `json:"folderPath"`
		TmdbID     int64  `json:"tmdbId"`
		ImdbID     string `json:"imdbId"`
	} `json:"movie"`
}

// handleWebhook authenticates the caller, then turns a Download event
// into a webhook-received job. Test events are acknowledged without
// enqueueing so downloaders can validate their connection settings.
func (router *Router) handleWebhook(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if router.cfg.WebhookSecret != "" {
		got := r.Header.Get("X-Webhook-Secret")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(router.cfg.WebhookSecret)) != 1 {
			rw.Unauthorized("invalid webhook secret")
			return
		}
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("malformed webhook payload")
		return
	}
	if req.Source == "" {
		req.Source = "unknown"
	}

	log := logging.Ctx(r.Context()).With().
		Str("source", req.Source).Str("event_type", req.EventType).Logger()

	if req.EventType == "Test" {
		log.Info().Msg("webhook connection test")
		rw.Success(map[string]string{"status": "ok"})
		return
	}
	if req.EventType != "Download" || req.Movie == nil {
		log.Debug().Msg("ignoring webhook event")
		rw.Success(map[string]string{"status": "ignored"})
		return
	}

	path := req.Movie.FolderPath
	if path == "" {
		path = req.Movie.Path
	}
	if path == "" {
		rw.ValidationError("movie path missing", map[string]string{"movie.folderPath": "required"})
		return
	}

	job, enqueued, err := router.store.Insert(r.Context(), queue.Spec{
		Type:     models.JobWebhookReceived,
		Priority: models.PriorityHigh,
		Payload: queue.WebhookPayload{
			Source:    req.Source,
			EventType: req.EventType,
			MoviePath: path,
			Title:     req.Movie.Title,
			Year:      req.Movie.Year,
			TmdbID:    req.Movie.TmdbID,
			ImdbID:    req.Movie.ImdbID,
		},
		DedupeKey: "webhook:" + path,
	})
	if err != nil {
		rw.InternalError(err)
		return
	}

	log.Info().Int64("job_id", job.ID).Bool("enqueued", enqueued).
		Str("movie_path", path).Msg("webhook accepted")
	rw.Accepted(map[string]any{"job_id": job.ID, "enqueued": enqueued})
}
