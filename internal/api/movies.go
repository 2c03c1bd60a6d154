// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (router *Router) handleListMovies(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	limit := queryInt(r, "limit", defaultPageLimit)
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	movies, err := router.db.ListMovies(r.Context(), limit, offset)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	total, err := router.db.CountMovies(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.SuccessWithPagination(movies, &PaginationMeta{
		Total:   total,
		Count:   len(movies),
		Offset:  offset,
		Limit:   limit,
		HasMore: int64(offset+len(movies)) < total,
	})
}

func (router *Router) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	movie, err := router.db.GetMovie(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("movie not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	cast, err := router.db.ListCast(r.Context(), models.KindMovie, id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	ratings, err := router.db.ListRatings(r.Context(), models.KindMovie, id)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(map[string]any{
		"movie":   movie,
		"cast":    cast,
		"ratings": ratings,
	})
}

// triggerJobTypes maps the manual trigger actions onto the job each one
// enqueues. Enrich enters at the fetch stage so candidates are refreshed
// before scoring.
var triggerJobTypes = map[string]models.JobType{
	"scan":    models.JobScanMovie,
	"enrich":  models.JobFetchProviderAssets,
	"publish": models.JobPublish,
	"verify":  models.JobVerifyMovie,
}

// trigger returns a handler that enqueues one manual workflow job for a
// movie. Manual jobs run at high priority and bypass the library's
// automation gates; ?force=true additionally ignores the provider cache.
func (router *Router) trigger(action string) http.HandlerFunc {
	jobType := triggerJobTypes[action]
	return func(w http.ResponseWriter, r *http.Request) {
		rw := NewResponseWriter(w, r)

		id, ok := pathID(rw, r)
		if !ok {
			return
		}
		if _, err := router.db.GetMovie(r.Context(), id); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				rw.NotFound("movie not found")
			} else {
				rw.DatabaseError(err)
			}
			return
		}

		job, enqueued, err := router.store.Insert(r.Context(), queue.Spec{
			Type:     jobType,
			Priority: models.PriorityHigh,
			Payload: queue.EntityPayload{
				EntityKind:   models.KindMovie,
				EntityID:     id,
				Manual:       true,
				ForceRefresh: r.URL.Query().Get("force") == "true",
			},
			DedupeKey: queue.EntityDedupeKey(models.KindMovie, id),
		})
		if err != nil {
			rw.InternalError(err)
			return
		}
		if !enqueued {
			rw.Conflict("a job for this movie is already queued")
			return
		}
		rw.Accepted(map[string]any{"job_id": job.ID, "type": job.Type})
	}
}

func pathID(rw *ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		rw.BadRequest("invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
