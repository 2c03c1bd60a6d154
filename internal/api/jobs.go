// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"errors"
	"net/http"

	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

var jobStates = map[string]models.JobState{
	"pending":    models.JobPending,
	"claimed":    models.JobClaimed,
	"processing": models.JobProcessing,
	"retrying":   models.JobRetrying,
	"completed":  models.JobCompleted,
	"failed":     models.JobFailed,
	"cancelled":  models.JobCancelled,
}

func (router *Router) handleListJobs(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var state models.JobState
	if raw := r.URL.Query().Get("state"); raw != "" {
		s, ok := jobStates[raw]
		if !ok {
			rw.BadRequest("unknown job state")
			return
		}
		state = s
	}

	limit := queryInt(r, "limit", defaultPageLimit)
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	jobs, err := router.store.List(r.Context(), state, limit)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.SuccessWithPagination(jobs, &PaginationMeta{
		Count:   len(jobs),
		Limit:   limit,
		HasMore: len(jobs) == limit,
	})
}

// handleJobStats returns per-state counts and refreshes the queue depth
// gauges as a side effect, so scraping /metrics right after stays
// consistent with what the caller saw.
func (router *Router) handleJobStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := router.store.Stats(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	metrics.SetQueueDepth(stats)
	rw.Success(stats)
}

func (router *Router) handleGetJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	job, err := router.store.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("job not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(job)
}

func (router *Router) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	err := router.store.Cancel(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("job not found")
		return
	}
	if errors.Is(err, queue.ErrNotCancellable) {
		rw.Conflict("job is not in a cancellable state")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.NoContent()
}
