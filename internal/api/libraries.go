// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"errors"
	"net/http"

	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

func (router *Router) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	libraries, err := router.db.ListLibraries(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(libraries)
}

// handleScanLibrary enqueues a full walk of one library. Dedupes against
// an already-queued scan of the same library.
func (router *Router) handleScanLibrary(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id, ok := pathID(rw, r)
	if !ok {
		return
	}
	library, err := router.db.GetLibrary(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		rw.NotFound("library not found")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if !library.Enabled {
		rw.Conflict("library is disabled")
		return
	}

	job, enqueued, err := router.store.Insert(r.Context(), queue.Spec{
		Type:      models.JobLibraryScan,
		Priority:  models.PriorityHigh,
		Payload:   queue.LibraryPayload{LibraryID: id},
		DedupeKey: queue.EntityDedupeKey("library", id),
	})
	if err != nil {
		rw.InternalError(err)
		return
	}
	if !enqueued {
		rw.Conflict("a scan of this library is already queued")
		return
	}
	rw.Accepted(map[string]any{"job_id": job.ID})
}
