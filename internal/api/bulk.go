// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package api

import (
	"errors"
	"net/http"

	"github.com/metarr/metarr/internal/enrich"
)

func (router *Router) handleBulkStart(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	run, err := router.bulk.Start(r.Context())
	if errors.Is(err, enrich.ErrBulkRunning) {
		rw.Conflict("bulk enrichment already running")
		return
	}
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Accepted(run)
}

func (router *Router) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	run, err := router.bulk.Status(r.Context())
	if errors.Is(err, enrich.ErrBulkNotRunning) {
		rw.NotFound("no bulk enrichment running")
		return
	}
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(run)
}

func (router *Router) handleBulkStop(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	run, err := router.bulk.Stop(r.Context())
	if errors.Is(err, enrich.ErrBulkNotRunning) {
		rw.NotFound("no bulk enrichment running")
		return
	}
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(run)
}
