// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package workflow

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// handleScheduledFileScan fans out one library-scan job per enabled
// library. Dedupe keys keep a slow scan from stacking behind itself.
func (w *Workflow) handleScheduledFileScan(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.SchedulePayload)
	libraries, err := w.db.ListLibraries(ctx)
	if err != nil {
		return err
	}
	for i := range libraries {
		l := &libraries[i]
		if !l.Enabled {
			continue
		}
		if p.LibraryID != 0 && l.ID != p.LibraryID {
			continue
		}
		w.enqueue(ctx, queue.Spec{
			Type:        models.JobLibraryScan,
			Priority:    models.PriorityScheduled,
			Payload:     queue.LibraryPayload{LibraryID: l.ID},
			ParentJobID: parentID(job),
			DedupeKey:   queue.EntityDedupeKey("library", l.ID),
		})
	}
	return nil
}

// handleScheduledProviderUpdate re-checks providers for movies whose last
// check is older than the freshness interval.
func (w *Workflow) handleScheduledProviderUpdate(ctx context.Context, job *models.Job, _ any) error {
	interval := w.cfg.Providers.FreshnessInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-interval)
	movies, err := w.db.ListMoviesCheckedBefore(ctx, "tmdb", cutoff)
	if err != nil {
		return err
	}
	for i := range movies {
		m := &movies[i]
		if !m.Monitored {
			continue
		}
		w.enqueueEntity(ctx, models.JobFetchProviderAssets, job, queue.EntityPayload{
			EntityKind: models.KindMovie,
			EntityID:   m.ID,
		}, models.PriorityScheduled)
	}
	logging.Ctx(ctx).Info().Int("movies", len(movies)).
		Time("cutoff", cutoff).Msg("provider update sweep enqueued")
	return nil
}

// handleScheduledBulkEnrich kicks off a library-wide enrichment sweep. A
// sweep already in progress makes the tick a no-op rather than an error.
func (w *Workflow) handleScheduledBulkEnrich(ctx context.Context, _ *models.Job, _ any) error {
	run, err := w.bulk.Start(ctx)
	if errors.Is(err, enrich.ErrBulkRunning) {
		logging.Ctx(ctx).Info().Msg("bulk enrichment already running, scheduled sweep skipped")
		return nil
	}
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Int64("run_id", run.ID).Int("total", run.Total).
		Msg("scheduled bulk enrichment started")
	return nil
}

// handleScheduledCleanup trims terminal jobs, expired provider cache rows
// and cache files no candidate references anymore.
func (w *Workflow) handleScheduledCleanup(ctx context.Context, _ *models.Job, _ any) error {
	log := logging.Ctx(ctx)

	jobs, err := w.store.Cleanup(ctx, w.cfg.Queue.CompletedRetention, w.cfg.Queue.FailedRetention)
	if err != nil {
		return err
	}

	cacheTTL := w.cfg.Providers.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	pruned, err := w.db.PruneProviderCache(ctx, cacheTTL)
	if err != nil {
		return err
	}

	orphans, err := w.db.ListOrphanCacheFiles(ctx)
	if err != nil {
		return err
	}
	var swept int
	for _, f := range orphans {
		if err := os.Remove(f.FilePath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", f.FilePath).Msg("orphan cache file not removed")
			continue
		}
		if err := w.db.DeleteCacheFile(ctx, f.ID); err != nil {
			return err
		}
		swept++
	}

	log.Info().Int64("jobs", jobs).Int64("provider_cache", pruned).
		Int("orphan_files", swept).Msg("cleanup done")
	return nil
}
