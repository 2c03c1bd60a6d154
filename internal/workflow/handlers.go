// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package workflow

import (
	"context"
	"fmt"
	"os"

	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/notify"
	"github.com/metarr/metarr/internal/provider"
	"github.com/metarr/metarr/internal/queue"
	"github.com/metarr/metarr/internal/settings"
)

// handleWebhook resolves the notified path to a library, scans the movie
// directory and kicks off the chain. A path with no video file yet is
// transient: downloaders fire webhooks while the import is still moving
// files into place.
func (w *Workflow) handleWebhook(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.WebhookPayload)
	log := logging.Ctx(ctx)

	if p.MoviePath == "" {
		return queue.Validation(fmt.Errorf("webhook from %s has no movie path", p.Source))
	}
	path, library, err := w.scanner.ResolvePath(ctx, p.MoviePath)
	if err != nil {
		return err
	}
	if library == nil {
		return queue.Permanent(fmt.Errorf("path %s is outside every enabled library", path))
	}

	movie, found, err := w.scanner.ScanDirectory(ctx, library, path)
	if err != nil {
		return err
	}
	if !found {
		return queue.Transient(fmt.Errorf("no video file in %s yet", path))
	}

	// Webhook-supplied identifiers beat sidecar guesses when the scan came
	// up empty.
	if movie.TmdbID == 0 && p.TmdbID != 0 {
		movie.TmdbID = p.TmdbID
		movie.ImdbID = p.ImdbID
		movie.IdentificationStatus = models.StatusIdentified
		if err := w.db.UpdateMovie(ctx, movie); err != nil {
			return err
		}
	}

	log.Info().Str("source", p.Source).Int64("movie_id", movie.ID).
		Str("path", path).Msg("webhook accepted")
	w.enqueueEntity(ctx, models.JobDiscoverAssets, job, queue.EntityPayload{
		EntityKind: models.KindMovie,
		EntityID:   movie.ID,
	}, models.PriorityHigh)
	return nil
}

// handleScanMovie rescans one movie directory in place.
func (w *Workflow) handleScanMovie(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	library := w.library(ctx, movie)
	if library == nil {
		return queue.Permanent(fmt.Errorf("movie %d has no library", movie.ID))
	}

	if _, _, err := w.scanner.ScanDirectory(ctx, library, movie.Path); err != nil {
		return err
	}
	w.enqueueEntity(ctx, models.JobDiscoverAssets, job, queue.EntityPayload{
		EntityKind:   models.KindMovie,
		EntityID:     movie.ID,
		Manual:       p.Manual,
		ForceRefresh: p.ForceRefresh,
	}, job.Priority)
	return nil
}

// handleDiscoverAssets ingests local artwork into the cache, then moves to
// provider fetching when the enrich chain is open for this library.
func (w *Workflow) handleDiscoverAssets(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	if _, err := w.scanner.DiscoverAssets(ctx, movie); err != nil {
		return err
	}

	library := w.library(ctx, movie)
	if !p.Manual && !autoEnrich(library) {
		return nil
	}
	if !w.chainOn(ctx, settings.KeyChainEnrich) {
		return nil
	}
	w.enqueueEntity(ctx, models.JobFetchProviderAssets, job, queue.EntityPayload{
		EntityKind:   models.KindMovie,
		EntityID:     movie.ID,
		Manual:       p.Manual,
		ForceRefresh: p.ForceRefresh,
	}, job.Priority)
	return nil
}

// handleFetchProviderAssets warms the provider cache for the movie. The
// fetch result itself is not applied here; the enrichment stage reads the
// same cache and does the applying.
func (w *Workflow) handleFetchProviderAssets(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	ref := provider.MovieRef{
		TmdbID: movie.TmdbID,
		ImdbID: movie.ImdbID,
		Title:  movie.Title,
		Year:   movie.Year,
	}
	if ref.Empty() {
		return queue.Permanent(fmt.Errorf("movie %d has nothing to look up", movie.ID))
	}
	res, err := w.fetcher.FetchMovie(ctx, movie.ID, ref, p.ForceRefresh)
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Debug().Int64("movie_id", movie.ID).
		Str("source", string(res.Source)).Strs("providers", res.Providers).
		Msg("provider cache warmed")

	w.enqueueEntity(ctx, models.JobEnrichMetadata, job, *p, job.Priority)
	return nil
}

// handleEnrich runs the enrichment pipeline. For bulk-run members the
// outcome is folded into the run exactly once: on success, or on a failure
// that will not be retried.
func (w *Workflow) handleEnrich(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)

	if p.BulkRunID != 0 && w.bulk.Stopped(ctx, p.BulkRunID) {
		logging.Ctx(ctx).Debug().Int64("movie_id", p.EntityID).
			Int64("bulk_run_id", p.BulkRunID).Msg("bulk run stopped, skipping")
		return nil
	}

	res, err := w.pipeline.Run(ctx, p.EntityID, p.Manual, p.ForceRefresh)
	if err != nil {
		if p.BulkRunID != 0 && !queue.Classify(err).Retryable() {
			w.recordBulk(ctx, p.BulkRunID, enrich.Outcome{Skipped: true})
		}
		return err
	}
	if p.BulkRunID != 0 {
		w.recordBulk(ctx, p.BulkRunID, enrich.Outcome{
			Updated:     res.Changed,
			Skipped:     !res.Changed,
			RateLimited: res.RateLimited,
		})
	}
	if res.NoData {
		return nil
	}

	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	library := w.library(ctx, movie)
	if !p.Manual && !autoSelect(library) {
		return nil
	}
	if !w.chainOn(ctx, settings.KeyChainSelect) {
		return nil
	}
	w.enqueueEntity(ctx, models.JobSelectAssets, job, queue.EntityPayload{
		EntityKind: models.KindMovie,
		EntityID:   movie.ID,
		Manual:     p.Manual,
		AssetTypes: p.AssetTypes,
		BulkRunID:  p.BulkRunID,
	}, job.Priority)
	return nil
}

func (w *Workflow) recordBulk(ctx context.Context, runID int64, o enrich.Outcome) {
	if err := w.bulk.RecordOutcome(ctx, runID, o); err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("bulk_run_id", runID).
			Msg("bulk outcome not recorded")
	}
}

// handleSelectAssets re-runs the pipeline, which is idempotent: with a warm
// provider cache it goes straight to scoring and selection.
func (w *Workflow) handleSelectAssets(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	if _, err := w.pipeline.Run(ctx, p.EntityID, p.Manual, false); err != nil {
		return err
	}

	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	library := w.library(ctx, movie)
	if !p.Manual && !autoPublish(library) {
		return nil
	}
	if !w.chainOn(ctx, settings.KeyChainPublish) {
		return nil
	}
	w.enqueueEntity(ctx, models.JobPublish, job, queue.EntityPayload{
		EntityKind: models.KindMovie,
		EntityID:   movie.ID,
		Manual:     p.Manual,
		AssetTypes: p.AssetTypes,
	}, job.Priority)
	return nil
}

// handleCacheAsset refreshes the cache for one entity without chaining
// anywhere; the API enqueues it for single-asset redownloads.
func (w *Workflow) handleCacheAsset(ctx context.Context, _ *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	_, err := w.pipeline.Run(ctx, p.EntityID, p.Manual, p.ForceRefresh)
	return err
}

// handlePublish materializes selected assets and the NFO into the movie
// directory, then opens the verify and notify branches.
func (w *Workflow) handlePublish(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	res, err := w.publisher.Run(ctx, movie.ID)
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Int64("movie_id", movie.ID).
		Int("assets", res.AssetsWritten).Bool("nfo", res.NFOWritten).Msg("published")

	if w.cfg.Verify.Enabled && w.chainOn(ctx, settings.KeyChainVerify) {
		w.enqueueEntity(ctx, models.JobVerifyMovie, job, queue.EntityPayload{
			EntityKind: models.KindMovie,
			EntityID:   movie.ID,
		}, models.PriorityLow)
	}
	if w.chainOn(ctx, settings.KeyChainNotify) {
		w.notifyPlayers(ctx, job, queue.NotifyPayload{
			EntityKind: models.KindMovie,
			EntityID:   movie.ID,
			Event:      "published",
			Title:      movieTitle(movie),
			Detail:     fmt.Sprintf("%d assets written", res.AssetsWritten),
		})
	}
	return nil
}

// handleVerify reconciles the published directory with the cache. Drift is
// announced to messengers; players are rescanned only when files changed.
func (w *Workflow) handleVerify(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.EntityPayload)
	res, err := w.verifier.Run(ctx, p.EntityID)
	if err != nil {
		return err
	}
	if res.Restored == 0 && res.Recycled == 0 && !res.VideoChanged {
		return nil
	}
	movie, err := w.db.GetMovie(ctx, p.EntityID)
	if err != nil {
		return err
	}
	if !w.chainOn(ctx, settings.KeyChainNotify) {
		return nil
	}
	detail := fmt.Sprintf("%d restored, %d recycled", res.Restored, res.Recycled)
	if res.VideoChanged {
		detail += ", video re-probed"
	}
	np := queue.NotifyPayload{
		EntityKind: models.KindMovie,
		EntityID:   movie.ID,
		Event:      "verified",
		Title:      movieTitle(movie),
		Detail:     detail,
	}
	w.notifyPlayers(ctx, job, np)
	w.notifyMessengers(ctx, job, np)
	return nil
}

// notifyMessengers fans one event out to the enabled non-player targets.
func (w *Workflow) notifyMessengers(ctx context.Context, parent *models.Job, p queue.NotifyPayload) {
	players := make(map[string]bool)
	for _, name := range w.notifier.Players() {
		players[name] = true
	}
	for _, name := range w.notifier.Names() {
		if players[name] {
			continue
		}
		jobType, ok := jobTypeForTarget[name]
		if !ok {
			continue
		}
		w.enqueue(ctx, queue.Spec{
			Type:        jobType,
			Priority:    models.PriorityLow,
			Payload:     p,
			ParentJobID: parentID(parent),
		})
	}
}

// notifyHandler builds the handler for one notify target.
func (w *Workflow) notifyHandler(name string) queue.Handler {
	return func(ctx context.Context, _ *models.Job, payload any) error {
		p := payload.(*queue.NotifyPayload)
		ev := notify.Event{
			Title:   p.Title,
			Body:    p.Detail,
			MovieID: p.EntityID,
		}
		// Players can scope their scan to the movie directory.
		if movie, err := w.db.GetMovie(ctx, p.EntityID); err == nil {
			ev.LibraryPath = movie.Path
		}
		return w.notifier.Send(ctx, name, ev)
	}
}

// handleLibraryScan walks a library root and chains enrichment for every
// identified movie the library automates.
func (w *Workflow) handleLibraryScan(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.LibraryPayload)
	res, err := w.scanner.ScanLibrary(ctx, p.LibraryID)
	if err != nil {
		return err
	}
	logging.Ctx(ctx).Info().Int64("library_id", p.LibraryID).
		Int("added", res.Added).Int("updated", res.Updated).
		Int("assets", res.Assets).Msg("library scanned")

	library, err := w.db.GetLibrary(ctx, p.LibraryID)
	if err != nil {
		return err
	}
	if !autoEnrich(library) || !w.chainOn(ctx, settings.KeyChainEnrich) {
		return nil
	}
	movies, err := w.db.ListMoviesByLibrary(ctx, p.LibraryID)
	if err != nil {
		return err
	}
	for i := range movies {
		m := &movies[i]
		if m.IdentificationStatus != models.StatusIdentified || m.EnrichedAt != nil || !m.Monitored {
			continue
		}
		w.enqueueEntity(ctx, models.JobFetchProviderAssets, job, queue.EntityPayload{
			EntityKind: models.KindMovie,
			EntityID:   m.ID,
		}, models.PriorityNormal)
	}
	return nil
}

// handleDirectoryScan scans one directory inside a library, as enqueued by
// the filesystem watcher or the API.
func (w *Workflow) handleDirectoryScan(ctx context.Context, job *models.Job, payload any) error {
	p := payload.(*queue.DirectoryPayload)
	library, err := w.db.GetLibrary(ctx, p.LibraryID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p.Path); os.IsNotExist(err) {
		return queue.Permanent(fmt.Errorf("directory %s is gone", p.Path))
	}
	movie, found, err := w.scanner.ScanDirectory(ctx, library, p.Path)
	if err != nil {
		return err
	}
	if !found {
		return queue.Transient(fmt.Errorf("no video file in %s yet", p.Path))
	}
	w.enqueueEntity(ctx, models.JobDiscoverAssets, job, queue.EntityPayload{
		EntityKind: models.KindMovie,
		EntityID:   movie.ID,
	}, job.Priority)
	return nil
}

func movieTitle(m *models.Movie) string {
	if m.Year > 0 {
		return fmt.Sprintf("%s (%d)", m.Title, m.Year)
	}
	return m.Title
}
