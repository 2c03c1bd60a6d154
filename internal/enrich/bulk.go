// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// ErrBulkRunning rejects a second sweep while one is active.
var ErrBulkRunning = errors.New("bulk enrichment already running")

// bulkLockKey is the storage-backed lock: the active run id lives in the
// settings table so a restarted process can see an interrupted run.
const bulkLockKey = "bulk.active_run"

// Bulk fans a library-wide enrichment sweep out as low-priority queue
// jobs. Each enrichment job tagged with the run id reports back through
// RecordOutcome; the sweep stops early after too many consecutive
// rate-limited entities.
type Bulk struct {
	cfg   config.EnrichConfig
	db    *database.DB
	store *queue.Store
	bus   *events.Bus

	mu       sync.Mutex
	active   bool
	rateHits int
}

func NewBulk(cfg config.EnrichConfig, db *database.DB, store *queue.Store, bus *events.Bus) *Bulk {
	return &Bulk{cfg: cfg, db: db, store: store, bus: bus}
}

// Start creates a run and enqueues one enrichment job per monitored movie
// in id order. At most one run is active at a time.
func (b *Bulk) Start(ctx context.Context) (*models.BulkRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active {
		return nil, ErrBulkRunning
	}
	if raw, err := b.db.GetSetting(ctx, bulkLockKey); err == nil && raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			if run, err := b.db.GetBulkRun(ctx, id); err == nil && run.FinishedAt == nil {
				return nil, ErrBulkRunning
			}
		}
	}

	movies, err := b.db.ListMonitoredMovies(ctx)
	if err != nil {
		return nil, err
	}

	run := &models.BulkRun{StartedAt: time.Now().UTC(), Total: len(movies)}
	if _, err := b.db.CreateBulkRun(ctx, run); err != nil {
		return nil, err
	}
	if len(movies) == 0 {
		now := time.Now().UTC()
		run.FinishedAt = &now
		return run, b.db.UpdateBulkRun(ctx, run)
	}

	if err := b.db.PutSetting(ctx, bulkLockKey, strconv.FormatInt(run.ID, 10)); err != nil {
		return nil, err
	}
	b.active = true
	b.rateHits = 0

	enqueued := 0
	for _, m := range movies {
		_, fresh, err := b.store.Insert(ctx, queue.Spec{
			Type:     models.JobEnrichMetadata,
			Priority: models.PriorityLow,
			Payload: queue.EntityPayload{
				EntityKind: models.KindMovie,
				EntityID:   m.ID,
				BulkRunID:  run.ID,
			},
			DedupeKey: queue.EntityDedupeKey(models.KindMovie, m.ID),
		})
		if err != nil {
			return nil, err
		}
		if fresh {
			enqueued++
		}
	}
	// Deduped entities (already queued outside the run) will not report
	// back; count them as processed up front.
	if skipped := len(movies) - enqueued; skipped > 0 {
		run.Processed = skipped
		run.Skipped = skipped
		if err := b.db.UpdateBulkRun(ctx, run); err != nil {
			return nil, err
		}
	}

	logging.Ctx(ctx).Info().Int64("bulk_run_id", run.ID).
		Int("total", run.Total).Int("enqueued", enqueued).
		Msg("bulk enrichment started")
	return run, nil
}

// ErrBulkNotRunning is returned by Stop and Status when no sweep is active.
var ErrBulkNotRunning = errors.New("no bulk enrichment running")

// Status returns the active run, or ErrBulkNotRunning.
func (b *Bulk) Status(ctx context.Context) (*models.BulkRun, error) {
	raw, err := b.db.GetSetting(ctx, bulkLockKey)
	if err != nil || raw == "" {
		return nil, ErrBulkNotRunning
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ErrBulkNotRunning
	}
	run, err := b.db.GetBulkRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.FinishedAt != nil {
		return nil, ErrBulkNotRunning
	}
	return run, nil
}

// Stop short-circuits the active run. Jobs already enqueued drain without
// touching their entity once the run is marked stopped.
func (b *Bulk) Stop(ctx context.Context) (*models.BulkRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, err := b.Status(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	run.Stopped = true
	run.StopReason = "manual"
	run.FinishedAt = &now
	if err := b.db.UpdateBulkRun(ctx, run); err != nil {
		return nil, err
	}
	if err := b.db.PutSetting(ctx, bulkLockKey, ""); err != nil {
		return nil, err
	}
	b.active = false
	logging.Ctx(ctx).Info().Int64("bulk_run_id", run.ID).Msg("bulk enrichment stopped")
	return run, nil
}

// Outcome is one entity's contribution to the sweep counters.
type Outcome struct {
	Updated     bool
	Skipped     bool
	RateLimited bool
}

// Stopped reports whether the run has been short-circuited; handlers skip
// their entity when it has.
func (b *Bulk) Stopped(ctx context.Context, runID int64) bool {
	run, err := b.db.GetBulkRun(ctx, runID)
	if err != nil {
		return false
	}
	return run.Stopped
}

// RecordOutcome folds one entity result into the run, publishing progress
// at the configured cadence and finishing or stopping the run when due.
func (b *Bulk) RecordOutcome(ctx context.Context, runID int64, o Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, err := b.db.GetBulkRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.FinishedAt != nil {
		return nil
	}

	run.Processed++
	switch {
	case o.Updated:
		run.Updated++
	case o.Skipped:
		run.Skipped++
	}

	if o.RateLimited {
		b.rateHits++
		// The default stops the sweep on the first rate-limited entity;
		// operators can raise the threshold to tolerate isolated 429s.
		stopAfter := b.cfg.BulkRateLimitStop
		if stopAfter < 1 {
			stopAfter = 1
		}
		if b.rateHits >= stopAfter {
			run.Stopped = true
			run.StopReason = "rate_limited"
			if b.bus != nil {
				b.bus.PublishBulkRateLimit(events.BulkProgress{
					BulkRunID: run.ID,
					Total:     run.Total,
					Processed: run.Processed,
					Updated:   run.Updated,
					Skipped:   run.Skipped,
					Stopped:   true,
					Reason:    run.StopReason,
				})
			}
		}
	} else {
		b.rateHits = 0
	}

	done := run.Stopped || run.Processed >= run.Total
	if done {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	if err := b.db.UpdateBulkRun(ctx, run); err != nil {
		return err
	}
	if done {
		if err := b.db.PutSetting(ctx, bulkLockKey, ""); err != nil {
			return err
		}
		b.active = false
	}

	every := b.cfg.BulkProgressEvery
	if every <= 0 {
		every = 100
	}
	if done || run.Processed%every == 0 {
		logging.Ctx(ctx).Info().Int64("bulk_run_id", run.ID).
			Int("processed", run.Processed).Int("total", run.Total).
			Bool("stopped", run.Stopped).Msg("bulk enrichment progress")
		if b.bus != nil {
			progress := events.BulkProgress{
				BulkRunID: run.ID,
				Total:     run.Total,
				Processed: run.Processed,
				Updated:   run.Updated,
				Skipped:   run.Skipped,
				Stopped:   run.Stopped,
				Reason:    run.StopReason,
			}
			if done {
				b.bus.PublishBulkComplete(progress)
			} else {
				b.bus.PublishBulkProgress(progress)
			}
		}
	}
	return nil
}
