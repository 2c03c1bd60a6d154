// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package workflow binds the job registry to the domain components: one
// handler per job type, each doing its side effect and then enqueueing
// the next chain stage when the relevant toggle and the library's
// automation mode allow it. There is no cross-job memory; every handler
// reloads what it needs from the database.
package workflow

import (
	"context"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/notify"
	"github.com/metarr/metarr/internal/publish"
	"github.com/metarr/metarr/internal/queue"
	"github.com/metarr/metarr/internal/scan"
	"github.com/metarr/metarr/internal/settings"
	"github.com/metarr/metarr/internal/verify"
)

// Workflow owns the chain routing between workflow stages.
type Workflow struct {
	cfg       *config.Config
	db        *database.DB
	store     *queue.Store
	scanner   *scan.Scanner
	fetcher   enrich.Fetcher
	pipeline  *enrich.Pipeline
	bulk      *enrich.Bulk
	verifier  *verify.Verifier
	publisher *publish.Publisher
	notifier  *notify.Service
	settings  *settings.Service
	bus       *events.Bus
}

func New(
	cfg *config.Config,
	db *database.DB,
	store *queue.Store,
	scanner *scan.Scanner,
	fetcher enrich.Fetcher,
	pipeline *enrich.Pipeline,
	bulk *enrich.Bulk,
	verifier *verify.Verifier,
	publisher *publish.Publisher,
	notifier *notify.Service,
	st *settings.Service,
	bus *events.Bus,
) *Workflow {
	return &Workflow{
		cfg:       cfg,
		db:        db,
		store:     store,
		scanner:   scanner,
		fetcher:   fetcher,
		pipeline:  pipeline,
		bulk:      bulk,
		verifier:  verifier,
		publisher: publisher,
		notifier:  notifier,
		settings:  st,
		bus:       bus,
	}
}

// Register binds every job type to its handler.
func (w *Workflow) Register(reg *queue.Registry) {
	reg.Register(models.JobWebhookReceived, w.handleWebhook)
	reg.Register(models.JobScanMovie, w.handleScanMovie)
	reg.Register(models.JobDiscoverAssets, w.handleDiscoverAssets)
	reg.Register(models.JobFetchProviderAssets, w.handleFetchProviderAssets)
	reg.Register(models.JobEnrichMetadata, w.handleEnrich)
	reg.Register(models.JobSelectAssets, w.handleSelectAssets)
	reg.Register(models.JobPublish, w.handlePublish)
	reg.Register(models.JobVerifyMovie, w.handleVerify)
	reg.Register(models.JobLibraryScan, w.handleLibraryScan)
	reg.Register(models.JobDirectoryScan, w.handleDirectoryScan)
	reg.Register(models.JobCacheAsset, w.handleCacheAsset)
	reg.Register(models.JobScheduledFileScan, w.handleScheduledFileScan)
	reg.Register(models.JobScheduledProviderUpdate, w.handleScheduledProviderUpdate)
	reg.Register(models.JobScheduledCleanup, w.handleScheduledCleanup)
	reg.Register(models.JobScheduledBulkEnrich, w.handleScheduledBulkEnrich)

	for jobType, name := range notifyTargets {
		reg.Register(jobType, w.notifyHandler(name))
	}
}

// notifyTargets maps the notify job family to target names.
var notifyTargets = map[models.JobType]string{
	models.JobNotifyKodi:     "kodi",
	models.JobNotifyJellyfin: "jellyfin",
	models.JobNotifyPlex:     "plex",
	models.JobNotifyDiscord:  "discord",
	models.JobNotifyPushover: "pushover",
	models.JobNotifyEmail:    "email",
}

var jobTypeForTarget = func() map[string]models.JobType {
	m := make(map[string]models.JobType, len(notifyTargets))
	for jobType, name := range notifyTargets {
		m[name] = jobType
	}
	return m
}()

// chainOn reads a chain toggle; a settings read failure keeps the chain
// moving rather than silently stalling the workflow.
func (w *Workflow) chainOn(ctx context.Context, key string) bool {
	on, err := w.settings.Bool(ctx, key)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("chain toggle unreadable, assuming on")
		return true
	}
	return on
}

// enqueue inserts a chain successor, logging rather than failing the
// current job when the insert breaks: the stage's own side effect already
// happened.
func (w *Workflow) enqueue(ctx context.Context, spec queue.Spec) {
	if _, _, err := w.store.Insert(ctx, spec); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("type", string(spec.Type)).Msg("chain enqueue failed")
	}
}

// enqueueEntity is the common shape for per-entity successors.
func (w *Workflow) enqueueEntity(ctx context.Context, jobType models.JobType, parent *models.Job, p queue.EntityPayload, priority int) {
	w.enqueue(ctx, queue.Spec{
		Type:        jobType,
		Priority:    priority,
		Payload:     p,
		ParentJobID: parentID(parent),
		DedupeKey:   queue.EntityDedupeKey(p.EntityKind, p.EntityID),
	})
}

func parentID(job *models.Job) *int64 {
	if job == nil {
		return nil
	}
	id := job.ID
	return &id
}

// library loads the automation context for an entity; a nil result means
// the movie is orphaned and automation stops.
func (w *Workflow) library(ctx context.Context, movie *models.Movie) *models.Library {
	lib, err := w.db.GetLibrary(ctx, movie.LibraryID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("library_id", movie.LibraryID).Msg("library lookup failed")
		return nil
	}
	return lib
}

// autoEnrich reports whether enrichment may start without user action.
func autoEnrich(lib *models.Library) bool {
	if lib == nil {
		return false
	}
	switch lib.Mode {
	case models.ModeYolo:
		return true
	case models.ModeHybrid:
		return lib.AutoEnrich
	}
	return false
}

// autoSelect reports whether asset selection may run without user action.
func autoSelect(lib *models.Library) bool {
	if lib == nil {
		return false
	}
	switch lib.Mode {
	case models.ModeYolo:
		return true
	case models.ModeHybrid:
		return lib.AutoSelect
	}
	return false
}

// autoPublish reports whether publishing may happen without user action.
// Hybrid mode auto-selects but holds publishing unless explicitly allowed.
func autoPublish(lib *models.Library) bool {
	if lib == nil {
		return false
	}
	switch lib.Mode {
	case models.ModeYolo:
		return true
	case models.ModeHybrid:
		return lib.AutoPublish
	}
	return false
}

// notifyPlayers fans one event out to every enabled player target.
func (w *Workflow) notifyPlayers(ctx context.Context, parent *models.Job, p queue.NotifyPayload) {
	for _, name := range w.notifier.Players() {
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
