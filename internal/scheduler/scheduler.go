// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package scheduler enqueues the recurring maintenance jobs on cron
// schedules. It never does the work itself; each tick inserts a queue job
// with a fixed dedupe key, so a tick that fires while the previous
// instance is still pending or running is a no-op.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// Scheduler drives the cron entries.
type Scheduler struct {
	cfg   config.SchedulerConfig
	store *queue.Store
	cron  *cron.Cron
}

func New(cfg config.SchedulerConfig, store *queue.Store) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: store,
		cron:  cron.New(),
	}
}

// entries maps each configured expression to the job type it enqueues.
func (s *Scheduler) entries() []struct {
	expr    string
	jobType models.JobType
} {
	return []struct {
		expr    string
		jobType models.JobType
	}{
		{s.cfg.FileScanCron, models.JobScheduledFileScan},
		{s.cfg.ProviderUpdateCron, models.JobScheduledProviderUpdate},
		{s.cfg.CleanupCron, models.JobScheduledCleanup},
		{s.cfg.BulkEnrichCron, models.JobScheduledBulkEnrich},
	}
}

// Start registers the cron entries and begins ticking. Invalid expressions
// fail startup rather than silently never firing.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		logging.Ctx(ctx).Info().Msg("scheduler disabled")
		return nil
	}
	for _, e := range s.entries() {
		if e.expr == "" {
			continue
		}
		jobType := e.jobType
		if _, err := s.cron.AddFunc(e.expr, func() {
			s.tick(context.Background(), jobType)
		}); err != nil {
			return fmt.Errorf("cron %q for %s: %w", e.expr, jobType, err)
		}
		logging.Ctx(ctx).Info().Str("cron", e.expr).
			Str("job", string(jobType)).Msg("scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop halts ticking and waits for in-flight tick callbacks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick enqueues one scheduled job immediately, outside the cron cadence.
// The API uses it for run-now triggers.
func (s *Scheduler) Tick(ctx context.Context, jobType models.JobType) (bool, error) {
	_, enqueued, err := s.store.Insert(ctx, queue.Spec{
		Type:      jobType,
		Priority:  models.PriorityScheduled,
		Payload:   queue.SchedulePayload{},
		DedupeKey: string(jobType),
	})
	return enqueued, err
}

func (s *Scheduler) tick(ctx context.Context, jobType models.JobType) {
	enqueued, err := s.Tick(ctx, jobType)
	log := logging.Ctx(ctx)
	switch {
	case err != nil:
		log.Error().Err(err).Str("job", string(jobType)).Msg("scheduled enqueue failed")
	case !enqueued:
		log.Debug().Str("job", string(jobType)).Msg("previous instance still active, tick skipped")
	default:
		log.Debug().Str("job", string(jobType)).Msg("scheduled job enqueued")
	}
}
