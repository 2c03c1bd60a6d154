// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

// Events receives job lifecycle transitions for broadcast. Implemented by
// the event bus; a nil Events on the pool disables broadcasting.
type Events interface {
	JobStatus(job *models.Job)
	QueueStats(stats models.QueueStats)
}

// Metrics receives per-job timing. Implemented by the Prometheus registry.
type Metrics interface {
	JobFinished(jobType models.JobType, outcome string, d time.Duration)
}

// PoolConfig sizes the worker pool. Zero values take defaults.
type PoolConfig struct {
	Workers      int           // default 4
	PollInterval time.Duration // default 250ms, jittered per tick
	JobTimeout   time.Duration // per-job deadline, default 10m
	DrainTimeout time.Duration // shutdown grace for in-flight jobs, default 30s
	StatsEvery   time.Duration // queue stats broadcast period, default 5s
}

func (c *PoolConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	if c.StatsEvery <= 0 {
		c.StatsEvery = 5 * time.Second
	}
}

// Pool runs claimed jobs on a fixed set of workers. It implements
// suture.Service via Serve.
type Pool struct {
	store    *Store
	registry *Registry
	events   Events
	metrics  Metrics
	cfg      PoolConfig
}

func NewPool(store *Store, registry *Registry, events Events, metrics Metrics, cfg PoolConfig) *Pool {
	cfg.defaults()
	return &Pool{
		store:    store,
		registry: registry,
		events:   events,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Serve runs the workers until ctx is cancelled, then drains: no new
// claims, in-flight jobs get up to DrainTimeout to finish before they are
// aborted and requeued, and claimed-but-unstarted jobs are released back
// to pending.
func (p *Pool) Serve(ctx context.Context) error {
	if n, err := p.store.RecoverStale(ctx); err != nil {
		logging.Warn().Err(err).Msg("recovering stale jobs")
	} else if n > 0 {
		logging.Info().Int64("jobs", n).Msg("requeued jobs orphaned by previous run")
	}

	// drainCtx outlives ctx by the drain window; handlers run against it so
	// shutdown lets them finish before cutting them off.
	drainCtx, cancelDrain := context.WithCancel(context.Background())
	defer cancelDrain()
	go func() {
		<-ctx.Done()
		timer := time.NewTimer(p.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancelDrain()
		case <-drainCtx.Done():
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("worker-%d", i)
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, drainCtx, workerID)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.statsLoop(ctx)
	}()

	wg.Wait()

	// Release uses a fresh context: ctx is already cancelled here.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < p.cfg.Workers; i++ {
		if _, err := p.store.Release(releaseCtx, fmt.Sprintf("worker-%d", i)); err != nil {
			logging.Warn().Err(err).Msg("releasing claimed jobs on shutdown")
		}
	}
	return ctx.Err()
}

func (p *Pool) workerLoop(ctx, drainCtx context.Context, workerID string) {
	for {
		jobs, err := p.store.Claim(ctx, workerID, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error().Err(err).Str("worker", workerID).Msg("claiming jobs")
		}
		for _, job := range jobs {
			p.runJob(drainCtx, workerID, job)
		}
		if len(jobs) > 0 {
			// More work may be due; skip the poll wait.
			continue
		}

		jitter := time.Duration(rand.Int63n(int64(p.cfg.PollInterval)))
		select {
		case <-ctx.Done():
			return
		case <-p.store.NotifyC():
		case <-time.After(p.cfg.PollInterval + jitter):
		}
	}
}

func (p *Pool) runJob(drainCtx context.Context, workerID string, job *models.Job) {
	// Job context carries its own correlation id and derives from the drain
	// context, not the serve context: in-flight work survives pool
	// cancellation up to the drain deadline instead of aborting midway.
	jobCtx := logging.WithCorrelationID(drainCtx, fmt.Sprintf("job-%d", job.ID))
	jobCtx, cancel := context.WithTimeout(jobCtx, p.cfg.JobTimeout)
	defer cancel()

	if err := p.store.MarkProcessing(jobCtx, job.ID, workerID); err != nil {
		if errors.Is(err, ErrLostClaim) {
			logging.Ctx(jobCtx).Debug().Int64("job_id", job.ID).
				Msg("claim lost before processing")
			return
		}
		logging.Ctx(jobCtx).Error().Err(err).Int64("job_id", job.ID).
			Msg("marking job processing")
		return
	}
	job.State = models.JobProcessing
	p.broadcast(job)

	start := time.Now()
	err := p.dispatch(jobCtx, job)
	elapsed := time.Since(start)

	// Store updates must outlive an expired drain context.
	storeCtx := jobCtx
	if drainCtx.Err() != nil {
		var cancelStore context.CancelFunc
		storeCtx, cancelStore = context.WithTimeout(
			logging.WithCorrelationID(context.Background(), fmt.Sprintf("job-%d", job.ID)),
			5*time.Second)
		defer cancelStore()
	}

	switch {
	case err != nil && drainCtx.Err() != nil:
		// The drain deadline expired under the handler; the job reruns
		// after restart rather than counting the abort as a failure.
		if rerr := p.store.Requeue(storeCtx, job.ID); rerr != nil {
			logging.Ctx(storeCtx).Error().Err(rerr).Int64("job_id", job.ID).
				Msg("requeueing drained job")
			return
		}
		job.State = models.JobPending
		p.observe(job.Type, "requeued", elapsed)
		logging.Ctx(storeCtx).Info().Int64("job_id", job.ID).
			Str("type", string(job.Type)).Msg("in-flight job requeued on shutdown")
	case err == nil, errors.Is(err, ErrSkipped):
		if cerr := p.store.Complete(storeCtx, job.ID); cerr != nil {
			if errors.Is(cerr, ErrLostClaim) {
				logging.Ctx(storeCtx).Debug().Int64("job_id", job.ID).
					Msg("claim lost before completion")
				return
			}
			logging.Ctx(storeCtx).Error().Err(cerr).Int64("job_id", job.ID).
				Msg("completing job")
		}
		job.State = models.JobCompleted
		p.observe(job.Type, "completed", elapsed)
		logging.Ctx(storeCtx).Debug().Int64("job_id", job.ID).
			Str("type", string(job.Type)).Dur("elapsed", elapsed).
			Msg("job completed")
	default:
		updated, ferr := p.store.Fail(storeCtx, job, err)
		if ferr != nil {
			if errors.Is(ferr, ErrLostClaim) {
				logging.Ctx(storeCtx).Debug().Int64("job_id", job.ID).
					Msg("claim lost before failure was recorded")
				return
			}
			logging.Ctx(storeCtx).Error().Err(ferr).Int64("job_id", job.ID).
				Msg("recording job failure")
			return
		}
		job = updated
		p.observe(job.Type, string(job.State), elapsed)
		evt := logging.Ctx(storeCtx).Warn()
		if job.State == models.JobFailed {
			evt = logging.Ctx(storeCtx).Error()
		}
		evt.Err(err).Int64("job_id", job.ID).Str("type", string(job.Type)).
			Str("kind", Classify(err).String()).Int("retry", job.RetryCount).
			Msg("job failed")
	}
	p.broadcast(job)
}

// dispatch invokes the handler, converting panics into transient errors so
// one bad job cannot take a worker down.
func (p *Pool) dispatch(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Transient(fmt.Errorf("handler panic: %v", r))
			logging.Ctx(ctx).Error().Int64("job_id", job.ID).
				Interface("panic", r).Msg("job handler panicked")
		}
	}()
	return p.registry.Dispatch(ctx, job)
}

func (p *Pool) statsLoop(ctx context.Context) {
	if p.events == nil {
		return
	}
	ticker := time.NewTicker(p.cfg.StatsEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := p.store.Stats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logging.Warn().Err(err).Msg("reading queue stats")
				}
				continue
			}
			p.events.QueueStats(stats)
		}
	}
}

func (p *Pool) broadcast(job *models.Job) {
	if p.events != nil {
		p.events.JobStatus(job)
	}
}

func (p *Pool) observe(jobType models.JobType, outcome string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.JobFinished(jobType, outcome, d)
	}
}

func (p *Pool) String() string { return "queue-pool" }
