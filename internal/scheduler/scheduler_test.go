// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package scheduler

import (
	"context"
	"testing"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func newTestStore(t *testing.T) *queue.Store {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return queue.NewStore(db)
}

func TestTickEnqueuesScheduledJob(t *testing.T) {
	store := newTestStore(t)
	s := New(config.SchedulerConfig{}, store)
	ctx := context.Background()

	enqueued, err := s.Tick(ctx, models.JobScheduledCleanup)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !enqueued {
		t.Fatal("first tick should enqueue")
	}

	jobs, err := store.List(ctx, models.JobPending, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Type != models.JobScheduledCleanup {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Priority != models.PriorityScheduled {
		t.Errorf("priority = %d", jobs[0].Priority)
	}
}

func TestTickDedupesWhileActive(t *testing.T) {
	store := newTestStore(t)
	s := New(config.SchedulerConfig{}, store)
	ctx := context.Background()

	if _, err := s.Tick(ctx, models.JobScheduledFileScan); err != nil {
		t.Fatal(err)
	}
	enqueued, err := s.Tick(ctx, models.JobScheduledFileScan)
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if enqueued {
		t.Error("second tick should dedupe against the pending instance")
	}

	// Once the first instance reaches a terminal state, ticks enqueue again.
	jobs, _ := store.Claim(ctx, "w", 1)
	if len(jobs) != 1 {
		t.Fatalf("claimed %d", len(jobs))
	}
	if err := store.MarkProcessing(ctx, jobs[0].ID, "w"); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, jobs[0].ID); err != nil {
		t.Fatal(err)
	}
	enqueued, err = s.Tick(ctx, models.JobScheduledFileScan)
	if err != nil || !enqueued {
		t.Errorf("tick after completion = %v %v, want fresh enqueue", enqueued, err)
	}
}

func TestStartRejectsBadCron(t *testing.T) {
	store := newTestStore(t)
	s := New(config.SchedulerConfig{
		Enabled:      true,
		FileScanCron: "not a cron line",
	}, store)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("bad expression should fail startup")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	store := newTestStore(t)
	s := New(config.SchedulerConfig{Enabled: false, FileScanCron: "also invalid"}, store)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
}
