// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metarr/metarr/internal/models"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	var got *EntityPayload
	r.Register(models.JobEnrichMetadata, func(ctx context.Context, job *models.Job, payload any) error {
		got = payload.(*EntityPayload)
		return nil
	})

	job := &models.Job{
		ID:      1,
		Type:    models.JobEnrichMetadata,
		Payload: []byte(`{"entity_kind":"movie","entity_id":5}`),
	}
	if err := r.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got == nil || got.EntityID != 5 {
		t.Errorf("handler payload = %+v, want entity 5", got)
	}
}

func TestRegistryDisabledSkips(t *testing.T) {
	r := NewRegistry()
	r.Register(models.JobPublish, func(ctx context.Context, job *models.Job, payload any) error {
		t.Error("disabled handler ran")
		return nil
	})
	r.SetEnabled(models.JobPublish, false)

	job := &models.Job{
		ID:      1,
		Type:    models.JobPublish,
		Payload: []byte(`{"entity_kind":"movie","entity_id":5}`),
	}
	if err := r.Dispatch(context.Background(), job); !errors.Is(err, ErrSkipped) {
		t.Errorf("dispatch err = %v, want ErrSkipped", err)
	}

	r.SetEnabled(models.JobPublish, true)
	if !r.Enabled(models.JobPublish) {
		t.Error("re-enable did not stick")
	}
}

func TestRegistryUnknownType(t *testing.T) {
	r := NewRegistry()
	job := &models.Job{ID: 1, Type: models.JobPublish, Payload: []byte(`{}`)}
	err := r.Dispatch(context.Background(), job)
	if Classify(err) != KindValidation {
		t.Errorf("dispatch err kind = %v, want validation", Classify(err))
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("duplicate register did not panic")
		}
	}()
	r := NewRegistry()
	h := func(ctx context.Context, job *models.Job, payload any) error { return nil }
	r.Register(models.JobPublish, h)
	r.Register(models.JobPublish, h)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestPoolRunsJobs(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry()

	var ran atomic.Int64
	r.Register(models.JobEnrichMetadata, func(ctx context.Context, job *models.Job, payload any) error {
		ran.Add(1)
		return nil
	})

	pool := NewPool(s, r, nil, nil, PoolConfig{Workers: 2, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = pool.Serve(ctx)
		close(done)
	}()

	job, _, err := s.Insert(context.Background(), Spec{
		Type:    models.JobEnrichMetadata,
		Payload: EntityPayload{EntityKind: models.KindMovie, EntityID: 1},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := s.Get(context.Background(), job.ID)
		return err == nil && got.State == models.JobCompleted
	})
	if ran.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", ran.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry()
	r.Register(models.JobEnrichMetadata, func(ctx context.Context, job *models.Job, payload any) error {
		panic("boom")
	})

	pool := NewPool(s, r, nil, nil, PoolConfig{Workers: 1, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Serve(ctx) }()

	job, _, err := s.Insert(context.Background(), Spec{
		Type:       models.JobEnrichMetadata,
		Payload:    EntityPayload{EntityKind: models.KindMovie, EntityID: 1},
		MaxRetries: 1,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A panic classifies as transient, so the worker survives and the job
	// goes back on the queue with backoff instead of crashing the pool.
	waitFor(t, 3*time.Second, func() bool {
		got, err := s.Get(context.Background(), job.ID)
		return err == nil && got.State == models.JobRetrying && got.RetryCount == 1
	})
}

func TestPoolDrainRequeuesInFlightJobs(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry()

	started := make(chan struct{})
	r.Register(models.JobEnrichMetadata, func(ctx context.Context, job *models.Job, payload any) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	pool := NewPool(s, r, nil, nil, PoolConfig{
		Workers:      1,
		PollInterval: 20 * time.Millisecond,
		DrainTimeout: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pool.Serve(ctx)
		close(done)
	}()

	job, _, err := s.Insert(context.Background(), Spec{
		Type:    models.JobEnrichMetadata,
		Payload: EntityPayload{EntityKind: models.KindMovie, EntityID: 1},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never started")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not drain within the deadline")
	}

	// The aborted job went back to pending with its retry budget intact.
	got, err := s.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != models.JobPending {
		t.Errorf("state = %s after drain, want pending", got.State)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d after drain, want 0", got.RetryCount)
	}
}

func TestPoolCompletesSkippedJobs(t *testing.T) {
	s := newTestStore(t)
	r := NewRegistry()
	r.Register(models.JobPublish, func(ctx context.Context, job *models.Job, payload any) error {
		t.Error("disabled handler ran")
		return nil
	})
	r.SetEnabled(models.JobPublish, false)

	pool := NewPool(s, r, nil, nil, PoolConfig{Workers: 1, PollInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Serve(ctx) }()

	job, _, err := s.Insert(context.Background(), Spec{
		Type:    models.JobPublish,
		Payload: EntityPayload{EntityKind: models.KindMovie, EntityID: 1},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool {
		got, err := s.Get(context.Background(), job.ID)
		return err == nil && got.State == models.JobCompleted
	})
}
