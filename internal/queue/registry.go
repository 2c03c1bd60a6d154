// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/metarr/metarr/internal/models"
)

// Handler processes one claimed job. payload is the typed value produced by
// DecodePayload for the job's type. Returning a queue.Error controls retry
// behavior; any other error is classified by Classify.
type Handler func(ctx context.Context, job *models.Job, payload any) error

// ErrSkipped is returned by Dispatch when the job type is administratively
// disabled. The pool completes such jobs without running them.
var ErrSkipped = fmt.Errorf("job type disabled")

// Registry maps job types to handlers and carries the per-type enable
// switches that let operators pause parts of the workflow without draining
// the queue.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.JobType]Handler
	disabled map[models.JobType]bool
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.JobType]Handler),
		disabled: make(map[models.JobType]bool),
	}
}

// Register binds a handler to a job type. Registering twice is a wiring bug
// and panics at startup rather than silently shadowing.
func (r *Registry) Register(jobType models.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[jobType]; dup {
		panic(fmt.Sprintf("queue: duplicate handler for %s", jobType))
	}
	r.handlers[jobType] = h
}

// SetEnabled toggles processing for a job type. Disabled jobs complete as
// skipped instead of erroring so chains degrade quietly.
func (r *Registry) SetEnabled(jobType models.JobType, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[jobType] = !enabled
}

// Enabled reports whether a job type currently runs.
func (r *Registry) Enabled(jobType models.JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled[jobType]
}

// Dispatch decodes the payload and invokes the handler for job's type.
func (r *Registry) Dispatch(ctx context.Context, job *models.Job) error {
	r.mu.RLock()
	h, ok := r.handlers[job.Type]
	off := r.disabled[job.Type]
	r.mu.RUnlock()

	if off {
		return ErrSkipped
	}
	if !ok {
		return Validation(fmt.Errorf("no handler registered for %s", job.Type))
	}
	payload, err := DecodePayload(job.Type, job.Payload)
	if err != nil {
		return err
	}
	return h(ctx, job, payload)
}
