// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/metarr/metarr/internal/database"
)

// ErrorKind classifies handler failures so the store can decide between
// retry with backoff, retry after a provider-supplied delay, and permanent
// failure.
type ErrorKind int

const (
	// KindTransientNetwork covers timeouts, connection resets and 5xx
	// responses. Retried with exponential backoff.
	KindTransientNetwork ErrorKind = iota
	// KindRateLimit is a provider 429. Retried after the advertised delay.
	KindRateLimit
	// KindNotFound is a provider 404 for the looked-up id. Not retried.
	KindNotFound
	// KindValidation is a malformed payload or impossible request. Not
	// retried.
	KindValidation
	// KindStorageBusy is database contention. Retried with backoff.
	KindStorageBusy
	// KindFatal is everything else that retrying cannot fix.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimit:
		return "rate_limit"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindStorageBusy:
		return "storage_busy"
	default:
		return "fatal"
	}
}

// Retryable reports whether jobs failing with this kind go back to the
// queue.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimit, KindStorageBusy:
		return true
	}
	return false
}

// Error wraps a handler failure with its classification. RetryAfter is only
// meaningful for KindRateLimit and overrides the computed backoff.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks an error as retryable with backoff.
func Transient(err error) error {
	return &Error{Kind: KindTransientNetwork, Err: err}
}

// RateLimited marks an error as a provider rate limit with an advertised
// retry delay (zero means use the default backoff).
func RateLimited(err error, after time.Duration) error {
	return &Error{Kind: KindRateLimit, RetryAfter: after, Err: err}
}

// Permanent marks an error as unfixable by retrying.
func Permanent(err error) error {
	return &Error{Kind: KindFatal, Err: err}
}

// Validation marks an error as a malformed payload.
func Validation(err error) error {
	return &Error{Kind: KindValidation, Err: err}
}

// Classify maps an arbitrary handler error onto the taxonomy. Wrapped
// *Error values keep their explicit kind; everything else is inspected.
// Unknown errors classify as fatal: retrying what we do not understand
// multiplies damage on a persistent queue.
func Classify(err error) ErrorKind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransientNetwork
	}
	if database.IsBusy(err) {
		return KindStorageBusy
	}
	if database.IsNotFound(err) {
		return KindNotFound
	}
	return KindFatal
}

// RetryAfter extracts the provider-advertised delay, if any.
func RetryAfter(err error) time.Duration {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.RetryAfter
	}
	return 0
}
