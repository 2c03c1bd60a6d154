// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package database

import (
	"database/sql"
	"errors"
	"io"
	"strings"

	"github.com/metarr/metarr/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is a missing-row error from any store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsBusy reports whether err is SQLite lock contention. The job store retries
// these with a short backoff instead of failing the job.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use in error paths where a Close failure is not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}

// closeWithLog closes a resource and logs any error. Use for cleanup where
// errors should be acknowledged but must not fail the operation.
func closeWithLog(closer io.Closer, resource string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("resource", resource).Err(err).Msg("failed to close resource")
	}
}
