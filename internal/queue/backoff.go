// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// backoff returns the delay before retry number n (1-based), doubling from
// backoffBase and capped at backoffCap, with up to 25% jitter so retries of
// jobs failed by the same outage do not land on the same tick.
func backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := backoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= backoffCap {
			d = backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d / 4)))
	d += jitter
	if d > backoffCap {
		d = backoffCap
	}
	return d
}
