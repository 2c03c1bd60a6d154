// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package provider fetches metadata and artwork candidates from upstream
// services (TMDB, fanart.tv, TVDB). Each client carries its own rate
// limiter and circuit breaker; the orchestrator fans out across enabled
// providers, merges responses by fixed priority, and caches the merged
// record in the database.
package provider

import (
	"context"

	"github.com/metarr/metarr/internal/models"
)

// MovieRef identifies a movie to the providers. At least one external id
// or a title/year pair must be set; TMDB can resolve the latter via
// search, the others need the id.
type MovieRef struct {
	TmdbID int64
	ImdbID string
	Title  string
	Year   int
}

// Empty reports whether the ref carries nothing to look up.
func (r MovieRef) Empty() bool {
	return r.TmdbID == 0 && r.ImdbID == "" && r.Title == ""
}

// Client is one upstream provider.
type Client interface {
	// Name returns the provider identifier (models.ProviderTMDB, ...).
	Name() string
	// FetchMovie returns the provider's record for the ref. A lookup miss
	// returns a not-found error; transient upstream trouble returns a
	// retryable error.
	FetchMovie(ctx context.Context, ref MovieRef) (*models.ProviderRecord, error)
}

// providerRank orders providers for scalar merge priority, lowest wins.
var providerRank = map[string]int{
	models.ProviderTMDB:   0,
	models.ProviderFanart: 1,
	models.ProviderTVDB:   2,
}

// Rank returns the merge priority of a provider; unknown providers sort
// last.
func Rank(name string) int {
	if r, ok := providerRank[name]; ok {
		return r
	}
	return len(providerRank)
}
