// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package models

import "time"

// Provider names. Scalar merge priority and provider rank scoring both key
// off these identifiers.
const (
	ProviderTMDB   = "tmdb"
	ProviderFanart = "fanart"
	ProviderTVDB   = "tvdb"
)

// ProviderImage is one image a provider returned for an entity, stored as a
// child row of the provider cache record with its origin tagged.
type ProviderImage struct {
	Provider    string  `json:"provider"`
	Type        string  `json:"type"` // provider-native type: backdrop, poster, logo, banner, ...
	URL         string  `json:"url"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	Language    string  `json:"language,omitempty"`
	VoteAverage float64 `json:"vote_average,omitempty"`
	VoteCount   int     `json:"vote_count,omitempty"`
	IsHD        bool    `json:"is_hd,omitempty"`
}

// ProviderVideo is a trailer or clip reference.
type ProviderVideo struct {
	Provider string `json:"provider"`
	Type     string `json:"type"` // trailer, teaser, clip
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Site     string `json:"site,omitempty"`
	Language string `json:"language,omitempty"`
}

// ProviderCastMember is one cast credit from a provider.
type ProviderCastMember struct {
	Provider   string `json:"provider"`
	PersonID   int64  `json:"person_id"` // provider person id (tmdb)
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	SortOrder  int    `json:"sort_order"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// ProviderRecord is the fully merged provider response for one entity,
// cached with a TTL. FieldOrigins maps scalar field name to the provider
// that supplied the winning value.
type ProviderRecord struct {
	EntityKind EntityKind `json:"entity_kind"`
	TmdbID     int64      `json:"tmdb_id,omitempty"`
	ImdbID     string     `json:"imdb_id,omitempty"`
	TvdbID     int64      `json:"tvdb_id,omitempty"`

	Title         string   `json:"title,omitempty"`
	OriginalTitle string   `json:"original_title,omitempty"`
	Year          int      `json:"year,omitempty"`
	Plot          string   `json:"plot,omitempty"`
	Outline       string   `json:"outline,omitempty"`
	Tagline       string   `json:"tagline,omitempty"`
	Runtime       int      `json:"runtime,omitempty"`
	MPAA          string   `json:"mpaa,omitempty"`
	Premiered     string   `json:"premiered,omitempty"`
	Genres        []string `json:"genres,omitempty"`
	Studios       []string `json:"studios,omitempty"`
	Countries     []string `json:"countries,omitempty"`

	SetName     string `json:"set_name,omitempty"`
	SetOverview string `json:"set_overview,omitempty"`
	SetTmdbID   int64  `json:"set_tmdb_id,omitempty"`

	Ratings []Rating             `json:"ratings,omitempty"`
	Images  []ProviderImage      `json:"images,omitempty"`
	Videos  []ProviderVideo      `json:"videos,omitempty"`
	Cast    []ProviderCastMember `json:"cast,omitempty"`

	FieldOrigins map[string]string `json:"field_origins,omitempty"`
	FetchedAt    time.Time         `json:"fetched_at"`
}

// FetchSource tells callers where a provider record came from.
type FetchSource string

const (
	FetchSourceCache FetchSource = "cache"
	FetchSourceLive  FetchSource = "live"
	FetchSourceMixed FetchSource = "mixed"
)

// FetchResult wraps a merged record with fetch metadata. A no-data result
// (Record == nil) is returned when every provider failed; callers skip
// gracefully instead of treating it as an error.
type FetchResult struct {
	Record    *ProviderRecord `json:"record,omitempty"`
	Source    FetchSource     `json:"source"`
	Providers []string        `json:"providers,omitempty"`
	Degraded  []string        `json:"degraded,omitempty"`
	// RateLimited marks that at least one provider refused the call with a
	// rate limit; bulk sweeps short-circuit on it.
	RateLimited bool          `json:"rate_limited,omitempty"`
	Age         time.Duration `json:"age"`
}
