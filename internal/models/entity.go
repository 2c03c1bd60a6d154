// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package models

import (
	"fmt"
	"time"
)

// EntityKind identifies the variant of a tracked entity.
type EntityKind string

const (
	KindMovie   EntityKind = "movie"
	KindSeries  EntityKind = "series"
	KindSeason  EntityKind = "season"
	KindEpisode EntityKind = "episode"
	KindActor   EntityKind = "actor"
)

// IdentificationStatus is the authoritative lifecycle field for an entity.
type IdentificationStatus string

const (
	StatusDiscovered IdentificationStatus = "discovered"
	StatusIdentified IdentificationStatus = "identified"
	StatusEnriched   IdentificationStatus = "enriched"
	StatusFailed     IdentificationStatus = "failed"
)

// MovieLocks holds the per-field lock flags for user-editable movie scalars.
// A locked field must never be overwritten by automation.
type MovieLocks struct {
	Title         bool `json:"title"`
	OriginalTitle bool `json:"original_title"`
	SortTitle     bool `json:"sort_title"`
	Year          bool `json:"year"`
	Plot          bool `json:"plot"`
	Outline       bool `json:"outline"`
	Tagline       bool `json:"tagline"`
	Runtime       bool `json:"runtime"`
	MPAA          bool `json:"mpaa"`
	Premiered     bool `json:"premiered"`
}

// Movie is the primary file-backed entity.
type Movie struct {
	ID        int64 `json:"id"`
	LibraryID int64 `json:"library_id"`

	Title         string `json:"title"`
	OriginalTitle string `json:"original_title,omitempty"`
	SortTitle     string `json:"sort_title,omitempty"`
	Year          int    `json:"year,omitempty"`
	Plot          string `json:"plot,omitempty"`
	Outline       string `json:"outline,omitempty"`
	Tagline       string `json:"tagline,omitempty"`
	Runtime       int    `json:"runtime,omitempty"` // minutes
	MPAA          string `json:"mpaa,omitempty"`
	Premiered     string `json:"premiered,omitempty"` // YYYY-MM-DD

	TmdbID int64  `json:"tmdb_id,omitempty"`
	ImdbID string `json:"imdb_id,omitempty"`
	TvdbID int64  `json:"tvdb_id,omitempty"`

	Genres    []string `json:"genres,omitempty"`
	Studios   []string `json:"studios,omitempty"`
	Countries []string `json:"countries,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Directors []string `json:"directors,omitempty"`
	Writers   []string `json:"writers,omitempty"`

	SetName     string `json:"set_name,omitempty"`
	SetOverview string `json:"set_overview,omitempty"`
	SetTmdbID   int64  `json:"set_tmdb_id,omitempty"`

	// Path is the entity directory; VideoFile is the main media file inside it.
	Path      string `json:"path"`
	VideoFile string `json:"video_file,omitempty"`
	VideoHash string `json:"video_hash,omitempty"`

	Monitored            bool                 `json:"monitored"`
	IdentificationStatus IdentificationStatus `json:"identification_status"`
	EnrichedAt           *time.Time           `json:"enriched_at,omitempty"`

	Locks MovieLocks `json:"locks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BaseName returns the Kodi naming base for the movie directory and
// / sidecar files: "Title (Year)", or just the title when the year is unknown.
func (m *Movie) BaseName() string {
	if m.Year > 0 {
		return fmt.Sprintf("%s (%d)", m.Title, m.Year)
	}
	return m.Title
}

// Rating is one community rating keyed by source (imdb, themoviedb, ...).
type Rating struct {
	Source  string  `json:"source"`
	Value   float64 `json:"value"`
	Votes   int     `json:"votes"`
	Max     int     `json:"max"`
	Default bool    `json:"default"`
}

// Actor is a person entity shared across movies.
type Actor struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	TmdbPersonID   int64      `json:"tmdb_person_id,omitempty"`
	ProfileURL     string     `json:"profile_url,omitempty"`
	ImageHash      string     `json:"image_hash,omitempty"`
	ImageCachePath string     `json:"image_cache_path,omitempty"`
	ImageWidth     int        `json:"image_width,omitempty"`
	ImageHeight    int        `json:"image_height,omitempty"`
	NameLocked     bool       `json:"name_locked"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// CastMember links an actor to an entity with a role and ordering.
type CastMember struct {
	ActorID    int64  `json:"actor_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   int64  `json:"entity_id"`
	Role       string `json:"role,omitempty"`
	SortOrder  int    `json:"sort_order"`
	Actor      *Actor `json:"actor,omitempty"`
}

// StreamDetail is one media stream (video/audio/subtitle) of the main file,
// re-extracted by the verifier whenever the video content hash changes.
type StreamDetail struct {
	ID          int64  `json:"id"`
	EntityKind  string `json:"entity_kind"`
	EntityID    int64  `json:"entity_id"`
	StreamType  string `json:"stream_type"` // video, audio, subtitle
	StreamIndex int    `json:"stream_index"`
	Codec       string `json:"codec,omitempty"`
	Language    string `json:"language,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	BitRate     int64  `json:"bit_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Default     bool   `json:"default"`
	Forced      bool   `json:"forced"`
	HDRFormat   string `json:"hdr_format,omitempty"`
	DurationSec float64
	Container   string `json:"container,omitempty"`
}
