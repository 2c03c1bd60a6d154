// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package models

import (
	"strconv"
	"time"
)

// AssetType is the internal classification of a visual asset.
type AssetType string

const (
	AssetPoster     AssetType = "poster"
	AssetBackdrop   AssetType = "backdrop"
	AssetLogo       AssetType = "logo"
	AssetBanner     AssetType = "banner"
	AssetThumb      AssetType = "thumb"
	AssetDiscArt    AssetType = "discart"
	AssetClearArt   AssetType = "clearart"
	AssetTrailer    AssetType = "trailer"
	AssetActorThumb AssetType = "actorthumb"
)

// KodiArtName maps an asset type to the Kodi sidecar suffix
// ("<base>-poster.jpg", "<base>-fanart.jpg", ...). Empty means the type has
// no sidecar naming (trailers and actor thumbs are handled separately).
func (t AssetType) KodiArtName() string {
	switch t {
	case AssetPoster:
		return "poster"
	case AssetBackdrop:
		return "fanart"
	case AssetLogo:
		return "clearlogo"
	case AssetBanner:
		return "banner"
	case AssetThumb:
		return "landscape"
	case AssetDiscArt:
		return "discart"
	case AssetClearArt:
		return "clearart"
	}
	return ""
}

// KodiAssetFileName builds the library filename for the i-th accepted
// asset of a type ("Title (Year)-poster.jpg", "Title (Year)-trailer.mp4",
// "Title (Year)-fanart1.jpg" for extras). Empty for types with no sidecar
// convention.
func KodiAssetFileName(base string, t AssetType, i int, ext string) string {
	var stem string
	switch t {
	case AssetTrailer:
		stem = base + "-trailer"
	default:
		art := t.KodiArtName()
		if art == "" {
			return ""
		}
		stem = base + "-" + art
	}
	if i > 0 {
		stem += strconv.Itoa(i)
	}
	return stem + ext
}

// SelectedBy records who made an asset selection.
type SelectedBy string

const (
	SelectedAuto SelectedBy = "auto"
	SelectedUser SelectedBy = "user"
)

// Candidate is one possible asset produced by a provider for an entity.
// Candidates are rebuilt on every enrichment run; rejected rows persist so
// the selector never re-picks them.
type Candidate struct {
	ID         int64      `json:"id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   int64      `json:"entity_id"`
	AssetType  AssetType  `json:"asset_type"`

	Provider string `json:"provider"`
	URL      string `json:"url"` // canonical absolute URL, unique per entity

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	Language    string  `json:"language,omitempty"`
	VoteAverage float64 `json:"vote_average,omitempty"`
	VoteCount   int     `json:"vote_count,omitempty"`

	ContentHash     string  `json:"content_hash,omitempty"`
	PerceptualHash  uint64  `json:"perceptual_hash,omitempty"`
	DifferenceHash  uint64  `json:"difference_hash,omitempty"`
	Format          string  `json:"format,omitempty"`
	AlphaRatio      float64 `json:"alpha_ratio,omitempty"`
	ForegroundRatio float64 `json:"foreground_ratio,omitempty"`

	Analyzed     bool       `json:"analyzed"`
	IsDownloaded bool       `json:"is_downloaded"`
	IsSelected   bool       `json:"is_selected"`
	IsRejected   bool       `json:"is_rejected"`
	Score        int        `json:"score"`
	SelectedAt   *time.Time `json:"selected_at,omitempty"`
	SelectedBy   SelectedBy `json:"selected_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheFileSource distinguishes scanned-in library files from provider
// downloads. Local rows are recycled during selection (phase 5).
type CacheFileSource string

const (
	CacheSourceLocal    CacheFileSource = "local"
	CacheSourceProvider CacheFileSource = "provider"
)

// CacheFile is a materialized copy of an accepted asset on local disk,
// keyed by content hash.
type CacheFile struct {
	ID             int64           `json:"id"`
	EntityKind     EntityKind      `json:"entity_kind"`
	EntityID       int64           `json:"entity_id"`
	AssetType      AssetType       `json:"asset_type"`
	FilePath       string          `json:"file_path"`
	FileSize       int64           `json:"file_size"`
	ContentHash    string          `json:"content_hash"`
	PerceptualHash uint64          `json:"perceptual_hash,omitempty"`
	Source         CacheFileSource `json:"source"`
	SourceURL      string          `json:"source_url,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RefreshLog tracks per-provider freshness so the scheduler can skip entities
// the provider's "changes since" endpoint reports as clean.
type RefreshLog struct {
	EntityKind   EntityKind `json:"entity_kind"`
	EntityID     int64      `json:"entity_id"`
	Provider     string     `json:"provider"`
	LastChecked  time.Time  `json:"last_checked"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	NeedsRefresh bool       `json:"needs_refresh"`
}
