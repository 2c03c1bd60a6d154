// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"sort"
	"time"

	"github.com/metarr/metarr/internal/models"
)

// Merge folds per-provider records into one, scalar conflicts resolved by
// provider rank (TMDB over Fanart over TVDB). FieldOrigins records which
// provider supplied each winning scalar. List payloads (images, videos,
// cast, ratings) concatenate; candidate-level dedup happens later in the
// pipeline against URLs and perceptual hashes.
func Merge(records map[string]*models.ProviderRecord) *models.ProviderRecord {
	if len(records) == 0 {
		return nil
	}

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return Rank(names[i]) < Rank(names[j])
	})

	merged := &models.ProviderRecord{
		EntityKind:   models.KindMovie,
		FieldOrigins: make(map[string]string),
		FetchedAt:    time.Now().UTC(),
	}

	for _, name := range names {
		rec := records[name]
		if rec == nil {
			continue
		}
		setInt64(merged, &merged.TmdbID, rec.TmdbID, "tmdb_id", name)
		setString(merged, &merged.ImdbID, rec.ImdbID, "imdb_id", name)
		setInt64(merged, &merged.TvdbID, rec.TvdbID, "tvdb_id", name)
		setString(merged, &merged.Title, rec.Title, "title", name)
		setString(merged, &merged.OriginalTitle, rec.OriginalTitle, "original_title", name)
		setInt(merged, &merged.Year, rec.Year, "year", name)
		setString(merged, &merged.Plot, rec.Plot, "plot", name)
		setString(merged, &merged.Outline, rec.Outline, "outline", name)
		setString(merged, &merged.Tagline, rec.Tagline, "tagline", name)
		setInt(merged, &merged.Runtime, rec.Runtime, "runtime", name)
		setString(merged, &merged.MPAA, rec.MPAA, "mpaa", name)
		setString(merged, &merged.Premiered, rec.Premiered, "premiered", name)
		setString(merged, &merged.SetName, rec.SetName, "set_name", name)
		setString(merged, &merged.SetOverview, rec.SetOverview, "set_overview", name)
		setInt64(merged, &merged.SetTmdbID, rec.SetTmdbID, "set_tmdb_id", name)
		if len(rec.Genres) > 0 && len(merged.Genres) == 0 {
			merged.Genres = rec.Genres
			merged.FieldOrigins["genres"] = name
		}
		if len(rec.Studios) > 0 && len(merged.Studios) == 0 {
			merged.Studios = rec.Studios
			merged.FieldOrigins["studios"] = name
		}
		if len(rec.Countries) > 0 && len(merged.Countries) == 0 {
			merged.Countries = rec.Countries
			merged.FieldOrigins["countries"] = name
		}
		if len(rec.Cast) > 0 && len(merged.Cast) == 0 {
			merged.Cast = rec.Cast
			merged.FieldOrigins["cast"] = name
		}
		merged.Ratings = append(merged.Ratings, rec.Ratings...)
		merged.Images = append(merged.Images, rec.Images...)
		merged.Videos = append(merged.Videos, rec.Videos...)
	}
	return merged
}

func setString(rec *models.ProviderRecord, dst *string, val, field, origin string) {
	if val == "" || *dst != "" {
		return
	}
	*dst = val
	rec.FieldOrigins[field] = origin
}

func setInt(rec *models.ProviderRecord, dst *int, val int, field, origin string) {
	if val == 0 || *dst != 0 {
		return
	}
	*dst = val
	rec.FieldOrigins[field] = origin
}

func setInt64(rec *models.ProviderRecord, dst *int64, val int64, field, origin string) {
	if val == 0 || *dst != 0 {
		return
	}
	*dst = val
	rec.FieldOrigins[field] = origin
}
