// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

const tmdbImageBase = "https://image.tmdb.org/t/p/original"

// TMDB is the primary metadata provider. One request with
// append_to_response covers details, images, credits, videos and
// certifications.
type TMDB struct {
	cfg  config.ProviderConfig
	http *httpClient
}

func NewTMDB(cfg config.ProviderConfig) *TMDB {
	return &TMDB{
		cfg:  cfg,
		http: newHTTPClient(models.ProviderTMDB, cfg.RatePerSecond, cfg.Burst, cfg.Timeout),
	}
}

func (t *TMDB) Name() string { return models.ProviderTMDB }

type tmdbMovie struct {
	ID            int64   `json:"id"`
	ImdbID        string  `json:"imdb_id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Overview      string  `json:"overview"`
	Tagline       string  `json:"tagline"`
	ReleaseDate   string  `json:"release_date"`
	Runtime       int     `json:"runtime"`
	VoteAverage   float64 `json:"vote_average"`
	VoteCount     int     `json:"vote_count"`

	Genres              []tmdbNamed `json:"genres"`
	ProductionCompanies []tmdbNamed `json:"production_companies"`
	ProductionCountries []struct {
		Name string `json:"name"`
	} `json:"production_countries"`
	BelongsToCollection *struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		Overview string `json:"overview"`
	} `json:"belongs_to_collection"`

	Images struct {
		Posters   []tmdbImage `json:"posters"`
		Backdrops []tmdbImage `json:"backdrops"`
		Logos     []tmdbImage `json:"logos"`
	} `json:"images"`
	Credits struct {
		Cast []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			Character   string `json:"character"`
			Order       int    `json:"order"`
			ProfilePath string `json:"profile_path"`
		} `json:"cast"`
	} `json:"credits"`
	Videos struct {
		Results []struct {
			Key      string `json:"key"`
			Name     string `json:"name"`
			Site     string `json:"site"`
			Type     string `json:"type"`
			Language string `json:"iso_639_1"`
		} `json:"results"`
	} `json:"videos"`
	ReleaseDates struct {
		Results []struct {
			Country  string `json:"iso_3166_1"`
			Releases []struct {
				Certification string `json:"certification"`
			} `json:"release_dates"`
		} `json:"results"`
	} `json:"release_dates"`
}

type tmdbNamed struct {
	Name string `json:"name"`
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Language    string  `json:"iso_639_1"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
}

// FetchMovie resolves the ref to a TMDB id (find by IMDB id, then title
// search) and fetches the full record.
func (t *TMDB) FetchMovie(ctx context.Context, ref MovieRef) (*models.ProviderRecord, error) {
	id := ref.TmdbID
	var err error
	if id == 0 && ref.ImdbID != "" {
		id, err = t.findByImdbID(ctx, ref.ImdbID)
		if err != nil {
			return nil, err
		}
	}
	if id == 0 && ref.Title != "" {
		id, err = t.searchMovie(ctx, ref.Title, ref.Year)
		if err != nil {
			return nil, err
		}
	}
	if id == 0 {
		return nil, &queue.Error{
			Kind: queue.KindNotFound,
			Err:  fmt.Errorf("tmdb: nothing to look up for %q", ref.Title),
		}
	}

	endpoint := fmt.Sprintf("%s/movie/%d", t.cfg.BaseURL, id)
	params := url.Values{
		"api_key":                {t.cfg.APIKey},
		"language":               {t.cfg.Language},
		"append_to_response":     {"images,credits,videos,release_dates"},
		"include_image_language": {t.imageLanguages()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, queue.Permanent(err)
	}
	var movie tmdbMovie
	if err := t.http.getJSON(req, &movie); err != nil {
		return nil, err
	}
	return t.toRecord(&movie), nil
}

func (t *TMDB) imageLanguages() string {
	langs := []string{t.cfg.Language}
	if t.cfg.IncludeNoLang {
		langs = append(langs, "null")
	}
	return strings.Join(langs, ",")
}

func (t *TMDB) findByImdbID(ctx context.Context, imdbID string) (int64, error) {
	endpoint := fmt.Sprintf("%s/find/%s", t.cfg.BaseURL, url.PathEscape(imdbID))
	params := url.Values{
		"api_key":         {t.cfg.APIKey},
		"external_source": {"imdb_id"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, queue.Permanent(err)
	}
	var result struct {
		MovieResults []struct {
			ID int64 `json:"id"`
		} `json:"movie_results"`
	}
	if err := t.http.getJSON(req, &result); err != nil {
		return 0, err
	}
	if len(result.MovieResults) == 0 {
		return 0, nil
	}
	return result.MovieResults[0].ID, nil
}

func (t *TMDB) searchMovie(ctx context.Context, title string, year int) (int64, error) {
	params := url.Values{
		"api_key": {t.cfg.APIKey},
		"query":   {title},
	}
	if year > 0 {
		params.Set("year", fmt.Sprintf("%d", year))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.cfg.BaseURL+"/search/movie?"+params.Encode(), nil)
	if err != nil {
		return 0, queue.Permanent(err)
	}
	var result struct {
		Results []struct {
			ID int64 `json:"id"`
		} `json:"results"`
	}
	if err := t.http.getJSON(req, &result); err != nil {
		return 0, err
	}
	if len(result.Results) == 0 {
		return 0, nil
	}
	return result.Results[0].ID, nil
}

func (t *TMDB) toRecord(m *tmdbMovie) *models.ProviderRecord {
	rec := &models.ProviderRecord{
		EntityKind:    models.KindMovie,
		TmdbID:        m.ID,
		ImdbID:        m.ImdbID,
		Title:         m.Title,
		OriginalTitle: m.OriginalTitle,
		Plot:          m.Overview,
		Tagline:       m.Tagline,
		Runtime:       m.Runtime,
		Premiered:     m.ReleaseDate,
		FetchedAt:     time.Now().UTC(),
	}
	if len(m.ReleaseDate) >= 4 {
		fmt.Sscanf(m.ReleaseDate[:4], "%d", &rec.Year)
	}
	for _, g := range m.Genres {
		rec.Genres = append(rec.Genres, g.Name)
	}
	for _, s := range m.ProductionCompanies {
		rec.Studios = append(rec.Studios, s.Name)
	}
	for _, c := range m.ProductionCountries {
		rec.Countries = append(rec.Countries, c.Name)
	}
	if m.BelongsToCollection != nil {
		rec.SetTmdbID = m.BelongsToCollection.ID
		rec.SetName = m.BelongsToCollection.Name
		rec.SetOverview = m.BelongsToCollection.Overview
	}
	rec.MPAA = usCertification(m)
	if m.VoteCount > 0 {
		rec.Ratings = append(rec.Ratings, models.Rating{
			Source:  models.ProviderTMDB,
			Value:   m.VoteAverage,
			Votes:   m.VoteCount,
			Max:     10,
			Default: true,
		})
	}

	appendImages := func(images []tmdbImage, kind string) {
		for _, img := range images {
			rec.Images = append(rec.Images, models.ProviderImage{
				Provider:    models.ProviderTMDB,
				Type:        kind,
				URL:         tmdbImageBase + img.FilePath,
				Width:       img.Width,
				Height:      img.Height,
				Language:    img.Language,
				VoteAverage: img.VoteAverage,
				VoteCount:   img.VoteCount,
			})
		}
	}
	appendImages(m.Images.Posters, "poster")
	appendImages(m.Images.Backdrops, "backdrop")
	appendImages(m.Images.Logos, "logo")

	for _, c := range m.Credits.Cast {
		member := models.ProviderCastMember{
			Provider:  models.ProviderTMDB,
			PersonID:  c.ID,
			Name:      c.Name,
			Role:      c.Character,
			SortOrder: c.Order,
		}
		if c.ProfilePath != "" {
			member.ProfileURL = tmdbImageBase + c.ProfilePath
		}
		rec.Cast = append(rec.Cast, member)
	}

	for _, v := range m.Videos.Results {
		if v.Site != "YouTube" {
			continue
		}
		rec.Videos = append(rec.Videos, models.ProviderVideo{
			Provider: models.ProviderTMDB,
			Type:     strings.ToLower(v.Type),
			URL:      "https://www.youtube.com/watch?v=" + v.Key,
			Name:     v.Name,
			Site:     v.Site,
			Language: v.Language,
		})
	}
	return rec
}

// usCertification extracts the US MPAA certification; the first non-empty
// entry wins.
func usCertification(m *tmdbMovie) string {
	for _, r := range m.ReleaseDates.Results {
		if r.Country != "US" {
			continue
		}
		for _, rel := range r.Releases {
			if rel.Certification != "" {
				return rel.Certification
			}
		}
	}
	return ""
}
