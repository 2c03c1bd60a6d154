// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// Fanart is the artwork-only provider. It contributes no scalar metadata,
// only image candidates keyed by the movie's TMDB id.
type Fanart struct {
	cfg  config.ProviderConfig
	http *httpClient
}

func NewFanart(cfg config.ProviderConfig) *Fanart {
	return &Fanart{
		cfg:  cfg,
		http: newHTTPClient(models.ProviderFanart, cfg.RatePerSecond, cfg.Burst, cfg.Timeout),
	}
}

func (f *Fanart) Name() string { return models.ProviderFanart }

type fanartImage struct {
	URL   string `json:"url"`
	Lang  string `json:"lang"`
	Likes string `json:"likes"`
}

type fanartMovie struct {
	TmdbID string `json:"tmdb_id"`
	ImdbID string `json:"imdb_id"`

	MoviePoster     []fanartImage `json:"movieposter"`
	MovieBackground []fanartImage `json:"moviebackground"`
	HDMovieLogo     []fanartImage `json:"hdmovielogo"`
	MovieLogo       []fanartImage `json:"movielogo"`
	MovieBanner     []fanartImage `json:"moviebanner"`
	MovieThumb      []fanartImage `json:"moviethumb"`
	MovieDisc       []fanartImage `json:"moviedisc"`
	HDMovieClearArt []fanartImage `json:"hdmovieclearart"`
	MovieArt        []fanartImage `json:"movieart"`
}

// FetchMovie fetches the fanart.tv artwork set. Fanart has no search; a
// ref without a TMDB id is a miss.
func (f *Fanart) FetchMovie(ctx context.Context, ref MovieRef) (*models.ProviderRecord, error) {
	if ref.TmdbID == 0 {
		return nil, &queue.Error{
			Kind: queue.KindNotFound,
			Err:  fmt.Errorf("fanart: no tmdb id for %q", ref.Title),
		}
	}

	endpoint := fmt.Sprintf("%s/movies/%d", f.cfg.BaseURL, ref.TmdbID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, queue.Permanent(err)
	}
	req.Header.Set("api-key", f.cfg.APIKey)

	var movie fanartMovie
	if err := f.http.getJSON(req, &movie); err != nil {
		return nil, err
	}

	rec := &models.ProviderRecord{
		EntityKind: models.KindMovie,
		TmdbID:     ref.TmdbID,
		FetchedAt:  time.Now().UTC(),
	}
	appendSet := func(images []fanartImage, kind string, hd bool) {
		for _, img := range images {
			likes, _ := strconv.Atoi(img.Likes)
			lang := img.Lang
			if lang == "00" { // fanart's marker for language-neutral art
				lang = ""
			}
			rec.Images = append(rec.Images, models.ProviderImage{
				Provider:  models.ProviderFanart,
				Type:      kind,
				URL:       img.URL,
				Language:  lang,
				VoteCount: likes,
				IsHD:      hd,
			})
		}
	}
	appendSet(movie.MoviePoster, "poster", false)
	appendSet(movie.MovieBackground, "backdrop", false)
	appendSet(movie.HDMovieLogo, "logo", true)
	appendSet(movie.MovieLogo, "logo", false)
	appendSet(movie.MovieBanner, "banner", false)
	appendSet(movie.MovieThumb, "thumb", false)
	appendSet(movie.MovieDisc, "discart", false)
	appendSet(movie.HDMovieClearArt, "clearart", true)
	appendSet(movie.MovieArt, "clearart", false)
	return rec, nil
}
