// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

// tvdbArtworkTypes maps TVDB v4 movie artwork type ids onto provider-native
// image kinds. Unlisted types are skipped.
var tvdbArtworkTypes = map[int]string{
	14: "poster",
	15: "backdrop",
	16: "banner",
	18: "logo",
	19: "clearart",
}

// TVDB is the tertiary provider: fallback scalars and extra artwork for
// movies TMDB covers thinly. v4 requires a bearer token obtained from the
// login endpoint; the token is cached until close to its expiry.
type TVDB struct {
	cfg  config.ProviderConfig
	http *httpClient

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewTVDB(cfg config.ProviderConfig) *TVDB {
	return &TVDB{
		cfg:  cfg,
		http: newHTTPClient(models.ProviderTVDB, cfg.RatePerSecond, cfg.Burst, cfg.Timeout),
	}
}

func (t *TVDB) Name() string { return models.ProviderTVDB }

// tvdb tokens last a month; refresh well before that.
const tvdbTokenLifetime = 27 * 24 * time.Hour

func (t *TVDB) bearerToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.tokenExpiry) {
		return t.token, nil
	}

	payload, err := json.Marshal(map[string]string{"apikey": t.cfg.APIKey})
	if err != nil {
		return "", queue.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.cfg.BaseURL+"/login", bytes.NewReader(payload))
	if err != nil {
		return "", queue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := t.http.getJSON(req, &result); err != nil {
		return "", err
	}
	if result.Data.Token == "" {
		return "", queue.Permanent(fmt.Errorf("tvdb: login returned no token"))
	}
	t.token = result.Data.Token
	t.tokenExpiry = time.Now().Add(tvdbTokenLifetime)
	return t.token, nil
}

type tvdbMovie struct {
	Data struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Year string `json:"year"`
		// Runtime is minutes.
		Runtime  int `json:"runtime"`
		Artworks []struct {
			Image    string `json:"image"`
			Type     int    `json:"type"`
			Width    int    `json:"width"`
			Height   int    `json:"height"`
			Language string `json:"language"`
			Score    int    `json:"score"`
		} `json:"artworks"`
		RemoteIDs []struct {
			ID         string `json:"id"`
			SourceName string `json:"sourceName"`
		} `json:"remoteIds"`
		Translations struct {
			OverviewTranslations []struct {
				Language string `json:"language"`
				Overview string `json:"overview"`
			} `json:"overviewTranslations"`
		} `json:"translations"`
	} `json:"data"`
}

// FetchMovie fetches the extended TVDB record. TVDB is keyed by its own
// id; without one the only route is the IMDB remote-id search, which the
// extended endpoint does not offer, so refs lacking a TVDB id fall back to
// searching by IMDB id.
func (t *TVDB) FetchMovie(ctx context.Context, ref MovieRef) (*models.ProviderRecord, error) {
	token, err := t.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	id, err := t.resolveID(ctx, token, ref)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/movies/%d/extended?meta=translations", t.cfg.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, queue.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var movie tvdbMovie
	if err := t.http.getJSON(req, &movie); err != nil {
		return nil, err
	}
	return t.toRecord(&movie), nil
}

// resolveID finds the TVDB movie id via the remote-id search when the ref
// only carries an IMDB id.
func (t *TVDB) resolveID(ctx context.Context, token string, ref MovieRef) (int64, error) {
	if ref.ImdbID == "" {
		return 0, &queue.Error{
			Kind: queue.KindNotFound,
			Err:  fmt.Errorf("tvdb: no imdb id for %q", ref.Title),
		}
	}
	endpoint := fmt.Sprintf("%s/search/remoteid/%s", t.cfg.BaseURL, ref.ImdbID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, queue.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var result struct {
		Data []struct {
			Movie *struct {
				ID int64 `json:"id"`
			} `json:"movie"`
		} `json:"data"`
	}
	if err := t.http.getJSON(req, &result); err != nil {
		return 0, err
	}
	for _, entry := range result.Data {
		if entry.Movie != nil && entry.Movie.ID != 0 {
			return entry.Movie.ID, nil
		}
	}
	return 0, &queue.Error{
		Kind: queue.KindNotFound,
		Err:  fmt.Errorf("tvdb: no movie for imdb id %s", ref.ImdbID),
	}
}

func (t *TVDB) toRecord(m *tvdbMovie) *models.ProviderRecord {
	rec := &models.ProviderRecord{
		EntityKind: models.KindMovie,
		TvdbID:     m.Data.ID,
		Title:      m.Data.Name,
		Runtime:    m.Data.Runtime,
		FetchedAt:  time.Now().UTC(),
	}
	if len(m.Data.Year) >= 4 {
		fmt.Sscanf(m.Data.Year[:4], "%d", &rec.Year)
	}
	for _, remote := range m.Data.RemoteIDs {
		if remote.SourceName == "IMDB" {
			rec.ImdbID = remote.ID
		}
	}
	for _, tr := range m.Data.Translations.OverviewTranslations {
		if tr.Language == t.cfg.Language && tr.Overview != "" {
			rec.Plot = tr.Overview
			break
		}
	}
	for _, art := range m.Data.Artworks {
		kind, ok := tvdbArtworkTypes[art.Type]
		if !ok {
			continue
		}
		rec.Images = append(rec.Images, models.ProviderImage{
			Provider:  models.ProviderTVDB,
			Type:      kind,
			URL:       art.Image,
			Width:     art.Width,
			Height:    art.Height,
			Language:  art.Language,
			VoteCount: art.Score,
		})
	}
	return rec
}
