// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/queue"
)

type fakeClient struct {
	name  string
	rec   *models.ProviderRecord
	err   error
	calls int
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) FetchMovie(ctx context.Context, ref MovieRef) (*models.ProviderRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testProvidersConfig() config.ProvidersConfig {
	return config.ProvidersConfig{
		CacheTTL:          time.Hour,
		FreshnessInterval: time.Hour,
	}
}

func TestOrchestratorLiveFetchAndCache(t *testing.T) {
	db := newTestDB(t)
	tmdb := &fakeClient{name: models.ProviderTMDB, rec: &models.ProviderRecord{
		EntityKind: models.KindMovie,
		TmdbID:     550,
		Title:      "Fight Club",
		FetchedAt:  time.Now().UTC(),
	}}
	o := NewOrchestratorWithClients(testProvidersConfig(), db, nil, tmdb)

	ref := MovieRef{TmdbID: 550}
	res, err := o.FetchMovie(context.Background(), 1, ref, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Source != models.FetchSourceLive {
		t.Errorf("source = %s, want live", res.Source)
	}
	if res.Record == nil || res.Record.Title != "Fight Club" {
		t.Fatalf("record = %+v", res.Record)
	}

	// Second fetch within the TTL hits the cache, not the client.
	res, err = o.FetchMovie(context.Background(), 1, ref, false)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if res.Source != models.FetchSourceCache {
		t.Errorf("source = %s, want cache", res.Source)
	}
	if tmdb.calls != 1 {
		t.Errorf("client calls = %d, want 1", tmdb.calls)
	}

	entry, err := db.GetRefreshLog(context.Background(), models.KindMovie, 1, models.ProviderTMDB)
	if err != nil {
		t.Fatalf("refresh log: %v", err)
	}
	if entry.NeedsRefresh {
		t.Error("successful fetch should not flag needs_refresh")
	}
}

func TestOrchestratorForceRefreshBypassesCache(t *testing.T) {
	db := newTestDB(t)
	tmdb := &fakeClient{name: models.ProviderTMDB, rec: &models.ProviderRecord{
		EntityKind: models.KindMovie, TmdbID: 550, Title: "Fight Club",
		FetchedAt: time.Now().UTC(),
	}}
	o := NewOrchestratorWithClients(testProvidersConfig(), db, nil, tmdb)

	ref := MovieRef{TmdbID: 550}
	if _, err := o.FetchMovie(context.Background(), 1, ref, false); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	res, err := o.FetchMovie(context.Background(), 1, ref, true)
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if res.Source != models.FetchSourceLive {
		t.Errorf("source = %s, want live", res.Source)
	}
	if tmdb.calls != 2 {
		t.Errorf("client calls = %d, want 2", tmdb.calls)
	}
}

func TestOrchestratorDegradedProviderStillMerges(t *testing.T) {
	db := newTestDB(t)
	tmdb := &fakeClient{name: models.ProviderTMDB, rec: &models.ProviderRecord{
		EntityKind: models.KindMovie, TmdbID: 550, Title: "Fight Club",
		FetchedAt: time.Now().UTC(),
	}}
	fanart := &fakeClient{name: models.ProviderFanart,
		err: queue.Transient(errors.New("upstream down"))}
	o := NewOrchestratorWithClients(testProvidersConfig(), db, nil, tmdb, fanart)

	res, err := o.FetchMovie(context.Background(), 1, MovieRef{TmdbID: 550}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Record == nil || res.Record.Title != "Fight Club" {
		t.Fatalf("record = %+v", res.Record)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != models.ProviderFanart {
		t.Errorf("degraded = %v", res.Degraded)
	}

	entry, err := db.GetRefreshLog(context.Background(), models.KindMovie, 1, models.ProviderFanart)
	if err != nil {
		t.Fatalf("refresh log: %v", err)
	}
	if !entry.NeedsRefresh {
		t.Error("degraded provider should flag needs_refresh")
	}
}

func TestOrchestratorNotFoundIsNotDegraded(t *testing.T) {
	db := newTestDB(t)
	tmdb := &fakeClient{name: models.ProviderTMDB, rec: &models.ProviderRecord{
		EntityKind: models.KindMovie, TmdbID: 550, Title: "Fight Club",
		FetchedAt: time.Now().UTC(),
	}}
	fanart := &fakeClient{name: models.ProviderFanart, err: &queue.Error{
		Kind: queue.KindNotFound, Err: errors.New("no art")}}
	o := NewOrchestratorWithClients(testProvidersConfig(), db, nil, tmdb, fanart)

	res, err := o.FetchMovie(context.Background(), 1, MovieRef{TmdbID: 550}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Degraded) != 0 {
		t.Errorf("degraded = %v, want empty", res.Degraded)
	}
}

func TestOrchestratorAllFailedServesStale(t *testing.T) {
	db := newTestDB(t)
	rec := &models.ProviderRecord{
		EntityKind: models.KindMovie, TmdbID: 550, Title: "Fight Club",
		FetchedAt: time.Now().UTC().Add(-2 * time.Hour), // past the TTL
	}
	if err := db.PutProviderRecord(context.Background(), "tmdb:550", rec); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	tmdb := &fakeClient{name: models.ProviderTMDB,
		err: queue.Transient(errors.New("upstream down"))}
	o := NewOrchestratorWithClients(testProvidersConfig(), db, nil, tmdb)

	res, err := o.FetchMovie(context.Background(), 1, MovieRef{TmdbID: 550}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Source != models.FetchSourceCache {
		t.Errorf("source = %s, want stale cache", res.Source)
	}
	if res.Record == nil || res.Record.Title != "Fight Club" {
		t.Fatalf("record = %+v", res.Record)
	}
	if res.Age < time.Hour {
		t.Errorf("age = %s, want stale", res.Age)
	}
}

func TestOrchestratorAllFailedNoCacheIsNoData(t *testing.T) {
	db := newTestDB(t)
	tmdb := &fakeClient{name: models.ProviderTMDB,
		err: queue.Transient(errors.New("upstream down"))}
	o := NewOrchestratorWithClients(testProvidersConfig(), db, nil, tmdb)

	res, err := o.FetchMovie(context.Background(), 1, MovieRef{TmdbID: 550}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.Record != nil {
		t.Errorf("record = %+v, want nil no-data result", res.Record)
	}
	if len(res.Degraded) != 1 {
		t.Errorf("degraded = %v", res.Degraded)
	}
}

func TestOrchestratorEmptyRef(t *testing.T) {
	o := NewOrchestratorWithClients(testProvidersConfig(), newTestDB(t), nil,
		&fakeClient{name: models.ProviderTMDB})
	_, err := o.FetchMovie(context.Background(), 1, MovieRef{}, false)
	if got := queue.Classify(err); got != queue.KindValidation {
		t.Errorf("kind = %s, want validation", got)
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		ref  MovieRef
		want string
	}{
		{MovieRef{TmdbID: 550, ImdbID: "tt0137523"}, "tmdb:550"},
		{MovieRef{ImdbID: "tt0137523"}, "imdb:tt0137523"},
		{MovieRef{Title: "Fight Club", Year: 1999}, "title:Fight Club:1999"},
	}
	for _, tc := range tests {
		if got := cacheKey(tc.ref); got != tc.want {
			t.Errorf("cacheKey(%+v) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}
