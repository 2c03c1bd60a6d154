// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/provider"
	"github.com/metarr/metarr/internal/settings"
)

type fakeFetcher struct {
	res   *models.FetchResult
	err   error
	calls int
}

func (f *fakeFetcher) FetchMovie(ctx context.Context, entityID int64, ref provider.MovieRef, forceRefresh bool) (*models.FetchResult, error) {
	f.calls++
	return f.res, f.err
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

func newTestPipeline(t *testing.T, db *database.DB, fetcher Fetcher) *Pipeline {
	t.Helper()
	st := settings.NewService(db)
	t.Cleanup(st.Close)
	return NewPipeline(config.EnrichConfig{
		MatchThreshold:       0.85,
		DedupThreshold:       0.90,
		DownloadWorkers:      2,
		MaxCandidatesPerType: 50,
	}, config.PathsConfig{
		CacheDir: t.TempDir(),
		TrashDir: t.TempDir(),
	}, "en", db, fetcher, st, nil)
}

func insertTestMovie(t *testing.T, db *database.DB, m *models.Movie) *models.Movie {
	t.Helper()
	if m.Title == "" {
		m.Title = "Fight Club"
	}
	if m.Path == "" {
		m.Path = "/movies/Fight Club (1999)"
	}
	m.LibraryID = 1
	m.Monitored = true
	if m.IdentificationStatus == "" {
		m.IdentificationStatus = models.StatusIdentified
	}
	if _, err := db.InsertMovie(context.Background(), m); err != nil {
		t.Fatalf("insert movie: %v", err)
	}
	return m
}

// assetServer serves deterministic gradient images per path.
func assetServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/poster.png":
			_, _ = w.Write(testPNG(t, 200, 300, 0))
		case "/backdrop.png":
			_, _ = w.Write(testPNG(t, 320, 180, 64))
		case "/actor.png":
			_, _ = w.Write(testPNG(t, 100, 150, 32))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fetchResultFor(srv *httptest.Server) *models.FetchResult {
	return &models.FetchResult{
		Source: models.FetchSourceLive,
		Record: &models.ProviderRecord{
			EntityKind: models.KindMovie,
			TmdbID:     550,
			ImdbID:     "tt0137523",
			Title:      "Fight Club",
			Plot:       "An insomniac and a soap salesman.",
			Year:       1999,
			Runtime:    139,
			Genres:     []string{"Drama"},
			Ratings:    []models.Rating{{Source: models.ProviderTMDB, Value: 8.4, Votes: 26000, Max: 10}},
			Cast: []models.ProviderCastMember{
				{Provider: models.ProviderTMDB, PersonID: 819, Name: "Edward Norton",
					Role: "The Narrator", ProfileURL: srv.URL + "/actor.png"},
			},
			Images: []models.ProviderImage{
				{Provider: models.ProviderTMDB, Type: "poster", URL: srv.URL + "/poster.png",
					Width: 200, Height: 300, Language: "en"},
				{Provider: models.ProviderTMDB, Type: "backdrop", URL: srv.URL + "/backdrop.png",
					Width: 320, Height: 180},
				{Provider: models.ProviderTMDB, Type: "unknown-kind", URL: srv.URL + "/poster.png"},
			},
			FetchedAt: time.Now().UTC(),
		},
	}
}

func TestPipelineRunEndToEnd(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	fetcher := &fakeFetcher{res: fetchResultFor(srv)}
	p := newTestPipeline(t, db, fetcher)
	movie := insertTestMovie(t, db, &models.Movie{Title: "fight club", Year: 1999})

	res, err := p.Run(context.Background(), movie.ID, false, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Changed {
		t.Error("first run should change selections")
	}

	got, err := db.GetMovie(context.Background(), movie.ID)
	if err != nil {
		t.Fatalf("get movie: %v", err)
	}
	if got.Title != "Fight Club" || got.TmdbID != 550 || got.Plot == "" {
		t.Errorf("metadata not applied: %+v", got)
	}
	if got.IdentificationStatus != models.StatusEnriched || got.EnrichedAt == nil {
		t.Errorf("status = %s, enriched_at = %v", got.IdentificationStatus, got.EnrichedAt)
	}

	// Unmapped provider image kinds are skipped.
	cands, err := db.ListCandidates(context.Background(), models.KindMovie, movie.ID, "")
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cands))
	}
	for _, c := range cands {
		if !c.Analyzed || c.Score == 0 || c.ContentHash == "" {
			t.Errorf("candidate %d not fully processed: %+v", c.ID, c)
		}
		if !c.IsSelected || c.SelectedBy != models.SelectedAuto {
			t.Errorf("candidate %d not auto-selected", c.ID)
		}
	}

	// Selected assets are materialized on disk.
	files, err := db.ListCacheFiles(context.Background(), models.KindMovie, movie.ID, "")
	if err != nil {
		t.Fatalf("list cache files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("cache files = %d, want 2", len(files))
	}
	for _, f := range files {
		if _, err := os.Stat(f.FilePath); err != nil {
			t.Errorf("cache file missing on disk: %v", err)
		}
		if f.Source != models.CacheSourceProvider {
			t.Errorf("source = %s, want provider", f.Source)
		}
	}

	// Cast landed with a cached actor thumb.
	cast, err := db.ListCast(context.Background(), models.KindMovie, movie.ID)
	if err != nil {
		t.Fatalf("list cast: %v", err)
	}
	if len(cast) != 1 || cast[0].Actor.Name != "Edward Norton" {
		t.Fatalf("cast = %+v", cast)
	}
	if cast[0].Actor.ImageHash == "" || cast[0].Actor.ImageCachePath == "" {
		t.Errorf("actor thumb not cached: %+v", cast[0].Actor)
	}
}

func TestPipelineSecondRunIsStable(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	fetcher := &fakeFetcher{res: fetchResultFor(srv)}
	p := newTestPipeline(t, db, fetcher)
	movie := insertTestMovie(t, db, &models.Movie{})

	if _, err := p.Run(context.Background(), movie.ID, false, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := p.Run(context.Background(), movie.ID, false, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Changed {
		t.Error("second run over unchanged data should be a selection no-op")
	}
}

func TestPipelineRespectsLocks(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	fetcher := &fakeFetcher{res: fetchResultFor(srv)}
	p := newTestPipeline(t, db, fetcher)
	movie := insertTestMovie(t, db, &models.Movie{
		Title: "My Curated Title",
		Locks: models.MovieLocks{Title: true},
	})

	if _, err := p.Run(context.Background(), movie.ID, false, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := db.GetMovie(context.Background(), movie.ID)
	if err != nil {
		t.Fatalf("get movie: %v", err)
	}
	if got.Title != "My Curated Title" {
		t.Errorf("locked title overwritten: %q", got.Title)
	}
	if got.Plot == "" {
		t.Error("unlocked fields should still be filled")
	}
}

func TestPipelineNoDataSkips(t *testing.T) {
	db := newTestDB(t)
	fetcher := &fakeFetcher{res: &models.FetchResult{
		Source:      models.FetchSourceLive,
		Degraded:    []string{models.ProviderTMDB},
		RateLimited: true,
	}}
	p := newTestPipeline(t, db, fetcher)
	movie := insertTestMovie(t, db, &models.Movie{})

	res, err := p.Run(context.Background(), movie.ID, false, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.NoData || !res.RateLimited {
		t.Errorf("result = %+v, want no-data rate-limited", res)
	}
	got, _ := db.GetMovie(context.Background(), movie.ID)
	if got.IdentificationStatus == models.StatusEnriched {
		t.Error("skipped run must not stamp enriched")
	}
}

func TestPipelineUserPinIsNotOverridden(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	fetcher := &fakeFetcher{res: fetchResultFor(srv)}
	p := newTestPipeline(t, db, fetcher)
	movie := insertTestMovie(t, db, &models.Movie{})
	ctx := context.Background()

	if _, err := p.Run(ctx, movie.ID, false, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	selected, err := db.SelectedCandidateIDs(ctx, models.KindMovie, movie.ID, models.AssetPoster)
	if err != nil || len(selected) != 1 {
		t.Fatalf("selected = %v (%v)", selected, err)
	}
	if err := db.SwapSelection(ctx, models.KindMovie, movie.ID, models.AssetPoster,
		selected, models.SelectedUser); err != nil {
		t.Fatalf("pin selection: %v", err)
	}

	if _, err := p.Run(ctx, movie.ID, false, false); err != nil {
		t.Fatalf("second run: %v", err)
	}
	cands, err := db.ListCandidates(ctx, models.KindMovie, movie.ID, models.AssetPoster)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	for _, c := range cands {
		if c.IsSelected && c.SelectedBy != models.SelectedUser {
			t.Errorf("user pin replaced by %s", c.SelectedBy)
		}
	}
}

func TestPipelineMatchesExistingCacheFile(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	fetcher := &fakeFetcher{res: fetchResultFor(srv)}
	p := newTestPipeline(t, db, fetcher)
	movie := insertTestMovie(t, db, &models.Movie{})
	ctx := context.Background()

	// Pre-seed the cache with the exact poster bytes the provider offers,
	// as a library scan would have.
	data := testPNG(t, 200, 300, 0)
	a, err := analyzeImage(data)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	path := fmt.Sprintf("%s/seeded.png", t.TempDir())
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := db.InsertCacheFile(ctx, &models.CacheFile{
		EntityKind:     models.KindMovie,
		EntityID:       movie.ID,
		AssetType:      models.AssetPoster,
		FilePath:       path,
		FileSize:       int64(len(data)),
		ContentHash:    a.ContentHash,
		PerceptualHash: a.PerceptualHash,
		Source:         models.CacheSourceProvider,
	}); err != nil {
		t.Fatalf("seed cache file: %v", err)
	}

	// Seed the analyzed candidate row too, as a prior interrupted run
	// would have left it, so phase 2 can compare hashes.
	posterURL := srv.URL + "/poster.png"
	cand := &models.Candidate{
		EntityKind: models.KindMovie,
		EntityID:   movie.ID,
		AssetType:  models.AssetPoster,
		Provider:   models.ProviderTMDB,
		URL:        posterURL,
	}
	if err := db.UpsertCandidate(ctx, cand, false); err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	cand.Width = a.Width
	cand.Height = a.Height
	cand.PerceptualHash = a.PerceptualHash
	cand.DifferenceHash = a.DifferenceHash
	cand.Format = a.Format
	if err := db.UpdateCandidateAnalysis(ctx, cand); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}

	if _, err := p.Run(ctx, movie.ID, false, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Phase 2 links the candidate to the seeded file instead of phase 5
	// downloading it again.
	files, err := db.ListCacheFiles(ctx, models.KindMovie, movie.ID, models.AssetPoster)
	if err != nil {
		t.Fatalf("list cache files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("cache files = %d, want the seeded row reused", len(files))
	}
	if files[0].SourceURL != posterURL {
		t.Errorf("provenance not linked: %+v", files[0])
	}

	cands, err := db.ListCandidates(ctx, models.KindMovie, movie.ID, models.AssetPoster)
	if err != nil || len(cands) != 1 {
		t.Fatalf("candidates = %v (%v)", cands, err)
	}
	if !cands[0].IsDownloaded || cands[0].ContentHash != a.ContentHash {
		t.Errorf("candidate not matched: %+v", cands[0])
	}
}

func TestDownloadTempStaysUnderCacheRoot(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	p := newTestPipeline(t, db, &fakeFetcher{})

	tmp, err := p.downloadTemp(context.Background(), srv.URL+"/poster.png")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer func() { _ = os.Remove(tmp) }()

	wantDir := filepath.Join(p.paths.CacheDir, "temp")
	if filepath.Dir(tmp) != wantDir {
		t.Errorf("temp file in %s, want %s", filepath.Dir(tmp), wantDir)
	}
	base := filepath.Base(tmp)
	if !strings.HasPrefix(base, "metarr-analyze-") || !strings.HasSuffix(base, ".tmp") {
		t.Errorf("temp file name = %s, want metarr-analyze-*.tmp", base)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Errorf("temp file missing: %v", err)
	}
}

func TestPipelineReportsFailurePhase(t *testing.T) {
	db := newTestDB(t)
	srv := assetServer(t)
	fetcher := &fakeFetcher{res: fetchResultFor(srv)}
	st := settings.NewService(db)
	t.Cleanup(st.Close)
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	p := NewPipeline(config.EnrichConfig{
		MatchThreshold:       0.85,
		DedupThreshold:       0.90,
		DownloadWorkers:      2,
		MaxCandidatesPerType: 50,
	}, config.PathsConfig{
		CacheDir: t.TempDir(),
		TrashDir: t.TempDir(),
	}, "en", db, fetcher, st, bus)
	movie := insertTestMovie(t, db, &models.Movie{})
	ctx := context.Background()

	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// A corrupt selection count fails the run in the selection phase.
	if err := db.PutSetting(ctx, "select.count.poster", "bogus"); err != nil {
		t.Fatalf("poison setting: %v", err)
	}
	if _, err := p.Run(ctx, movie.ID, false, false); err == nil {
		t.Fatal("run should fail on the corrupt selection count")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-msgs:
			var env events.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				t.Fatalf("unmarshal envelope: %v", err)
			}
			msg.Ack()
			if env.Type != events.TypeEnrichFailed {
				continue
			}
			data, ok := env.Data.(map[string]any)
			if !ok {
				t.Fatalf("data type = %T, want object", env.Data)
			}
			if data["phase"] != float64(5) || data["name"] != "select" {
				t.Errorf("failure = %v, want phase 5 select", data)
			}
			return
		case <-deadline:
			t.Fatal("no failure event for a selection-phase error")
		}
	}
}
