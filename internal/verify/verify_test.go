// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/settings"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

type fakeProber struct {
	streams []models.StreamDetail
	calls   int
}

func (f *fakeProber) Probe(_ context.Context, _ string) ([]models.StreamDetail, error) {
	f.calls++
	return f.streams, nil
}

type fixture struct {
	v        *Verifier
	db       *database.DB
	prober   *fakeProber
	movie    *models.Movie
	movieDir string
	cacheDir string
	trashDir string
}

// newFixture builds a movie directory with a main video file whose hash is
// already stored, so tests start from a clean hash check.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	root := t.TempDir()
	movieDir := filepath.Join(root, "Fight Club (1999)")
	if err := os.MkdirAll(movieDir, 0o755); err != nil {
		t.Fatal(err)
	}
	videoPath := filepath.Join(movieDir, "Fight Club (1999).mkv")
	if err := os.WriteFile(videoPath, []byte("fake video payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	videoHash, err := hashFile(videoPath)
	if err != nil {
		t.Fatal(err)
	}

	movie := &models.Movie{
		LibraryID: 1,
		Title:     "Fight Club",
		Year:      1999,
		TmdbID:    550,
		Path:      movieDir,
		VideoFile: "Fight Club (1999).mkv",
		VideoHash: videoHash,
		Monitored: true,
	}
	id, err := db.InsertMovie(context.Background(), movie)
	if err != nil {
		t.Fatalf("insert movie: %v", err)
	}
	movie.ID = id

	st := settings.NewService(db)
	t.Cleanup(st.Close)

	f := &fixture{
		db:       db,
		prober:   &fakeProber{},
		movie:    movie,
		movieDir: movieDir,
		cacheDir: filepath.Join(root, "cache"),
		trashDir: filepath.Join(root, "trash"),
	}
	f.v = NewVerifierWithProber(config.PathsConfig{
		CacheDir: f.cacheDir,
		TrashDir: f.trashDir,
	}, db, st, nil, f.prober)
	return f
}

// seedCacheFile materializes content in the cache dir and registers it.
func (f *fixture) seedCacheFile(t *testing.T, assetType models.AssetType, name string, content []byte) *models.CacheFile {
	t.Helper()
	path := filepath.Join(f.cacheDir, string(assetType), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := hashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cf := &models.CacheFile{
		EntityKind:  models.KindMovie,
		EntityID:    f.movie.ID,
		AssetType:   assetType,
		FilePath:    path,
		FileSize:    int64(len(content)),
		ContentHash: hash,
		Source:      models.CacheSourceProvider,
		Provider:    "tmdb",
	}
	id, err := f.db.InsertCacheFile(context.Background(), cf)
	if err != nil {
		t.Fatalf("insert cache file: %v", err)
	}
	cf.ID = id
	return cf
}

func (f *fixture) libFile(name string) string {
	return filepath.Join(f.movieDir, name)
}

func TestVerifyRestoresMissingAssets(t *testing.T) {
	f := newFixture(t)
	f.seedCacheFile(t, models.AssetPoster, "poster.jpg", []byte("poster bytes"))

	res, err := f.v.Run(context.Background(), f.movie.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.VideoChanged {
		t.Error("video hash should be unchanged")
	}
	// Poster restored plus the regenerated sidecar.
	if res.Restored != 2 || res.Recycled != 0 {
		t.Errorf("result = %+v, want 2 restored", res)
	}

	data, err := os.ReadFile(f.libFile("Fight Club (1999)-poster.jpg"))
	if err != nil {
		t.Fatalf("restored poster: %v", err)
	}
	if string(data) != "poster bytes" {
		t.Errorf("poster content = %q", data)
	}
	if _, err := os.Stat(f.libFile("movie.nfo")); err != nil {
		t.Errorf("regenerated nfo: %v", err)
	}
}

func TestVerifyIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedCacheFile(t, models.AssetPoster, "poster.jpg", []byte("poster bytes"))
	f.seedCacheFile(t, models.AssetBackdrop, "backdrop.jpg", []byte("backdrop bytes"))

	if _, err := f.v.Run(context.Background(), f.movie.ID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := f.v.Run(context.Background(), f.movie.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.VideoChanged || res.Restored != 0 || res.Recycled != 0 {
		t.Errorf("second run = %+v, want no changes", res)
	}
	if _, err := os.Stat(f.trashDir); !os.IsNotExist(err) {
		t.Error("trash batch created on a clean pass")
	}
}

func TestVerifyTamperedAssetRecycledAndRestored(t *testing.T) {
	f := newFixture(t)
	f.seedCacheFile(t, models.AssetPoster, "poster.jpg", []byte("accepted poster"))
	if err := os.WriteFile(f.libFile("Fight Club (1999)-poster.jpg"), []byte("externally replaced"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.libFile("movie.nfo"), []byte("<movie/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.v.Run(context.Background(), f.movie.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.VideoChanged {
		t.Error("video hash should be unchanged")
	}
	if res.Recycled != 1 || res.Restored != 1 {
		t.Errorf("result = %+v, want 1 recycled 1 restored", res)
	}

	data, err := os.ReadFile(f.libFile("Fight Club (1999)-poster.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "accepted poster" {
		t.Errorf("poster content = %q, want cache version", data)
	}

	// Tampered original lives on in the trash batch.
	batches, err := os.ReadDir(f.trashDir)
	if err != nil || len(batches) != 1 {
		t.Fatalf("trash batches = %v (%v)", batches, err)
	}
	trashed, err := os.ReadFile(filepath.Join(f.trashDir, batches[0].Name(), "Fight Club (1999)-poster.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	if string(trashed) != "externally replaced" {
		t.Errorf("trashed content = %q", trashed)
	}
}

func TestVerifyVideoChangeReprobesStreams(t *testing.T) {
	f := newFixture(t)
	f.prober.streams = []models.StreamDetail{
		{StreamType: "video", StreamIndex: 0, Codec: "hevc", Width: 3840, Height: 2160, HDRFormat: "HDR10", Container: "matroska"},
		{StreamType: "audio", StreamIndex: 1, Codec: "eac3", Channels: 6, Language: "en", Default: true},
	}
	f.movie.VideoHash = "stale"
	if err := f.db.UpdateMovie(context.Background(), f.movie); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.libFile("movie.nfo"), []byte("<movie/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := f.v.Run(context.Background(), f.movie.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.VideoChanged {
		t.Error("want VideoChanged")
	}
	if f.prober.calls != 1 {
		t.Errorf("prober calls = %d", f.prober.calls)
	}

	movie, err := f.db.GetMovie(context.Background(), f.movie.ID)
	if err != nil {
		t.Fatal(err)
	}
	if movie.VideoHash == "stale" || movie.VideoHash == "" {
		t.Errorf("video hash = %q, want recomputed", movie.VideoHash)
	}
	streams, err := f.db.ListStreamDetails(context.Background(), models.KindMovie, f.movie.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(streams) != 2 || streams[0].Codec != "hevc" || streams[0].HDRFormat != "HDR10" {
		t.Errorf("streams = %+v", streams)
	}
}

func TestVerifyResidualsRecycledIgnoredKept(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.libFile("movie.nfo"), []byte("<movie/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"installer.exe", "Thumbs.db", ".nomedia", "Fight Club (1999).en.srt"} {
		if err := os.WriteFile(f.libFile(name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	res, err := f.v.Run(context.Background(), f.movie.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Recycled != 1 {
		t.Errorf("recycled = %d, want only installer.exe", res.Recycled)
	}
	if _, err := os.Stat(f.libFile("installer.exe")); !os.IsNotExist(err) {
		t.Error("installer.exe still in library")
	}
	for _, name := range []string{"Thumbs.db", ".nomedia", "Fight Club (1999).en.srt", "movie.nfo"} {
		if _, err := os.Stat(f.libFile(name)); err != nil {
			t.Errorf("%s should be left alone: %v", name, err)
		}
	}
}

func TestExpectedName(t *testing.T) {
	base := "Fight Club (1999)"
	tests := []struct {
		assetType models.AssetType
		i         int
		ext       string
		want      string
	}{
		{models.AssetPoster, 0, ".jpg", "Fight Club (1999)-poster.jpg"},
		{models.AssetBackdrop, 0, ".jpg", "Fight Club (1999)-fanart.jpg"},
		{models.AssetBackdrop, 1, ".jpg", "Fight Club (1999)-fanart1.jpg"},
		{models.AssetLogo, 0, ".png", "Fight Club (1999)-clearlogo.png"},
		{models.AssetTrailer, 0, ".mp4", "Fight Club (1999)-trailer.mp4"},
		{models.AssetTrailer, 2, ".mp4", "Fight Club (1999)-trailer2.mp4"},
		{models.AssetActorThumb, 0, ".jpg", ""},
	}
	for _, tt := range tests {
		if got := expectedName(base, tt.assetType, tt.i, tt.ext); got != tt.want {
			t.Errorf("expectedName(%s, %d) = %q, want %q", tt.assetType, tt.i, got, tt.want)
		}
	}
}
