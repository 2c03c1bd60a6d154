// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package verify reconciles an entity's on-disk directory with the cache
// registry: missing accepted assets are restored, tampered files are
// recycled and replaced, and unauthorized residuals are moved to trash.
// Verification is idempotent; a second run on an undisturbed directory
// makes no filesystem changes.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/nfo"
	"github.com/metarr/metarr/internal/settings"
)

// verifiedTypes are the asset types reconciled against the library
// directory, in the order their sidecars are checked.
var verifiedTypes = []models.AssetType{
	models.AssetPoster,
	models.AssetBackdrop,
	models.AssetLogo,
	models.AssetBanner,
	models.AssetThumb,
	models.AssetDiscArt,
	models.AssetClearArt,
	models.AssetTrailer,
}

// Result summarizes one verification pass. The workflow layer uses
// VideoChanged to decide between re-publish and player notification.
type Result struct {
	VideoChanged bool `json:"video_changed"`
	Restored     int  `json:"restored"`
	Recycled     int  `json:"recycled"`
}

// changed reports whether any asset file was touched.
func (r *Result) changed() bool {
	return r.Restored > 0 || r.Recycled > 0
}

// Verifier reconciles entity directories.
type Verifier struct {
	paths    config.PathsConfig
	db       *database.DB
	settings *settings.Service
	bus      *events.Bus
	prober   Prober
}

func NewVerifier(cfg config.VerifyConfig, paths config.PathsConfig, db *database.DB, st *settings.Service, bus *events.Bus) *Verifier {
	return &Verifier{
		paths:    paths,
		db:       db,
		settings: st,
		bus:      bus,
		prober:   &FFProbe{Binary: cfg.FFProbePath},
	}
}

// NewVerifierWithProber injects a prober; tests use it to avoid shelling
// out to ffprobe.
func NewVerifierWithProber(paths config.PathsConfig, db *database.DB, st *settings.Service, bus *events.Bus, prober Prober) *Verifier {
	return &Verifier{paths: paths, db: db, settings: st, bus: bus, prober: prober}
}

// run carries per-pass state so concurrent verifications share one trash
// batch directory each, never each other's.
type run struct {
	v        *Verifier
	movie    *models.Movie
	trashDir string
}

// Run verifies one movie directory end to end.
func (v *Verifier) Run(ctx context.Context, movieID int64) (*Result, error) {
	movie, err := v.db.GetMovie(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("load movie: %w", err)
	}
	log := logging.Ctx(ctx).With().Int64("movie_id", movieID).Str("path", movie.Path).Logger()

	r := &run{v: v, movie: movie}
	res := &Result{}

	if err := r.checkVideo(ctx, res); err != nil {
		return nil, err
	}

	snapshot, err := r.snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", movie.Path, err)
	}

	r.checkAssets(ctx, res, snapshot)
	r.checkNFO(ctx, res, snapshot)
	r.checkResiduals(ctx, res, snapshot)

	metrics.VerifyRestored.Add(float64(res.Restored))
	metrics.VerifyRecycled.Add(float64(res.Recycled))

	log.Info().
		Bool("video_changed", res.VideoChanged).
		Int("restored", res.Restored).
		Int("recycled", res.Recycled).
		Msg("verification complete")

	if v.bus != nil {
		v.bus.Publish(events.TypeVerifyCompleted, struct {
			MovieID      int64 `json:"movie_id"`
			VideoChanged bool  `json:"video_changed"`
			Restored     int   `json:"restored"`
			Recycled     int   `json:"recycled"`
		}{movieID, res.VideoChanged, res.Restored, res.Recycled})
	}
	return res, nil
}

// checkVideo hashes the main media file and, when the hash moved,
// re-extracts stream metadata and swaps the stream rows.
func (r *run) checkVideo(ctx context.Context, res *Result) error {
	if r.movie.VideoFile == "" {
		return nil
	}
	videoPath := filepath.Join(r.movie.Path, r.movie.VideoFile)
	hash, err := hashFile(videoPath)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", videoPath).Msg("main video unreadable, hash check skipped")
		return nil
	}
	if hash == r.movie.VideoHash {
		return nil
	}

	if r.v.prober != nil {
		streams, err := r.v.prober.Probe(ctx, videoPath)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("path", videoPath).Msg("stream probe failed, keeping previous stream rows")
		} else if err := r.v.db.ReplaceStreamDetails(ctx, models.KindMovie, r.movie.ID, streams); err != nil {
			return fmt.Errorf("replace streams: %w", err)
		}
	}

	r.movie.VideoHash = hash
	if err := r.v.db.UpdateMovie(ctx, r.movie); err != nil {
		return fmt.Errorf("update video hash: %w", err)
	}
	res.VideoChanged = true
	return nil
}

// snapshot maps filename to directory entry, minus subdirectories and the
// main video file.
func (r *run) snapshot() (map[string]os.DirEntry, error) {
	entries, err := os.ReadDir(r.movie.Path)
	if err != nil {
		return nil, err
	}
	snap := make(map[string]os.DirEntry, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		snap[e.Name()] = e
	}
	delete(snap, r.movie.VideoFile)
	return snap, nil
}

// checkAssets diffs the cache registry against the directory. Restore and
// recycle failures are best effort; one bad file never aborts the pass.
func (r *run) checkAssets(ctx context.Context, res *Result, snapshot map[string]os.DirEntry) {
	base := r.movie.BaseName()
	for _, assetType := range verifiedTypes {
		files, err := r.v.db.ListCacheFiles(ctx, models.KindMovie, r.movie.ID, assetType)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("asset_type", string(assetType)).Msg("cache registry unreadable")
			continue
		}
		for i, cf := range files {
			name := expectedName(base, assetType, i, filepath.Ext(cf.FilePath))
			if name == "" {
				continue
			}
			libPath := filepath.Join(r.movie.Path, name)

			if _, present := snapshot[name]; !present {
				if err := copyFile(cf.FilePath, libPath); err != nil {
					logging.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("restore failed")
					continue
				}
				res.Restored++
				continue
			}
			delete(snapshot, name)

			hash, err := hashFile(libPath)
			if err == nil && hash == cf.ContentHash {
				continue
			}
			if err := r.recycle(ctx, libPath); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("recycle failed")
				continue
			}
			res.Recycled++
			if err := copyFile(cf.FilePath, libPath); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("restore after recycle failed")
				continue
			}
			res.Restored++
		}
	}
}

// checkNFO regenerates a missing sidecar from the database. An existing
// sidecar is authorized regardless of content; freshness belongs to the
// publisher.
func (r *run) checkNFO(ctx context.Context, res *Result, snapshot map[string]os.DirEntry) {
	_, generic := snapshot["movie.nfo"]
	exactName := r.movie.BaseName() + ".nfo"
	_, exact := snapshot[exactName]
	delete(snapshot, "movie.nfo")
	delete(snapshot, exactName)
	if generic || exact {
		return
	}

	cast, err := r.v.db.ListCast(ctx, models.KindMovie, r.movie.ID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("cast load failed, nfo not regenerated")
		return
	}
	ratings, err := r.v.db.ListRatings(ctx, models.KindMovie, r.movie.ID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("ratings load failed, nfo not regenerated")
		return
	}
	if _, err := nfo.WriteMovie(r.movie, cast, ratings); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("nfo regeneration failed")
		return
	}
	res.Restored++
}

func (r *run) checkResiduals(ctx context.Context, res *Result, snapshot map[string]os.DirEntry) {
	base := r.movie.BaseName()
	for name := range snapshot {
		if ignoredFile(name) || isSubtitle(base, name) {
			continue
		}
		if err := r.recycle(ctx, filepath.Join(r.movie.Path, name)); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("residual recycle failed")
			continue
		}
		logging.Ctx(ctx).Info().Str("file", name).Msg("unauthorized file recycled")
		res.Recycled++
	}
}

// recycle moves a file to this pass's trash batch directory; deletion is
// the fallback only when the recycle bin is disabled.
func (r *run) recycle(ctx context.Context, path string) error {
	enabled := true
	if r.v.settings != nil {
		if v, err := r.v.settings.Bool(ctx, settings.KeyRecycleEnabled); err == nil {
			enabled = v
		}
	}
	if !enabled {
		return os.Remove(path)
	}

	if r.trashDir == "" {
		batch := fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.NewString()[:8])
		r.trashDir = filepath.Join(r.v.paths.TrashDir, batch)
		if err := os.MkdirAll(r.trashDir, 0o755); err != nil {
			return err
		}
	}
	dest := filepath.Join(r.trashDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		// Cross-device trash mounts cannot be renamed into.
		if err := copyFile(path, dest); err != nil {
			return err
		}
		return os.Remove(path)
	}
	return nil
}

func expectedName(base string, assetType models.AssetType, i int, ext string) string {
	return models.KodiAssetFileName(base, assetType, i, ext)
}

func ignoredFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch strings.ToLower(name) {
	case "thumbs.db", "desktop.ini":
		return true
	}
	return false
}

// isSubtitle authorizes "<base>.<lang>.srt" and "<base>.srt" files; they
// have no cache-registry source to verify against.
func isSubtitle(base, name string) bool {
	return strings.HasPrefix(name, base+".") && strings.HasSuffix(strings.ToLower(name), ".srt")
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile writes dst via a temp file in the destination directory so a
// crash never leaves a truncated asset in the library.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".metarr-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
