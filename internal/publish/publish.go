// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package publish materializes an entity's accepted assets and sidecar
// metadata into the library directory: one Kodi-named file per cache row
// (hardlinked when the cache and library share a filesystem) and a
// regenerated NFO. Publishing is idempotent; files already matching their
// cache source are left untouched.
package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/nfo"
)

// publishedTypes are materialized in this order.
var publishedTypes = []models.AssetType{
	models.AssetPoster,
	models.AssetBackdrop,
	models.AssetLogo,
	models.AssetBanner,
	models.AssetThumb,
	models.AssetDiscArt,
	models.AssetClearArt,
	models.AssetTrailer,
}

// Result summarizes one publish pass.
type Result struct {
	AssetsWritten int    `json:"assets_written"`
	NFOWritten    bool   `json:"nfo_written"`
	NFOPath       string `json:"nfo_path"`
}

// Publisher writes the library-facing layout for entities.
type Publisher struct {
	db  *database.DB
	bus *events.Bus
}

func NewPublisher(db *database.DB, bus *events.Bus) *Publisher {
	return &Publisher{db: db, bus: bus}
}

// Run publishes one movie: artwork and trailers from the cache registry,
// then the NFO rendered from the database.
func (p *Publisher) Run(ctx context.Context, movieID int64) (*Result, error) {
	movie, err := p.db.GetMovie(ctx, movieID)
	if err != nil {
		return nil, fmt.Errorf("load movie: %w", err)
	}
	if movie.Path == "" {
		return nil, fmt.Errorf("movie %d has no library path", movieID)
	}
	if err := os.MkdirAll(movie.Path, 0o755); err != nil {
		return nil, fmt.Errorf("library dir: %w", err)
	}

	res := &Result{}
	base := movie.BaseName()
	for _, assetType := range publishedTypes {
		files, err := p.db.ListCacheFiles(ctx, models.KindMovie, movieID, assetType)
		if err != nil {
			return nil, fmt.Errorf("cache registry %s: %w", assetType, err)
		}
		for i, cf := range files {
			name := models.KodiAssetFileName(base, assetType, i, filepath.Ext(cf.FilePath))
			if name == "" {
				continue
			}
			target := filepath.Join(movie.Path, name)
			wrote, err := materialize(cf, target)
			if err != nil {
				// One unreadable asset must not block the NFO.
				logging.Ctx(ctx).Warn().Err(err).Str("file", name).Msg("asset publish failed")
				continue
			}
			if wrote {
				res.AssetsWritten++
			}
		}
	}

	nfoPath, wrote, err := p.writeNFO(ctx, movie)
	if err != nil {
		return nil, err
	}
	res.NFOPath = nfoPath
	res.NFOWritten = wrote
	metrics.AssetsPublished.Add(float64(res.AssetsWritten))

	logging.Ctx(ctx).Info().
		Int64("movie_id", movieID).
		Int("assets", res.AssetsWritten).
		Bool("nfo", res.NFOWritten).
		Msg("publish complete")

	if p.bus != nil {
		p.bus.Publish(events.TypeEntityPublished, struct {
			MovieID       int64  `json:"movie_id"`
			AssetsWritten int    `json:"assets_written"`
			NFOPath       string `json:"nfo_path"`
		}{movieID, res.AssetsWritten, nfoPath})
		p.bus.PublishMoviesChanged(events.MoviesChanged{
			EntityKind: models.KindMovie,
			EntityID:   movieID,
			Action:     "updated",
		})
	}
	return res, nil
}

// writeNFO renders the sidecar and rewrites it only when the content
// differs, keeping repeat publishes quiet.
func (p *Publisher) writeNFO(ctx context.Context, movie *models.Movie) (string, bool, error) {
	cast, err := p.db.ListCast(ctx, models.KindMovie, movie.ID)
	if err != nil {
		return "", false, fmt.Errorf("load cast: %w", err)
	}
	ratings, err := p.db.ListRatings(ctx, models.KindMovie, movie.ID)
	if err != nil {
		return "", false, fmt.Errorf("load ratings: %w", err)
	}
	rendered, err := nfo.RenderMovie(movie, cast, ratings)
	if err != nil {
		return "", false, fmt.Errorf("render nfo: %w", err)
	}

	path := filepath.Join(movie.Path, "movie.nfo")
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, rendered) {
		return path, false, nil
	}
	written, err := nfo.WriteMovie(movie, cast, ratings)
	if err != nil {
		return "", false, fmt.Errorf("write nfo: %w", err)
	}
	return written, true, nil
}

// materialize places one cache file at its library path. An existing file
// with the right content hash is left alone; anything else is replaced.
// Hardlink first, copy when the link crosses filesystems.
func materialize(cf models.CacheFile, target string) (bool, error) {
	if hash, err := hashFile(target); err == nil && hash == cf.ContentHash {
		return false, nil
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	if err := os.Link(cf.FilePath, target); err == nil {
		return true, nil
	}
	if err := copyFile(cf.FilePath, target); err != nil {
		return false, err
	}
	return true, nil
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
