// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package scan walks library directories and turns them into entities:
// one movie per directory, identified through sidecar NFO files where
// possible, with existing artwork ingested into the cache registry as
// source=local placeholder rows.
package scan

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/corona10/goimagehash"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/database"
	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/nfo"
)

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".m4v": true, ".avi": true,
	".mov": true, ".wmv": true, ".ts": true, ".webm": true,
}

// reDirName extracts "Title (Year)" from a movie directory name.
var reDirName = regexp.MustCompile(`^(.*?)\s*\((\d{4})\)$`)

// Result summarizes one library walk.
type Result struct {
	LibraryID int64 `json:"library_id"`
	Added     int   `json:"added"`
	Updated   int   `json:"updated"`
	Skipped   int   `json:"skipped"`
	Assets    int   `json:"assets"`
}

// Scanner resolves directories into entities.
type Scanner struct {
	db    *database.DB
	paths config.PathsConfig
	bus   *events.Bus
}

func NewScanner(paths config.PathsConfig, db *database.DB, bus *events.Bus) *Scanner {
	return &Scanner{db: db, paths: paths, bus: bus}
}

// ResolvePath applies the path mapping table and finds the owning enabled
// library by longest prefix. The rewritten path is returned either way.
func (s *Scanner) ResolvePath(ctx context.Context, path string) (string, *models.Library, error) {
	mappings, err := s.db.ListPathMappings(ctx)
	if err != nil {
		return path, nil, fmt.Errorf("path mappings: %w", err)
	}
	mapped := models.ApplyPathMappings(mappings, path)

	libraries, err := s.db.ListLibraries(ctx)
	if err != nil {
		return mapped, nil, fmt.Errorf("libraries: %w", err)
	}
	return mapped, models.ResolveLibrary(libraries, mapped), nil
}

// ScanLibrary walks every first-level directory of a library root. A
// directory without a recognizable video file is skipped, not an error.
func (s *Scanner) ScanLibrary(ctx context.Context, libraryID int64) (*Result, error) {
	library, err := s.db.GetLibrary(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("load library: %w", err)
	}
	entries, err := os.ReadDir(library.RootPath)
	if err != nil {
		return nil, fmt.Errorf("read library root: %w", err)
	}

	res := &Result{LibraryID: libraryID}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		movie, added, err := s.ScanDirectory(ctx, library, filepath.Join(library.RootPath, e.Name()))
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("dir", e.Name()).Msg("directory scan failed")
			continue
		}
		if movie == nil {
			res.Skipped++
			continue
		}
		if added {
			res.Added++
		} else {
			res.Updated++
		}
		n, err := s.DiscoverAssets(ctx, movie)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Int64("movie_id", movie.ID).Msg("asset discovery failed")
		}
		res.Assets += n
	}

	logging.Ctx(ctx).Info().
		Int64("library_id", libraryID).
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("skipped", res.Skipped).
		Msg("library scan complete")
	if s.bus != nil {
		s.bus.Publish(events.TypeScanStatus, res)
	}
	return res, nil
}

// ScanDirectory resolves one movie directory into an entity row. Returns
// (nil, false, nil) when the directory holds no video file.
func (s *Scanner) ScanDirectory(ctx context.Context, library *models.Library, dir string) (*models.Movie, bool, error) {
	videoFile, err := mainVideoFile(dir)
	if err != nil {
		return nil, false, err
	}
	if videoFile == "" {
		return nil, false, nil
	}
	videoBase := strings.TrimSuffix(videoFile, filepath.Ext(videoFile))

	parsed := nfo.Parse(sidecarPaths(dir), videoBase)

	movie, err := s.db.GetMovieByPath(ctx, dir)
	switch {
	case err == nil:
		changed := false
		if movie.VideoFile != videoFile {
			movie.VideoFile = videoFile
			movie.VideoHash = ""
			changed = true
		}
		if parsed.Status == nfo.StatusValid && fillIdentifiers(movie, parsed.Metadata) {
			changed = true
		}
		if changed {
			if err := s.db.UpdateMovie(ctx, movie); err != nil {
				return nil, false, fmt.Errorf("update movie: %w", err)
			}
			s.entityChanged(movie.ID, "updated")
		}
		return movie, false, nil

	case database.IsNotFound(err):
		movie = s.newMovie(library, dir, videoFile, parsed)
		id, err := s.db.InsertMovie(ctx, movie)
		if err != nil {
			return nil, false, fmt.Errorf("insert movie: %w", err)
		}
		movie.ID = id
		s.entityChanged(id, "added")
		return movie, true, nil

	default:
		return nil, false, fmt.Errorf("lookup movie: %w", err)
	}
}

// newMovie builds the entity row from the sidecar when it parsed, falling
// back to the directory name for the title and year.
func (s *Scanner) newMovie(library *models.Library, dir, videoFile string, parsed *nfo.Result) *models.Movie {
	movie := &models.Movie{
		LibraryID: library.ID,
		Path:      dir,
		VideoFile: videoFile,
		Monitored: true,
	}
	title, year := splitDirName(filepath.Base(dir))
	movie.Title = title
	movie.Year = year

	if parsed.Status != nfo.StatusValid {
		movie.IdentificationStatus = models.StatusDiscovered
		if parsed.Status == nfo.StatusAmbiguous {
			logging.Warn().Str("dir", dir).Str("reason", parsed.Diagnostic).Msg("ambiguous sidecars, movie left unidentified")
		}
		return movie
	}

	m := parsed.Metadata
	movie.TmdbID = m.TmdbID
	movie.ImdbID = m.ImdbID
	movie.TvdbID = m.TvdbID
	if m.Title != "" {
		movie.Title = m.Title
	}
	if m.Year != 0 {
		movie.Year = m.Year
	}
	movie.Plot = m.Plot
	movie.Outline = m.Outline
	movie.Tagline = m.Tagline
	movie.Runtime = m.Runtime
	movie.MPAA = m.MPAA
	movie.Premiered = m.Premiered
	movie.Genres = m.Genres
	movie.Directors = m.Directors
	movie.Writers = m.Writers
	movie.Studios = m.Studios
	movie.Countries = m.Countries
	movie.Tags = m.Tags
	movie.SetName = m.SetName
	movie.SetOverview = m.SetOverview
	movie.IdentificationStatus = models.StatusIdentified
	return movie
}

// DiscoverAssets ingests Kodi-named artwork already present in the movie
// directory: each file is copied to the canonical cache path and recorded
// as a source=local row. Selection later supersedes these placeholders.
func (s *Scanner) DiscoverAssets(ctx context.Context, movie *models.Movie) (int, error) {
	entries, err := os.ReadDir(movie.Path)
	if err != nil {
		return 0, fmt.Errorf("read movie dir: %w", err)
	}

	found := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		assetType := classifyAsset(e.Name())
		if assetType == "" {
			continue
		}
		srcPath := filepath.Join(movie.Path, e.Name())
		if err := s.ingestAsset(ctx, movie, assetType, srcPath); err != nil {
			logging.Ctx(ctx).Debug().Err(err).Str("file", e.Name()).Msg("asset ingest skipped")
			continue
		}
		found++
	}
	return found, nil
}

func (s *Scanner) ingestAsset(ctx context.Context, movie *models.Movie, assetType models.AssetType, srcPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if _, err := s.db.GetCacheFileByHash(ctx, models.KindMovie, movie.ID, assetType, hash); err == nil {
		return nil
	} else if !database.IsNotFound(err) {
		return err
	}

	var phash uint64
	if assetType != models.AssetTrailer {
		if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
			if h, err := goimagehash.PerceptionHash(img); err == nil {
				phash = h.GetHash()
			}
		}
	}

	cachePath := filepath.Join(s.paths.CacheDir, string(assetType), hash[:2], hash+filepath.Ext(srcPath))
	if err := writeFileAtomic(cachePath, data); err != nil {
		return err
	}
	_, err = s.db.InsertCacheFile(ctx, &models.CacheFile{
		EntityKind:     models.KindMovie,
		EntityID:       movie.ID,
		AssetType:      assetType,
		FilePath:       cachePath,
		FileSize:       int64(len(data)),
		ContentHash:    hash,
		PerceptualHash: phash,
		Source:         models.CacheSourceLocal,
	})
	return err
}

func (s *Scanner) entityChanged(movieID int64, action string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishMoviesChanged(events.MoviesChanged{
		EntityKind: models.KindMovie,
		EntityID:   movieID,
		Action:     action,
	})
}

// mainVideoFile picks the largest video file in a directory, ignoring
// sample and trailer files.
func mainVideoFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestSize int64 = -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, "-trailer") || strings.Contains(lower, "sample") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = name
			bestSize = info.Size()
		}
	}
	return best, nil
}

func sidecarPaths(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".nfo", ".txt":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

// classifyAsset maps a Kodi artwork filename to its asset type, "" when
// the file is not recognized artwork.
func classifyAsset(name string) models.AssetType {
	ext := strings.ToLower(filepath.Ext(name))
	stem := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))

	if videoExtensions[ext] {
		if strings.HasSuffix(stem, "-trailer") || trailerNumbered(stem) {
			return models.AssetTrailer
		}
		return ""
	}
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif":
	default:
		return ""
	}

	// Bare conventional names.
	switch stem {
	case "poster", "folder", "cover":
		return models.AssetPoster
	case "fanart", "backdrop":
		return models.AssetBackdrop
	case "banner":
		return models.AssetBanner
	case "logo", "clearlogo":
		return models.AssetLogo
	case "landscape":
		return models.AssetThumb
	case "discart", "disc":
		return models.AssetDiscArt
	case "clearart":
		return models.AssetClearArt
	}

	// "<base>-<suffix>" names, optionally numbered ("fanart1").
	suffix := stem
	if i := strings.LastIndexByte(stem, '-'); i >= 0 {
		suffix = stem[i+1:]
	}
	suffix = strings.TrimRight(suffix, "0123456789")
	switch suffix {
	case "poster":
		return models.AssetPoster
	case "fanart", "backdrop":
		return models.AssetBackdrop
	case "banner":
		return models.AssetBanner
	case "logo", "clearlogo":
		return models.AssetLogo
	case "landscape", "thumb":
		return models.AssetThumb
	case "discart", "disc":
		return models.AssetDiscArt
	case "clearart":
		return models.AssetClearArt
	}
	return ""
}

func trailerNumbered(stem string) bool {
	trimmed := strings.TrimRight(stem, "0123456789")
	return strings.HasSuffix(trimmed, "-trailer")
}

func splitDirName(name string) (string, int) {
	if m := reDirName.FindStringSubmatch(name); m != nil {
		year, _ := strconv.Atoi(m[2])
		return strings.TrimSpace(m[1]), year
	}
	return name, 0
}

func fillIdentifiers(movie *models.Movie, m *nfo.Metadata) bool {
	changed := false
	if movie.TmdbID == 0 && m.TmdbID != 0 {
		movie.TmdbID = m.TmdbID
		changed = true
	}
	if movie.ImdbID == "" && m.ImdbID != "" {
		movie.ImdbID = m.ImdbID
		changed = true
	}
	if movie.TvdbID == 0 && m.TvdbID != 0 {
		movie.TvdbID = m.TvdbID
		changed = true
	}
	if changed && movie.IdentificationStatus == models.StatusDiscovered {
		movie.IdentificationStatus = models.StatusIdentified
	}
	return changed
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metarr-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
