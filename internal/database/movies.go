// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/models"
)

const movieColumns = `id, library_id, title, original_title, sort_title, year, plot, outline,
	tagline, runtime, mpaa, premiered, tmdb_id, imdb_id, tvdb_id, genres, studios,
	countries, tags, directors, writers, set_name, set_overview, set_tmdb_id, path,
	video_file, video_hash, monitored, identification_status, enriched_at, locks,
	created_at, updated_at`

// InsertMovie creates a movie row and returns its id.
func (db *DB) InsertMovie(ctx context.Context, m *models.Movie) (int64, error) {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	res, err := db.sql.ExecContext(ctx, `
		INSERT INTO movies (library_id, title, original_title, sort_title, year, plot,
			outline, tagline, runtime, mpaa, premiered, tmdb_id, imdb_id, tvdb_id,
			genres, studios, countries, tags, directors, writers, set_name,
			set_overview, set_tmdb_id, path, video_file, video_hash, monitored,
			identification_status, enriched_at, locks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.LibraryID, m.Title, m.OriginalTitle, m.SortTitle, m.Year, m.Plot,
		m.Outline, m.Tagline, m.Runtime, m.MPAA, m.Premiered, m.TmdbID, m.ImdbID, m.TvdbID,
		marshalJSON(m.Genres), marshalJSON(m.Studios), marshalJSON(m.Countries),
		marshalJSON(m.Tags), marshalJSON(m.Directors), marshalJSON(m.Writers),
		m.SetName, m.SetOverview, m.SetTmdbID, m.Path, m.VideoFile, m.VideoHash,
		boolToInt(m.Monitored), string(m.IdentificationStatus), toNullUnix(m.EnrichedAt),
		marshalJSON(m.Locks), toUnix(m.CreatedAt), toUnix(m.UpdatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert movie: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert movie id: %w", err)
	}
	m.ID = id
	return id, nil
}

// UpdateMovie persists every mutable movie column.
func (db *DB) UpdateMovie(ctx context.Context, m *models.Movie) error {
	m.UpdatedAt = time.Now().UTC()
	_, err := db.sql.ExecContext(ctx, `
		UPDATE movies SET library_id=?, title=?, original_title=?, sort_title=?, year=?,
			plot=?, outline=?, tagline=?, runtime=?, mpaa=?, premiered=?, tmdb_id=?,
			imdb_id=?, tvdb_id=?, genres=?, studios=?, countries=?, tags=?, directors=?,
			writers=?, set_name=?, set_overview=?, set_tmdb_id=?, path=?, video_file=?,
			video_hash=?, monitored=?, identification_status=?, enriched_at=?, locks=?,
			updated_at=?
		WHERE id=?`,
		m.LibraryID, m.Title, m.OriginalTitle, m.SortTitle, m.Year,
		m.Plot, m.Outline, m.Tagline, m.Runtime, m.MPAA, m.Premiered, m.TmdbID,
		m.ImdbID, m.TvdbID, marshalJSON(m.Genres), marshalJSON(m.Studios),
		marshalJSON(m.Countries), marshalJSON(m.Tags), marshalJSON(m.Directors),
		marshalJSON(m.Writers), m.SetName, m.SetOverview, m.SetTmdbID, m.Path,
		m.VideoFile, m.VideoHash, boolToInt(m.Monitored), string(m.IdentificationStatus),
		toNullUnix(m.EnrichedAt), marshalJSON(m.Locks), toUnix(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("update movie %d: %w", m.ID, err)
	}
	return nil
}

// GetMovie loads one movie by id.
func (db *DB) GetMovie(ctx context.Context, id int64) (*models.Movie, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE id = ?`, id)
	return scanMovie(row)
}

// GetMovieByPath loads one movie by its directory path.
func (db *DB) GetMovieByPath(ctx context.Context, path string) (*models.Movie, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE path = ?`, path)
	return scanMovie(row)
}

// GetMovieByTmdbID loads one movie by its TMDB identifier.
func (db *DB) GetMovieByTmdbID(ctx context.Context, tmdbID int64) (*models.Movie, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE tmdb_id = ? AND tmdb_id > 0`, tmdbID)
	return scanMovie(row)
}

// ListMonitoredMovies returns every monitored movie in id order. The bulk
// enrichment scheduler walks this list.
func (db *DB) ListMonitoredMovies(ctx context.Context) ([]models.Movie, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE monitored = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list monitored movies: %w", err)
	}
	defer closeWithLog(rows, "movie rows")
	return scanMovies(rows)
}

// ListMoviesByLibrary returns all movies in a library in id order.
func (db *DB) ListMoviesByLibrary(ctx context.Context, libraryID int64) ([]models.Movie, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE library_id = ? ORDER BY id ASC`, libraryID)
	if err != nil {
		return nil, fmt.Errorf("list movies by library: %w", err)
	}
	defer closeWithLog(rows, "movie rows")
	return scanMovies(rows)
}

// ListMovies pages through every movie in id order.
func (db *DB) ListMovies(ctx context.Context, limit, offset int) ([]models.Movie, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT `+movieColumns+` FROM movies ORDER BY id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list movies: %w", err)
	}
	defer closeWithLog(rows, "movie rows")
	return scanMovies(rows)
}

// CountMovies returns the total movie count for pagination.
func (db *DB) CountMovies(ctx context.Context) (int64, error) {
	var n int64
	err := db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM movies`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count movies: %w", err)
	}
	return n, nil
}

// ListMoviesCheckedBefore returns monitored movies whose refresh log entry
// for provider is older than cutoff (or missing entirely).
func (db *DB) ListMoviesCheckedBefore(ctx context.Context, provider string, cutoff time.Time) ([]models.Movie, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT `+movieColumns+` FROM movies m
		WHERE m.monitored = 1 AND NOT EXISTS (
			SELECT 1 FROM refresh_log r
			WHERE r.entity_kind = 'movie' AND r.entity_id = m.id
			  AND r.provider = ? AND r.last_checked >= ? AND r.needs_refresh = 0
		)
		ORDER BY m.id ASC`, provider, toUnix(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale movies: %w", err)
	}
	defer closeWithLog(rows, "movie rows")
	return scanMovies(rows)
}

// DeleteMoviesByLibrary removes all movies of a library. Only explicit
// library removal deletes entities.
func (db *DB) DeleteMoviesByLibrary(ctx context.Context, libraryID int64) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM movies WHERE library_id = ?`, libraryID)
	if err != nil {
		return fmt.Errorf("delete movies by library: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovie(row rowScanner) (*models.Movie, error) {
	var (
		m          models.Movie
		genres     string
		studios    string
		countries  string
		tags       string
		directors  string
		writers    string
		monitored  int
		status     string
		enrichedAt sql.NullInt64
		locks      string
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&m.ID, &m.LibraryID, &m.Title, &m.OriginalTitle, &m.SortTitle,
		&m.Year, &m.Plot, &m.Outline, &m.Tagline, &m.Runtime, &m.MPAA, &m.Premiered,
		&m.TmdbID, &m.ImdbID, &m.TvdbID, &genres, &studios, &countries, &tags,
		&directors, &writers, &m.SetName, &m.SetOverview, &m.SetTmdbID, &m.Path,
		&m.VideoFile, &m.VideoHash, &monitored, &status, &enrichedAt, &locks,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan movie: %w", err)
	}

	unmarshalJSON(genres, &m.Genres)
	unmarshalJSON(studios, &m.Studios)
	unmarshalJSON(countries, &m.Countries)
	unmarshalJSON(tags, &m.Tags)
	unmarshalJSON(directors, &m.Directors)
	unmarshalJSON(writers, &m.Writers)
	unmarshalJSON(locks, &m.Locks)
	m.Monitored = monitored != 0
	m.IdentificationStatus = models.IdentificationStatus(status)
	m.EnrichedAt = fromNullUnix(enrichedAt)
	m.CreatedAt = fromUnix(createdAt)
	m.UpdatedAt = fromUnix(updatedAt)
	return &m, nil
}

func scanMovies(rows *sql.Rows) ([]models.Movie, error) {
	var out []models.Movie
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalJSON(s string, v any) {
	if s == "" {
		return
	}
	// Corrupt JSON in a row degrades to zero values rather than failing reads.
	_ = json.Unmarshal([]byte(s), v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
