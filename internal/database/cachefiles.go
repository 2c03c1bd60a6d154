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

	"github.com/metarr/metarr/internal/models"
)

const cacheFileColumns = `id, entity_kind, entity_id, asset_type, file_path, file_size,
	content_hash, perceptual_hash, source, source_url, provider, created_at`

// InsertCacheFile registers a materialized asset copy. The unique constraint
// on (entity, asset type, content hash) makes re-runs idempotent.
func (db *DB) InsertCacheFile(ctx context.Context, f *models.CacheFile) (int64, error) {
	f.CreatedAt = time.Now().UTC()
	res, err := db.sql.ExecContext(ctx, `
		INSERT INTO cache_files (entity_kind, entity_id, asset_type, file_path, file_size,
			content_hash, perceptual_hash, source, source_url, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_kind, entity_id, asset_type, content_hash)
		DO UPDATE SET file_path=excluded.file_path, file_size=excluded.file_size,
			perceptual_hash=excluded.perceptual_hash, source=excluded.source,
			source_url=excluded.source_url, provider=excluded.provider`,
		string(f.EntityKind), f.EntityID, string(f.AssetType), f.FilePath, f.FileSize,
		f.ContentHash, int64(f.PerceptualHash), string(f.Source), f.SourceURL,
		f.Provider, toUnix(f.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert cache file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert cache file id: %w", err)
	}
	f.ID = id
	return id, nil
}

// ListCacheFiles returns all cache file rows for an entity, optionally
// filtered by asset type.
func (db *DB) ListCacheFiles(ctx context.Context, kind models.EntityKind, entityID int64, assetType models.AssetType) ([]models.CacheFile, error) {
	query := `SELECT ` + cacheFileColumns + ` FROM cache_files
		WHERE entity_kind = ? AND entity_id = ?`
	args := []any{string(kind), entityID}
	if assetType != "" {
		query += ` AND asset_type = ?`
		args = append(args, string(assetType))
	}
	query += ` ORDER BY id ASC`

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cache files: %w", err)
	}
	defer closeWithLog(rows, "cache file rows")

	var out []models.CacheFile
	for rows.Next() {
		f, err := scanCacheFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// GetCacheFileByHash looks a cache file up by content hash for an entity and
// asset type.
func (db *DB) GetCacheFileByHash(ctx context.Context, kind models.EntityKind, entityID int64, assetType models.AssetType, contentHash string) (*models.CacheFile, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT `+cacheFileColumns+` FROM cache_files
		WHERE entity_kind=? AND entity_id=? AND asset_type=? AND content_hash=?`,
		string(kind), entityID, string(assetType), contentHash)
	return scanCacheFile(row)
}

// UpdateCacheFileProvenance links provider info and perceptual hash into an
// existing cache file row (phase-2 match carry-over and backfill).
func (db *DB) UpdateCacheFileProvenance(ctx context.Context, id int64, provider, sourceURL string, perceptualHash uint64) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE cache_files SET provider=?, source_url=?, perceptual_hash=? WHERE id=?`,
		provider, sourceURL, int64(perceptualHash), id)
	if err != nil {
		return fmt.Errorf("update cache file provenance %d: %w", id, err)
	}
	return nil
}

// DeleteCacheFile removes one cache file row.
func (db *DB) DeleteCacheFile(ctx context.Context, id int64) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM cache_files WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete cache file %d: %w", id, err)
	}
	return nil
}

// DeleteLocalCacheFiles removes every source='local' row for an entity and
// asset type, returning the removed rows so the caller can delete the
// backing files. Scanned-in placeholders are superseded after selection.
func (db *DB) DeleteLocalCacheFiles(ctx context.Context, kind models.EntityKind, entityID int64, assetType models.AssetType) ([]models.CacheFile, error) {
	rows, err := db.ListCacheFiles(ctx, kind, entityID, assetType)
	if err != nil {
		return nil, err
	}
	var removed []models.CacheFile
	for _, f := range rows {
		if f.Source != models.CacheSourceLocal {
			continue
		}
		if err := db.DeleteCacheFile(ctx, f.ID); err != nil {
			return removed, err
		}
		removed = append(removed, f)
	}
	return removed, nil
}

// ListOrphanCacheFiles returns cache file rows whose content hash no longer
// matches any candidate of the same entity. The cleanup job sweeps these.
func (db *DB) ListOrphanCacheFiles(ctx context.Context) ([]models.CacheFile, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT `+cacheFileColumns+` FROM cache_files f
		WHERE f.source = 'provider'
		  AND f.asset_type != 'actorthumb'
		  AND NOT EXISTS (
			SELECT 1 FROM provider_assets a
			WHERE a.entity_kind = f.entity_kind AND a.entity_id = f.entity_id
			  AND a.content_hash = f.content_hash
		)`)
	if err != nil {
		return nil, fmt.Errorf("list orphan cache files: %w", err)
	}
	defer closeWithLog(rows, "orphan cache file rows")

	var out []models.CacheFile
	for rows.Next() {
		f, err := scanCacheFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanCacheFile(row rowScanner) (*models.CacheFile, error) {
	var (
		f           models.CacheFile
		kind, atype string
		phash       int64
		source      string
		createdAt   int64
	)
	err := row.Scan(&f.ID, &kind, &f.EntityID, &atype, &f.FilePath, &f.FileSize,
		&f.ContentHash, &phash, &source, &f.SourceURL, &f.Provider, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cache file: %w", err)
	}
	f.EntityKind = models.EntityKind(kind)
	f.AssetType = models.AssetType(atype)
	f.PerceptualHash = uint64(phash)
	f.Source = models.CacheFileSource(source)
	f.CreatedAt = fromUnix(createdAt)
	return &f, nil
}
