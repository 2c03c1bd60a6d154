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

// PutProviderRecord writes a merged provider record and its image child rows
// atomically, replacing any previous cache entry for the key.
func (db *DB) PutProviderRecord(ctx context.Context, cacheKey string, rec *models.ProviderRecord) error {
	images := rec.Images
	stripped := *rec
	stripped.Images = nil // images live in child rows

	payload, err := json.Marshal(&stripped)
	if err != nil {
		return fmt.Errorf("marshal provider record: %w", err)
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO provider_cache (entity_kind, cache_key, record, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (entity_kind, cache_key)
			DO UPDATE SET record=excluded.record, fetched_at=excluded.fetched_at`,
			string(rec.EntityKind), cacheKey, payload, toUnix(rec.FetchedAt)); err != nil {
			return fmt.Errorf("upsert provider record: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM provider_images WHERE entity_kind=? AND cache_key=?`,
			string(rec.EntityKind), cacheKey); err != nil {
			return fmt.Errorf("clear provider images: %w", err)
		}
		for _, img := range images {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO provider_images (entity_kind, cache_key, provider, type, url,
					width, height, language, vote_average, vote_count, is_hd)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(rec.EntityKind), cacheKey, img.Provider, img.Type, img.URL,
				img.Width, img.Height, img.Language, img.VoteAverage, img.VoteCount,
				boolToInt(img.IsHD)); err != nil {
				return fmt.Errorf("insert provider image: %w", err)
			}
		}
		return nil
	})
}

// GetProviderRecord loads a cached record (with image child rows rehydrated)
// or ErrNotFound.
func (db *DB) GetProviderRecord(ctx context.Context, kind models.EntityKind, cacheKey string) (*models.ProviderRecord, error) {
	var (
		payload   []byte
		fetchedAt int64
	)
	err := db.sql.QueryRowContext(ctx,
		`SELECT record, fetched_at FROM provider_cache WHERE entity_kind=? AND cache_key=?`,
		string(kind), cacheKey).Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider record: %w", err)
	}

	var rec models.ProviderRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal provider record: %w", err)
	}
	rec.FetchedAt = fromUnix(fetchedAt)

	rows, err := db.sql.QueryContext(ctx, `
		SELECT provider, type, url, width, height, language, vote_average, vote_count, is_hd
		FROM provider_images WHERE entity_kind=? AND cache_key=? ORDER BY id ASC`,
		string(kind), cacheKey)
	if err != nil {
		return nil, fmt.Errorf("get provider images: %w", err)
	}
	defer closeWithLog(rows, "provider image rows")

	for rows.Next() {
		var (
			img  models.ProviderImage
			isHD int
		)
		if err := rows.Scan(&img.Provider, &img.Type, &img.URL, &img.Width, &img.Height,
			&img.Language, &img.VoteAverage, &img.VoteCount, &isHD); err != nil {
			return nil, fmt.Errorf("scan provider image: %w", err)
		}
		img.IsHD = isHD != 0
		rec.Images = append(rec.Images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpsertRefreshLog records the outcome of a provider freshness check.
func (db *DB) UpsertRefreshLog(ctx context.Context, entry *models.RefreshLog) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO refresh_log (entity_kind, entity_id, provider, last_checked,
			last_modified, needs_refresh)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_kind, entity_id, provider)
		DO UPDATE SET last_checked=excluded.last_checked,
			last_modified=excluded.last_modified, needs_refresh=excluded.needs_refresh`,
		string(entry.EntityKind), entry.EntityID, entry.Provider,
		toUnix(entry.LastChecked), toNullUnix(entry.LastModified),
		boolToInt(entry.NeedsRefresh))
	if err != nil {
		return fmt.Errorf("upsert refresh log: %w", err)
	}
	return nil
}

// GetRefreshLog loads one refresh log entry or ErrNotFound.
func (db *DB) GetRefreshLog(ctx context.Context, kind models.EntityKind, entityID int64, provider string) (*models.RefreshLog, error) {
	var (
		entry        models.RefreshLog
		lastChecked  int64
		lastModified sql.NullInt64
		needs        int
	)
	err := db.sql.QueryRowContext(ctx, `
		SELECT last_checked, last_modified, needs_refresh FROM refresh_log
		WHERE entity_kind=? AND entity_id=? AND provider=?`,
		string(kind), entityID, provider).Scan(&lastChecked, &lastModified, &needs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh log: %w", err)
	}
	entry.EntityKind = kind
	entry.EntityID = entityID
	entry.Provider = provider
	entry.LastChecked = fromUnix(lastChecked)
	entry.LastModified = fromNullUnix(lastModified)
	entry.NeedsRefresh = needs != 0
	return &entry, nil
}

// PruneProviderCache drops cache entries older than maxAge.
func (db *DB) PruneProviderCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := db.sql.ExecContext(ctx,
		`DELETE FROM provider_cache WHERE fetched_at < ?`, toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune provider cache: %w", err)
	}
	return res.RowsAffected()
}
