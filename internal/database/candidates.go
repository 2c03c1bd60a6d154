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

const candidateColumns = `id, entity_kind, entity_id, asset_type, provider, url, width, height,
	language, vote_average, vote_count, content_hash, perceptual_hash, difference_hash,
	format, alpha_ratio, foreground_ratio, analyzed, is_downloaded, is_selected,
	is_rejected, score, selected_at, selected_by, created_at, updated_at`

// UpsertCandidate inserts a candidate keyed by (entity, url). When the row
// already exists, refreshMetadata decides whether provider metadata (votes,
// language, dimensions) overwrites the stored values: manual runs refresh,
// automated runs leave existing rows untouched.
func (db *DB) UpsertCandidate(ctx context.Context, c *models.Candidate, refreshMetadata bool) error {
	now := time.Now().UTC()

	var existingID int64
	err := db.sql.QueryRowContext(ctx,
		`SELECT id FROM provider_assets WHERE entity_kind=? AND entity_id=? AND url=?`,
		string(c.EntityKind), c.EntityID, c.URL).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := db.sql.ExecContext(ctx, `
			INSERT INTO provider_assets (entity_kind, entity_id, asset_type, provider,
				url, width, height, language, vote_average, vote_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(c.EntityKind), c.EntityID, string(c.AssetType), c.Provider,
			c.URL, c.Width, c.Height, c.Language, c.VoteAverage, c.VoteCount,
			toUnix(now), toUnix(now))
		if err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert candidate id: %w", err)
		}
		c.ID = id
		return nil
	case err != nil:
		return fmt.Errorf("lookup candidate: %w", err)
	}

	c.ID = existingID
	if !refreshMetadata {
		return nil
	}
	_, err = db.sql.ExecContext(ctx, `
		UPDATE provider_assets SET width=?, height=?, language=?, vote_average=?,
			vote_count=?, updated_at=?
		WHERE id=?`,
		c.Width, c.Height, c.Language, c.VoteAverage, c.VoteCount, toUnix(now), existingID)
	if err != nil {
		return fmt.Errorf("refresh candidate %d: %w", existingID, err)
	}
	return nil
}

// ListCandidates returns all candidates for an entity, optionally filtered
// by asset type (empty means all), ordered by id.
func (db *DB) ListCandidates(ctx context.Context, kind models.EntityKind, entityID int64, assetType models.AssetType) ([]models.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM provider_assets
		WHERE entity_kind = ? AND entity_id = ?`
	args := []any{string(kind), entityID}
	if assetType != "" {
		query += ` AND asset_type = ?`
		args = append(args, string(assetType))
	}
	query += ` ORDER BY id ASC`

	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer closeWithLog(rows, "candidate rows")

	var out []models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// UpdateCandidateAnalysis persists phase-3 analysis results.
func (db *DB) UpdateCandidateAnalysis(ctx context.Context, c *models.Candidate) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE provider_assets SET width=?, height=?, content_hash=?, perceptual_hash=?,
			difference_hash=?, format=?, alpha_ratio=?, foreground_ratio=?, analyzed=1,
			updated_at=?
		WHERE id=?`,
		c.Width, c.Height, c.ContentHash, int64(c.PerceptualHash), int64(c.DifferenceHash),
		c.Format, c.AlphaRatio, c.ForegroundRatio, nowUnix(), c.ID)
	if err != nil {
		return fmt.Errorf("update candidate analysis %d: %w", c.ID, err)
	}
	return nil
}

// MarkCandidateDownloaded stamps a candidate as locally held, carrying over
// the content hash matched from a cache file.
func (db *DB) MarkCandidateDownloaded(ctx context.Context, id int64, contentHash string) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE provider_assets SET is_downloaded=1, content_hash=?, updated_at=? WHERE id=?`,
		contentHash, nowUnix(), id)
	if err != nil {
		return fmt.Errorf("mark candidate downloaded %d: %w", id, err)
	}
	return nil
}

// UpdateCandidateScore persists the phase-4 score.
func (db *DB) UpdateCandidateScore(ctx context.Context, id int64, score int) error {
	_, err := db.sql.ExecContext(ctx,
		`UPDATE provider_assets SET score=?, updated_at=? WHERE id=?`,
		score, nowUnix(), id)
	if err != nil {
		return fmt.Errorf("update candidate score %d: %w", id, err)
	}
	return nil
}

// SelectedCandidateIDs returns the ids currently selected for an asset type,
// ascending.
func (db *DB) SelectedCandidateIDs(ctx context.Context, kind models.EntityKind, entityID int64, assetType models.AssetType) ([]int64, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT id FROM provider_assets
		WHERE entity_kind=? AND entity_id=? AND asset_type=? AND is_selected=1
		ORDER BY id ASC`,
		string(kind), entityID, string(assetType))
	if err != nil {
		return nil, fmt.Errorf("selected candidate ids: %w", err)
	}
	defer closeWithLog(rows, "selected id rows")

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan selected id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SwapSelection atomically clears the selected flag for one asset type and
// marks the new winners. This is the phase-5 selected-set swap.
func (db *DB) SwapSelection(ctx context.Context, kind models.EntityKind, entityID int64, assetType models.AssetType, winners []int64, by models.SelectedBy) error {
	now := nowUnix()
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE provider_assets SET is_selected=0, selected_at=NULL, selected_by='', updated_at=?
			WHERE entity_kind=? AND entity_id=? AND asset_type=? AND is_selected=1`,
			now, string(kind), entityID, string(assetType)); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}
		for _, id := range winners {
			if _, err := tx.ExecContext(ctx, `
				UPDATE provider_assets SET is_selected=1, selected_at=?, selected_by=?, updated_at=?
				WHERE id=?`,
				now, string(by), now, id); err != nil {
				return fmt.Errorf("mark selected %d: %w", id, err)
			}
		}
		return nil
	})
}

// RejectCandidate permanently suppresses a candidate from future selection.
func (db *DB) RejectCandidate(ctx context.Context, id int64) error {
	_, err := db.sql.ExecContext(ctx,
		`UPDATE provider_assets SET is_rejected=1, is_selected=0, updated_at=? WHERE id=?`,
		nowUnix(), id)
	if err != nil {
		return fmt.Errorf("reject candidate %d: %w", id, err)
	}
	return nil
}

func scanCandidate(row rowScanner) (*models.Candidate, error) {
	var (
		c                    models.Candidate
		kind, assetType      string
		phash, dhash         int64
		analyzed, downloaded int
		selected, rejected   int
		selectedAt           sql.NullInt64
		selectedBy           string
		createdAt, updatedAt int64
	)
	err := row.Scan(&c.ID, &kind, &c.EntityID, &assetType, &c.Provider, &c.URL,
		&c.Width, &c.Height, &c.Language, &c.VoteAverage, &c.VoteCount,
		&c.ContentHash, &phash, &dhash, &c.Format, &c.AlphaRatio, &c.ForegroundRatio,
		&analyzed, &downloaded, &selected, &rejected, &c.Score, &selectedAt,
		&selectedBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan candidate: %w", err)
	}
	c.EntityKind = models.EntityKind(kind)
	c.AssetType = models.AssetType(assetType)
	c.PerceptualHash = uint64(phash)
	c.DifferenceHash = uint64(dhash)
	c.Analyzed = analyzed != 0
	c.IsDownloaded = downloaded != 0
	c.IsSelected = selected != 0
	c.IsRejected = rejected != 0
	c.SelectedAt = fromNullUnix(selectedAt)
	c.SelectedBy = models.SelectedBy(selectedBy)
	c.CreatedAt = fromUnix(createdAt)
	c.UpdatedAt = fromUnix(updatedAt)
	return &c, nil
}
