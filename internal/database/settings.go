// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/metarr/metarr/internal/models"
)

// GetSetting reads one settings value or ErrNotFound.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.sql.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// PutSetting writes one settings value.
func (db *DB) PutSetting(ctx context.Context, key, value string) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, nowUnix())
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}

// AllSettings returns the full settings map.
func (db *DB) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.sql.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer closeWithLog(rows, "settings rows")

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ReplaceStreamDetails swaps the stream rows of an entity atomically. The
// verifier calls this whenever the video content hash changes.
func (db *DB) ReplaceStreamDetails(ctx context.Context, kind models.EntityKind, entityID int64, streams []models.StreamDetail) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM stream_details WHERE entity_kind=? AND entity_id=?`,
			string(kind), entityID); err != nil {
			return fmt.Errorf("clear stream details: %w", err)
		}
		for _, s := range streams {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stream_details (entity_kind, entity_id, stream_type, stream_index,
					codec, language, width, height, bit_rate, channels, is_default, is_forced,
					hdr_format, duration_sec, container)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(kind), entityID, s.StreamType, s.StreamIndex, s.Codec, s.Language,
				s.Width, s.Height, s.BitRate, s.Channels, boolToInt(s.Default),
				boolToInt(s.Forced), s.HDRFormat, s.DurationSec, s.Container); err != nil {
				return fmt.Errorf("insert stream detail: %w", err)
			}
		}
		return nil
	})
}

// ListStreamDetails returns stream rows in (type, index) order.
func (db *DB) ListStreamDetails(ctx context.Context, kind models.EntityKind, entityID int64) ([]models.StreamDetail, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT id, stream_type, stream_index, codec, language, width, height, bit_rate,
			channels, is_default, is_forced, hdr_format, duration_sec, container
		FROM stream_details WHERE entity_kind=? AND entity_id=?
		ORDER BY stream_type ASC, stream_index ASC`,
		string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("list stream details: %w", err)
	}
	defer closeWithLog(rows, "stream detail rows")

	var out []models.StreamDetail
	for rows.Next() {
		var (
			s                 models.StreamDetail
			isDefault, forced int
		)
		if err := rows.Scan(&s.ID, &s.StreamType, &s.StreamIndex, &s.Codec, &s.Language,
			&s.Width, &s.Height, &s.BitRate, &s.Channels, &isDefault, &forced,
			&s.HDRFormat, &s.DurationSec, &s.Container); err != nil {
			return nil, fmt.Errorf("scan stream detail: %w", err)
		}
		s.EntityKind = string(kind)
		s.EntityID = entityID
		s.Default = isDefault != 0
		s.Forced = forced != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateBulkRun inserts a bulk run record and returns its id.
func (db *DB) CreateBulkRun(ctx context.Context, run *models.BulkRun) (int64, error) {
	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO bulk_runs (started_at, total) VALUES (?, ?)`,
		toUnix(run.StartedAt), run.Total)
	if err != nil {
		return 0, fmt.Errorf("create bulk run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create bulk run id: %w", err)
	}
	run.ID = id
	return id, nil
}

// UpdateBulkRun persists aggregated counters on the bulk run record.
func (db *DB) UpdateBulkRun(ctx context.Context, run *models.BulkRun) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE bulk_runs SET finished_at=?, total=?, processed=?, updated=?, skipped=?,
			stopped=?, stop_reason=?
		WHERE id=?`,
		toNullUnix(run.FinishedAt), run.Total, run.Processed, run.Updated, run.Skipped,
		boolToInt(run.Stopped), run.StopReason, run.ID)
	if err != nil {
		return fmt.Errorf("update bulk run %d: %w", run.ID, err)
	}
	return nil
}

// GetBulkRun loads one bulk run record.
func (db *DB) GetBulkRun(ctx context.Context, id int64) (*models.BulkRun, error) {
	var (
		run        models.BulkRun
		startedAt  int64
		finishedAt sql.NullInt64
		stopped    int
	)
	err := db.sql.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, total, processed, updated, skipped, stopped, stop_reason
		FROM bulk_runs WHERE id=?`, id).
		Scan(&run.ID, &startedAt, &finishedAt, &run.Total, &run.Processed,
			&run.Updated, &run.Skipped, &stopped, &run.StopReason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bulk run: %w", err)
	}
	run.StartedAt = fromUnix(startedAt)
	run.FinishedAt = fromNullUnix(finishedAt)
	run.Stopped = stopped != 0
	return &run, nil
}
