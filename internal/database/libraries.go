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

// InsertLibrary creates a library row and returns its id.
func (db *DB) InsertLibrary(ctx context.Context, l *models.Library) (int64, error) {
	res, err := db.sql.ExecContext(ctx, `
		INSERT INTO libraries (name, root_path, kind, enabled, mode, auto_identify,
			auto_enrich, auto_select, auto_publish)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Name, l.RootPath, string(l.Kind), boolToInt(l.Enabled), string(l.Mode),
		boolToInt(l.AutoIdentify), boolToInt(l.AutoEnrich), boolToInt(l.AutoSelect),
		boolToInt(l.AutoPublish))
	if err != nil {
		return 0, fmt.Errorf("insert library: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert library id: %w", err)
	}
	l.ID = id
	return id, nil
}

// GetLibrary loads one library by id.
func (db *DB) GetLibrary(ctx context.Context, id int64) (*models.Library, error) {
	row := db.sql.QueryRowContext(ctx, `
		SELECT id, name, root_path, kind, enabled, mode, auto_identify, auto_enrich,
			auto_select, auto_publish
		FROM libraries WHERE id = ?`, id)
	return scanLibrary(row)
}

// ListLibraries returns all libraries.
func (db *DB) ListLibraries(ctx context.Context) ([]models.Library, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT id, name, root_path, kind, enabled, mode, auto_identify, auto_enrich,
			auto_select, auto_publish
		FROM libraries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list libraries: %w", err)
	}
	defer closeWithLog(rows, "library rows")

	var out []models.Library
	for rows.Next() {
		l, err := scanLibrary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DeleteLibrary removes a library row. Callers are responsible for removing
// the owned entities first (DeleteMoviesByLibrary).
func (db *DB) DeleteLibrary(ctx context.Context, id int64) error {
	_, err := db.sql.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete library: %w", err)
	}
	return nil
}

// ListPathMappings returns the configured path rewrites in id order.
func (db *DB) ListPathMappings(ctx context.Context) ([]models.PathMapping, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, from_prefix, to_prefix FROM path_mappings ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list path mappings: %w", err)
	}
	defer closeWithLog(rows, "path mapping rows")

	var out []models.PathMapping
	for rows.Next() {
		var m models.PathMapping
		if err := rows.Scan(&m.ID, &m.FromPrefix, &m.ToPrefix); err != nil {
			return nil, fmt.Errorf("scan path mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertPathMapping adds one path rewrite.
func (db *DB) InsertPathMapping(ctx context.Context, m *models.PathMapping) (int64, error) {
	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO path_mappings (from_prefix, to_prefix) VALUES (?, ?)`,
		m.FromPrefix, m.ToPrefix)
	if err != nil {
		return 0, fmt.Errorf("insert path mapping: %w", err)
	}
	return res.LastInsertId()
}

func scanLibrary(row rowScanner) (*models.Library, error) {
	var (
		l                                             models.Library
		kind, mode                                    string
		enabled, autoID, autoEnrich, autoSel, autoPub int
	)
	err := row.Scan(&l.ID, &l.Name, &l.RootPath, &kind, &enabled, &mode,
		&autoID, &autoEnrich, &autoSel, &autoPub)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	l.Kind = models.LibraryKind(kind)
	l.Mode = models.AutomationMode(mode)
	l.Enabled = enabled != 0
	l.AutoIdentify = autoID != 0
	l.AutoEnrich = autoEnrich != 0
	l.AutoSelect = autoSel != 0
	l.AutoPublish = autoPub != 0
	return &l, nil
}
