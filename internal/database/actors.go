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

// UpsertActorByPersonID inserts or updates an actor keyed by the provider
// person id. A locked name is never overwritten by automation.
func (db *DB) UpsertActorByPersonID(ctx context.Context, a *models.Actor) (int64, error) {
	now := time.Now().UTC()

	existing, err := db.getActorByPersonID(ctx, a.TmdbPersonID)
	if err != nil && !IsNotFound(err) {
		return 0, err
	}

	if existing == nil {
		res, err := db.sql.ExecContext(ctx, `
			INSERT INTO actors (name, tmdb_person_id, profile_url, image_hash,
				image_cache_path, image_width, image_height, name_locked, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.Name, a.TmdbPersonID, a.ProfileURL, a.ImageHash, a.ImageCachePath,
			a.ImageWidth, a.ImageHeight, boolToInt(a.NameLocked), toUnix(now))
		if err != nil {
			return 0, fmt.Errorf("insert actor: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("insert actor id: %w", err)
		}
		a.ID = id
		return id, nil
	}

	name := a.Name
	if existing.NameLocked {
		name = existing.Name
	}
	_, err = db.sql.ExecContext(ctx, `
		UPDATE actors SET name=?, profile_url=?, updated_at=? WHERE id=?`,
		name, a.ProfileURL, toUnix(now), existing.ID)
	if err != nil {
		return 0, fmt.Errorf("update actor %d: %w", existing.ID, err)
	}
	a.ID = existing.ID
	return existing.ID, nil
}

// UpdateActorImage stamps the cached profile image onto the actor row. The
// image is decoded on insert, so width and height are real values.
func (db *DB) UpdateActorImage(ctx context.Context, actorID int64, hash, cachePath string, width, height int) error {
	_, err := db.sql.ExecContext(ctx, `
		UPDATE actors SET image_hash=?, image_cache_path=?, image_width=?, image_height=?, updated_at=?
		WHERE id=?`,
		hash, cachePath, width, height, nowUnix(), actorID)
	if err != nil {
		return fmt.Errorf("update actor image %d: %w", actorID, err)
	}
	return nil
}

// ReplaceCast swaps the entire cast link table for an entity in one
// transaction, preserving actor rows themselves.
func (db *DB) ReplaceCast(ctx context.Context, kind models.EntityKind, entityID int64, cast []models.CastMember) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cast_members WHERE entity_kind=? AND entity_id=?`,
			string(kind), entityID); err != nil {
			return fmt.Errorf("clear cast: %w", err)
		}
		for _, c := range cast {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cast_members (entity_kind, entity_id, actor_id, role, sort_order)
				VALUES (?, ?, ?, ?, ?)`,
				string(kind), entityID, c.ActorID, c.Role, c.SortOrder); err != nil {
				return fmt.Errorf("insert cast member: %w", err)
			}
		}
		return nil
	})
}

// ListCast returns an entity's cast with actor rows attached, in sort order.
func (db *DB) ListCast(ctx context.Context, kind models.EntityKind, entityID int64) ([]models.CastMember, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT c.actor_id, c.role, c.sort_order, a.id, a.name, a.tmdb_person_id,
			a.profile_url, a.image_hash, a.image_cache_path, a.image_width,
			a.image_height, a.name_locked
		FROM cast_members c
		JOIN actors a ON a.id = c.actor_id
		WHERE c.entity_kind = ? AND c.entity_id = ?
		ORDER BY c.sort_order ASC, c.actor_id ASC`,
		string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("list cast: %w", err)
	}
	defer closeWithLog(rows, "cast rows")

	var out []models.CastMember
	for rows.Next() {
		var (
			c      models.CastMember
			a      models.Actor
			locked int
		)
		if err := rows.Scan(&c.ActorID, &c.Role, &c.SortOrder, &a.ID, &a.Name,
			&a.TmdbPersonID, &a.ProfileURL, &a.ImageHash, &a.ImageCachePath,
			&a.ImageWidth, &a.ImageHeight, &locked); err != nil {
			return nil, fmt.Errorf("scan cast member: %w", err)
		}
		a.NameLocked = locked != 0
		c.EntityKind = string(kind)
		c.EntityID = entityID
		c.Actor = &a
		out = append(out, c)
	}
	return out, rows.Err()
}

// ReplaceRatings swaps the ratings of an entity atomically.
func (db *DB) ReplaceRatings(ctx context.Context, kind models.EntityKind, entityID int64, ratings []models.Rating) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ratings WHERE entity_kind=? AND entity_id=?`,
			string(kind), entityID); err != nil {
			return fmt.Errorf("clear ratings: %w", err)
		}
		for _, r := range ratings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ratings (entity_kind, entity_id, source, value, votes, max, is_default)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				string(kind), entityID, r.Source, r.Value, r.Votes, r.Max,
				boolToInt(r.Default)); err != nil {
				return fmt.Errorf("insert rating: %w", err)
			}
		}
		return nil
	})
}

// ListRatings returns an entity's ratings ordered by source.
func (db *DB) ListRatings(ctx context.Context, kind models.EntityKind, entityID int64) ([]models.Rating, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT source, value, votes, max, is_default FROM ratings
		WHERE entity_kind = ? AND entity_id = ? ORDER BY source ASC`,
		string(kind), entityID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer closeWithLog(rows, "rating rows")

	var out []models.Rating
	for rows.Next() {
		var (
			r   models.Rating
			def int
		)
		if err := rows.Scan(&r.Source, &r.Value, &r.Votes, &r.Max, &def); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		r.Default = def != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) getActorByPersonID(ctx context.Context, personID int64) (*models.Actor, error) {
	if personID <= 0 {
		return nil, ErrNotFound
	}
	var (
		a      models.Actor
		locked int
	)
	err := db.sql.QueryRowContext(ctx, `
		SELECT id, name, tmdb_person_id, profile_url, image_hash, image_cache_path,
			image_width, image_height, name_locked
		FROM actors WHERE tmdb_person_id = ?`, personID).
		Scan(&a.ID, &a.Name, &a.TmdbPersonID, &a.ProfileURL, &a.ImageHash,
			&a.ImageCachePath, &a.ImageWidth, &a.ImageHeight, &locked)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get actor by person id: %w", err)
	}
	a.NameLocked = locked != 0
	return &a, nil
}
