// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations is the ordered list of schema versions. Each entry runs exactly
// once; the applied version is tracked in schema_version.
var migrations = []string{
	// v1: core schema
	`
CREATE TABLE IF NOT EXISTS libraries (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL,
	root_path      TEXT NOT NULL UNIQUE,
	kind           TEXT NOT NULL DEFAULT 'movie',
	enabled        INTEGER NOT NULL DEFAULT 1,
	mode           TEXT NOT NULL DEFAULT 'hybrid',
	auto_identify  INTEGER NOT NULL DEFAULT 1,
	auto_enrich    INTEGER NOT NULL DEFAULT 1,
	auto_select    INTEGER NOT NULL DEFAULT 1,
	auto_publish   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS path_mappings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	from_prefix TEXT NOT NULL,
	to_prefix   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS movies (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	library_id            INTEGER NOT NULL REFERENCES libraries(id),
	title                 TEXT NOT NULL DEFAULT '',
	original_title        TEXT NOT NULL DEFAULT '',
	sort_title            TEXT NOT NULL DEFAULT '',
	year                  INTEGER NOT NULL DEFAULT 0,
	plot                  TEXT NOT NULL DEFAULT '',
	outline               TEXT NOT NULL DEFAULT '',
	tagline               TEXT NOT NULL DEFAULT '',
	runtime               INTEGER NOT NULL DEFAULT 0,
	mpaa                  TEXT NOT NULL DEFAULT '',
	premiered             TEXT NOT NULL DEFAULT '',
	tmdb_id               INTEGER NOT NULL DEFAULT 0,
	imdb_id               TEXT NOT NULL DEFAULT '',
	tvdb_id               INTEGER NOT NULL DEFAULT 0,
	genres                TEXT NOT NULL DEFAULT '[]',
	studios               TEXT NOT NULL DEFAULT '[]',
	countries             TEXT NOT NULL DEFAULT '[]',
	tags                  TEXT NOT NULL DEFAULT '[]',
	directors             TEXT NOT NULL DEFAULT '[]',
	writers               TEXT NOT NULL DEFAULT '[]',
	set_name              TEXT NOT NULL DEFAULT '',
	set_overview          TEXT NOT NULL DEFAULT '',
	set_tmdb_id           INTEGER NOT NULL DEFAULT 0,
	path                  TEXT NOT NULL,
	video_file            TEXT NOT NULL DEFAULT '',
	video_hash            TEXT NOT NULL DEFAULT '',
	monitored             INTEGER NOT NULL DEFAULT 1,
	identification_status TEXT NOT NULL DEFAULT 'discovered',
	enriched_at           INTEGER,
	locks                 TEXT NOT NULL DEFAULT '{}',
	created_at            INTEGER NOT NULL,
	updated_at            INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_movies_path ON movies(path);
CREATE UNIQUE INDEX IF NOT EXISTS idx_movies_tmdb ON movies(tmdb_id) WHERE tmdb_id > 0;
CREATE UNIQUE INDEX IF NOT EXISTS idx_movies_imdb ON movies(imdb_id) WHERE imdb_id != '';

CREATE TABLE IF NOT EXISTS actors (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	tmdb_person_id   INTEGER NOT NULL DEFAULT 0,
	profile_url      TEXT NOT NULL DEFAULT '',
	image_hash       TEXT NOT NULL DEFAULT '',
	image_cache_path TEXT NOT NULL DEFAULT '',
	image_width      INTEGER NOT NULL DEFAULT 0,
	image_height     INTEGER NOT NULL DEFAULT 0,
	name_locked      INTEGER NOT NULL DEFAULT 0,
	updated_at       INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_tmdb ON actors(tmdb_person_id) WHERE tmdb_person_id > 0;

CREATE TABLE IF NOT EXISTS cast_members (
	entity_kind TEXT NOT NULL,
	entity_id   INTEGER NOT NULL,
	actor_id    INTEGER NOT NULL REFERENCES actors(id),
	role        TEXT NOT NULL DEFAULT '',
	sort_order  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_kind, entity_id, actor_id)
);

CREATE TABLE IF NOT EXISTS ratings (
	entity_kind TEXT NOT NULL,
	entity_id   INTEGER NOT NULL,
	source      TEXT NOT NULL,
	value       REAL NOT NULL DEFAULT 0,
	votes       INTEGER NOT NULL DEFAULT 0,
	max         INTEGER NOT NULL DEFAULT 10,
	is_default  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_kind, entity_id, source)
);

CREATE TABLE IF NOT EXISTS stream_details (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_kind  TEXT NOT NULL,
	entity_id    INTEGER NOT NULL,
	stream_type  TEXT NOT NULL,
	stream_index INTEGER NOT NULL DEFAULT 0,
	codec        TEXT NOT NULL DEFAULT '',
	language     TEXT NOT NULL DEFAULT '',
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	bit_rate     INTEGER NOT NULL DEFAULT 0,
	channels     INTEGER NOT NULL DEFAULT 0,
	is_default   INTEGER NOT NULL DEFAULT 0,
	is_forced    INTEGER NOT NULL DEFAULT 0,
	hdr_format   TEXT NOT NULL DEFAULT '',
	duration_sec REAL NOT NULL DEFAULT 0,
	container    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_streams_entity ON stream_details(entity_kind, entity_id);

CREATE TABLE IF NOT EXISTS jobs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	type          TEXT NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 5,
	payload       BLOB,
	state         TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 3,
	scheduled_at  INTEGER NOT NULL,
	claimed_at    INTEGER,
	claimed_by    TEXT NOT NULL DEFAULT '',
	completed_at  INTEGER,
	last_error    TEXT NOT NULL DEFAULT '',
	parent_job_id INTEGER,
	dedupe_key    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, scheduled_at, priority, id);
CREATE INDEX IF NOT EXISTS idx_jobs_type_state ON jobs(type, state);
CREATE INDEX IF NOT EXISTS idx_jobs_dedupe ON jobs(dedupe_key) WHERE dedupe_key != '';

CREATE TABLE IF NOT EXISTS provider_cache (
	entity_kind TEXT NOT NULL,
	cache_key   TEXT NOT NULL,
	record      BLOB NOT NULL,
	fetched_at  INTEGER NOT NULL,
	PRIMARY KEY (entity_kind, cache_key)
);

CREATE TABLE IF NOT EXISTS provider_images (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_kind  TEXT NOT NULL,
	cache_key    TEXT NOT NULL,
	provider     TEXT NOT NULL,
	type         TEXT NOT NULL,
	url          TEXT NOT NULL,
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	language     TEXT NOT NULL DEFAULT '',
	vote_average REAL NOT NULL DEFAULT 0,
	vote_count   INTEGER NOT NULL DEFAULT 0,
	is_hd        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_provider_images_key ON provider_images(entity_kind, cache_key);

CREATE TABLE IF NOT EXISTS provider_assets (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_kind      TEXT NOT NULL,
	entity_id        INTEGER NOT NULL,
	asset_type       TEXT NOT NULL,
	provider         TEXT NOT NULL,
	url              TEXT NOT NULL,
	width            INTEGER NOT NULL DEFAULT 0,
	height           INTEGER NOT NULL DEFAULT 0,
	language         TEXT NOT NULL DEFAULT '',
	vote_average     REAL NOT NULL DEFAULT 0,
	vote_count       INTEGER NOT NULL DEFAULT 0,
	content_hash     TEXT NOT NULL DEFAULT '',
	perceptual_hash  INTEGER NOT NULL DEFAULT 0,
	difference_hash  INTEGER NOT NULL DEFAULT 0,
	format           TEXT NOT NULL DEFAULT '',
	alpha_ratio      REAL NOT NULL DEFAULT 0,
	foreground_ratio REAL NOT NULL DEFAULT 0,
	analyzed         INTEGER NOT NULL DEFAULT 0,
	is_downloaded    INTEGER NOT NULL DEFAULT 0,
	is_selected      INTEGER NOT NULL DEFAULT 0,
	is_rejected      INTEGER NOT NULL DEFAULT 0,
	score            INTEGER NOT NULL DEFAULT 0,
	selected_at      INTEGER,
	selected_by      TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	UNIQUE (entity_kind, entity_id, url)
);
CREATE INDEX IF NOT EXISTS idx_assets_entity_type ON provider_assets(entity_kind, entity_id, asset_type);

CREATE TABLE IF NOT EXISTS cache_files (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_kind     TEXT NOT NULL,
	entity_id       INTEGER NOT NULL,
	asset_type      TEXT NOT NULL,
	file_path       TEXT NOT NULL,
	file_size       INTEGER NOT NULL DEFAULT 0,
	content_hash    TEXT NOT NULL,
	perceptual_hash INTEGER NOT NULL DEFAULT 0,
	source          TEXT NOT NULL DEFAULT 'provider',
	source_url      TEXT NOT NULL DEFAULT '',
	provider        TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	UNIQUE (entity_kind, entity_id, asset_type, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_cache_files_entity ON cache_files(entity_kind, entity_id);

CREATE TABLE IF NOT EXISTS refresh_log (
	entity_kind   TEXT NOT NULL,
	entity_id     INTEGER NOT NULL,
	provider      TEXT NOT NULL,
	last_checked  INTEGER NOT NULL,
	last_modified INTEGER,
	needs_refresh INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (entity_kind, entity_id, provider)
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bulk_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	total       INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	updated     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	stopped     INTEGER NOT NULL DEFAULT 0,
	stop_reason TEXT NOT NULL DEFAULT ''
);
`,
}

// migrate applies all pending schema versions inside one transaction each.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.sql.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY, applied_at INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.sql.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := db.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("apply migration %d: %w", version, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
				version, nowUnix()); err != nil {
				return fmt.Errorf("record migration %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
