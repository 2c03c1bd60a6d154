// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package queue

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WebhookPayload is the raw notification from a download client or media
// manager, normalized by the API layer before enqueueing.
type WebhookPayload struct {
	Source    string `json:"source" validate:"required"`
	EventType string `json:"event_type" validate:"required"`
	MoviePath string `json:"movie_path,omitempty"`
	Title     string `json:"title,omitempty"`
	Year      int    `json:"year,omitempty"`
	TmdbID    int64  `json:"tmdb_id,omitempty"`
	ImdbID    string `json:"imdb_id,omitempty"`
}

// EntityPayload drives every per-entity workflow step. Manual marks
// user-triggered runs, which refresh candidate metadata and bypass
// freshness checks; ForceRefresh additionally ignores the provider cache.
type EntityPayload struct {
	EntityKind   models.EntityKind `json:"entity_kind" validate:"required,oneof=movie"`
	EntityID     int64             `json:"entity_id" validate:"required,gt=0"`
	Manual       bool              `json:"manual,omitempty"`
	ForceRefresh bool              `json:"force_refresh,omitempty"`
	// AssetTypes restricts selection/publish to a subset; empty means all.
	AssetTypes []models.AssetType `json:"asset_types,omitempty"`
	BulkRunID  int64              `json:"bulk_run_id,omitempty"`
}

// LibraryPayload drives whole-library scans.
type LibraryPayload struct {
	LibraryID int64 `json:"library_id" validate:"required,gt=0"`
}

// DirectoryPayload drives a scan of one directory inside a library.
type DirectoryPayload struct {
	LibraryID int64  `json:"library_id" validate:"required,gt=0"`
	Path      string `json:"path" validate:"required"`
}

// NotifyPayload carries a publish outcome to a notifier.
type NotifyPayload struct {
	EntityKind models.EntityKind `json:"entity_kind" validate:"required"`
	EntityID   int64             `json:"entity_id" validate:"required,gt=0"`
	Event      string            `json:"event" validate:"required"`
	Title      string            `json:"title,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

// SchedulePayload is carried by scheduler-spawned jobs. All fields optional:
// the scheduled handlers read their scope from settings.
type SchedulePayload struct {
	LibraryID int64 `json:"library_id,omitempty"`
}

// DecodePayload unmarshals and validates the payload for a job type. A
// decode or validation failure is permanent: the bytes will not improve on
// retry.
func DecodePayload(jobType models.JobType, raw []byte) (any, error) {
	target := payloadFor(jobType)
	if target == nil {
		return nil, Validation(fmt.Errorf("unknown job type %q", jobType))
	}
	if len(raw) == 0 {
		// Scheduled jobs may carry no payload at all.
		if _, ok := target.(*SchedulePayload); ok {
			return target, nil
		}
		return nil, Validation(fmt.Errorf("%s: empty payload", jobType))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, Validation(fmt.Errorf("%s: decode payload: %w", jobType, err))
	}
	if err := validate.Struct(target); err != nil {
		return nil, Validation(fmt.Errorf("%s: invalid payload: %w", jobType, err))
	}
	return target, nil
}

func payloadFor(jobType models.JobType) any {
	switch jobType {
	case models.JobWebhookReceived:
		return &WebhookPayload{}
	case models.JobScanMovie, models.JobDiscoverAssets, models.JobFetchProviderAssets,
		models.JobEnrichMetadata, models.JobSelectAssets, models.JobPublish,
		models.JobVerifyMovie, models.JobCacheAsset:
		return &EntityPayload{}
	case models.JobLibraryScan:
		return &LibraryPayload{}
	case models.JobDirectoryScan:
		return &DirectoryPayload{}
	case models.JobNotifyKodi, models.JobNotifyJellyfin, models.JobNotifyPlex,
		models.JobNotifyDiscord, models.JobNotifyPushover, models.JobNotifyEmail:
		return &NotifyPayload{}
	case models.JobScheduledFileScan, models.JobScheduledProviderUpdate,
		models.JobScheduledCleanup, models.JobScheduledBulkEnrich:
		return &SchedulePayload{}
	}
	return nil
}

// EntityDedupeKey builds the dedupe key that keeps one active per-entity job
// per type.
func EntityDedupeKey(kind models.EntityKind, entityID int64) string {
	return fmt.Sprintf("%s:%d", kind, entityID)
}
