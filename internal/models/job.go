// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package models

import "time"

// JobType is the closed set of queueable work items. Identifiers carry no
// semantics beyond this list; the handler registry maps each to code.
type JobType string

const (
	JobWebhookReceived         JobType = "webhook-received"
	JobScanMovie               JobType = "scan-movie"
	JobDiscoverAssets          JobType = "discover-assets"
	JobFetchProviderAssets     JobType = "fetch-provider-assets"
	JobEnrichMetadata          JobType = "enrich-metadata"
	JobSelectAssets            JobType = "select-assets"
	JobPublish                 JobType = "publish"
	JobVerifyMovie             JobType = "verify-movie"
	JobLibraryScan             JobType = "library-scan"
	JobDirectoryScan           JobType = "directory-scan"
	JobCacheAsset              JobType = "cache-asset"
	JobNotifyKodi              JobType = "notify-kodi"
	JobNotifyJellyfin          JobType = "notify-jellyfin"
	JobNotifyPlex              JobType = "notify-plex"
	JobNotifyDiscord           JobType = "notify-discord"
	JobNotifyPushover          JobType = "notify-pushover"
	JobNotifyEmail             JobType = "notify-email"
	JobScheduledFileScan       JobType = "scheduled-file-scan"
	JobScheduledProviderUpdate JobType = "scheduled-provider-update"
	JobScheduledCleanup        JobType = "scheduled-cleanup"
	JobScheduledBulkEnrich     JobType = "scheduled-bulk-enrich"
)

// JobState is the job lifecycle. Completed, failed and cancelled are terminal.
type JobState string

const (
	JobPending    JobState = "pending"
	JobClaimed    JobState = "claimed"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobRetrying   JobState = "retrying"
	JobCancelled  JobState = "cancelled"
)

// Job priorities. Lower numbers are claimed first.
const (
	PriorityReserved  = 1
	PriorityHigh      = 3 // user-triggered / webhook-driven
	PriorityNormal    = 5
	PriorityLow       = 7 // background
	PriorityScheduled = 8
)

// Job is one row of the durable priority queue.
type Job struct {
	ID          int64      `json:"id"`
	Type        JobType    `json:"type"`
	Priority    int        `json:"priority"`
	Payload     []byte     `json:"payload,omitempty"`
	State       JobState   `json:"state"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ParentJobID *int64     `json:"parent_job_id,omitempty"`
	DedupeKey   string     `json:"dedupe_key,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Terminal reports whether the job state can no longer change.
func (j *Job) Terminal() bool {
	switch j.State {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// QueueStats is a point-in-time summary of the queue, broadcast to clients.
type QueueStats struct {
	Pending    int `json:"pending"`
	Claimed    int `json:"claimed"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// BulkRun is the persisted record of one bulk enrichment sweep. Counters are
// aggregated from per-job outcomes as they complete.
type BulkRun struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Stopped    bool       `json:"stopped"`
	StopReason string     `json:"stop_reason,omitempty"`
}
