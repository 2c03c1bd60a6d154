// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package metrics exposes the Prometheus instrumentation: job queue
// throughput and latency, provider fetches and cache efficiency,
// enrichment outcomes, publish/verify activity, HTTP and websocket load.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metarr/metarr/internal/models"
)

var (
	// Job queue
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metarr_jobs_finished_total",
			Help: "Jobs that reached a terminal handler outcome",
		},
		[]string{"type", "outcome"}, // outcome: completed, retried, failed, skipped
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metarr_job_duration_seconds",
			Help:    "Handler execution time per job type",
			Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"type"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metarr_queue_depth",
			Help: "Jobs per state",
		},
		[]string{"state"},
	)

	// Provider orchestration
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metarr_provider_requests_total",
			Help: "Upstream provider calls by outcome",
		},
		[]string{"provider", "outcome"}, // outcome: ok, error, rate_limited
	)

	ProviderCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_provider_cache_hits_total",
			Help: "Fetches served from the provider cache",
		},
	)

	ProviderCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_provider_cache_misses_total",
			Help: "Fetches that had to go upstream",
		},
	)

	// Enrichment and publishing
	EnrichRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metarr_enrich_runs_total",
			Help: "Enrichment pipeline runs by result",
		},
		[]string{"result"}, // changed, unchanged, no_data, error
	)

	AssetsSelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metarr_assets_selected_total",
			Help: "Assets picked by selection per type",
		},
		[]string{"asset_type"},
	)

	AssetsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_assets_published_total",
			Help: "Asset files materialized into library directories",
		},
	)

	VerifyRestored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_verify_restored_total",
			Help: "Files restored from the cache by the verifier",
		},
	)

	VerifyRecycled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_verify_recycled_total",
			Help: "Foreign or tampered files moved to trash by the verifier",
		},
	)

	// HTTP
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metarr_api_requests_total",
			Help: "HTTP requests by method, route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metarr_api_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "metarr_websocket_connections",
			Help: "Currently connected websocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_websocket_messages_sent_total",
			Help: "Event envelopes delivered to websocket clients",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "metarr_websocket_messages_dropped_total",
			Help: "Envelopes dropped because a client send buffer was full",
		},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metarr_notifications_sent_total",
			Help: "Notify deliveries by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "metarr_app_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

// Recorder implements the queue's metrics hook.
type Recorder struct{}

// JobFinished records one terminal handler outcome.
func (Recorder) JobFinished(jobType models.JobType, outcome string, d time.Duration) {
	JobsFinished.WithLabelValues(string(jobType), outcome).Inc()
	JobDuration.WithLabelValues(string(jobType)).Observe(d.Seconds())
}

// SetQueueDepth publishes the per-state job counts.
func SetQueueDepth(stats models.QueueStats) {
	QueueDepth.WithLabelValues("pending").Set(float64(stats.Pending))
	QueueDepth.WithLabelValues("claimed").Set(float64(stats.Claimed))
	QueueDepth.WithLabelValues("processing").Set(float64(stats.Processing))
	QueueDepth.WithLabelValues("retrying").Set(float64(stats.Retrying))
	QueueDepth.WithLabelValues("completed").Set(float64(stats.Completed))
	QueueDepth.WithLabelValues("failed").Set(float64(stats.Failed))
}

// RecordProviderRequest tallies one upstream call.
func RecordProviderRequest(provider, outcome string) {
	ProviderRequests.WithLabelValues(provider, outcome).Inc()
}

// RecordAPIRequest tallies one HTTP request against its route pattern.
func RecordAPIRequest(method, route, status string, d time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
