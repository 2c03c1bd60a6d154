// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package events is the in-process event bus. Workflow components publish
// typed envelopes; the websocket subscriber fans them out to connected
// clients. Backed by a watermill gochannel pub/sub so slow consumers never
// block publishers.
package events

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

// Topic carries every envelope; consumers filter by Type.
const Topic = "metarr.events"

// Event types pushed to clients.
const (
	TypeJobStatus       = "jobStatus"
	TypeQueueStats      = "jobQueueStats"
	TypeEnrichStarted   = "enrichment.started"
	TypeEnrichPhase     = "enrichment.phase.complete"
	TypeEnrichComplete  = "enrichment.complete"
	TypeEnrichFailed    = "enrichment.failed"
	TypeBulkProgress    = "bulk.progress"
	TypeBulkRateLimit   = "bulk.rate_limit"
	TypeBulkComplete    = "bulk.complete"
	TypeMoviesChanged   = "moviesChanged"
	TypeAssetSelected   = "asset.selected"
	TypeEntityPublished = "entity.published"
	TypeVerifyCompleted = "verify.completed"
	TypeScanStatus      = "scanStatus"
	TypeScrapeDegraded  = "providerScrapeDegraded"
)

// Envelope is the wire shape of every event. Timestamp is RFC 3339 UTC.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// Bus publishes envelopes to the in-process pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus. The buffer bounds memory under burst; the
// gochannel drops nothing while a subscriber keeps up.
func NewBus() *Bus {
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: false,
	}, newBusLogger())
	return &Bus{pubsub: ps}
}

// Subscribe returns the envelope stream. Each subscriber gets its own copy
// of every message published after the subscription.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

// Close shuts the pub/sub down, closing all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Publish wraps data in an envelope and publishes it. Publishing never
// blocks the caller beyond the marshal; failures are logged and dropped,
// events are advisory.
func (b *Bus) Publish(eventType string, data any) {
	env := Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logging.Warn().Err(err).Str("event_type", eventType).Msg("marshaling event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		logging.Warn().Err(err).Str("event_type", eventType).Msg("publishing event")
	}
}

// JobStatus implements queue.Events.
func (b *Bus) JobStatus(job *models.Job) {
	b.Publish(TypeJobStatus, job)
}

// QueueStats implements queue.Events.
func (b *Bus) QueueStats(stats models.QueueStats) {
	b.Publish(TypeQueueStats, stats)
}

// EnrichPhase reports one completed pipeline phase for an entity. Phase is
// the 1-based index; Name is the phase label.
type EnrichPhase struct {
	EntityKind models.EntityKind `json:"entity_kind"`
	EntityID   int64             `json:"entity_id"`
	Phase      int               `json:"phase"`
	Name       string            `json:"name"`
	Detail     string            `json:"detail,omitempty"`
}

// PublishEnrichStarted marks the beginning of one entity's enrichment.
func (b *Bus) PublishEnrichStarted(kind models.EntityKind, id int64) {
	b.Publish(TypeEnrichStarted, EnrichPhase{EntityKind: kind, EntityID: id})
}

func (b *Bus) PublishEnrichPhase(p EnrichPhase) {
	b.Publish(TypeEnrichPhase, p)
}

// PublishEnrichComplete marks the end of one entity's enrichment. Detail
// distinguishes a full run from a no-data skip.
func (b *Bus) PublishEnrichComplete(kind models.EntityKind, id int64, detail string) {
	b.Publish(TypeEnrichComplete, EnrichPhase{EntityKind: kind, EntityID: id, Detail: detail})
}

// PublishEnrichFailed reports the phase an enrichment run died in.
func (b *Bus) PublishEnrichFailed(p EnrichPhase) {
	b.Publish(TypeEnrichFailed, p)
}

// BulkProgress reports bulk sweep counters, published every progress
// interval, on a rate-limit stop and on completion.
type BulkProgress struct {
	BulkRunID int64  `json:"bulk_run_id"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Stopped   bool   `json:"stopped,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (b *Bus) PublishBulkProgress(p BulkProgress) {
	b.Publish(TypeBulkProgress, p)
}

// PublishBulkRateLimit announces that a sweep was short-circuited by an
// upstream rate limit.
func (b *Bus) PublishBulkRateLimit(p BulkProgress) {
	b.Publish(TypeBulkRateLimit, p)
}

func (b *Bus) PublishBulkComplete(p BulkProgress) {
	b.Publish(TypeBulkComplete, p)
}

// MoviesChanged signals that stored metadata or assets changed; clients
// refetch. Action is added, updated or deleted.
type MoviesChanged struct {
	EntityKind models.EntityKind `json:"entity_kind"`
	EntityID   int64             `json:"entity_id"`
	Action     string            `json:"action"`
}

func (b *Bus) PublishMoviesChanged(u MoviesChanged) {
	b.Publish(TypeMoviesChanged, u)
}
