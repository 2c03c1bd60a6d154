// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.PublishEnrichPhase(EnrichPhase{
		EntityKind: models.KindMovie,
		EntityID:   7,
		Phase:      3,
		Name:       "analyze",
	})

	select {
	case msg := <-msgs:
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		msg.Ack()
		if env.Type != TypeEnrichPhase {
			t.Errorf("type = %q, want %q", env.Type, TypeEnrichPhase)
		}
		if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
			t.Errorf("timestamp %q not RFC 3339: %v", env.Timestamp, err)
		}
		data, ok := env.Data.(map[string]any)
		if !ok {
			t.Fatalf("data type = %T, want object", env.Data)
		}
		if data["phase"] != float64(3) || data["name"] != "analyze" {
			t.Errorf("data = %v, want phase 3 analyze", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestClientFacingEventNames(t *testing.T) {
	want := map[string]string{
		TypeJobStatus:      "jobStatus",
		TypeQueueStats:     "jobQueueStats",
		TypeEnrichStarted:  "enrichment.started",
		TypeEnrichPhase:    "enrichment.phase.complete",
		TypeEnrichComplete: "enrichment.complete",
		TypeEnrichFailed:   "enrichment.failed",
		TypeBulkRateLimit:  "bulk.rate_limit",
		TypeBulkComplete:   "bulk.complete",
		TypeMoviesChanged:  "moviesChanged",
		TypeScanStatus:     "scanStatus",
	}
	for got, expected := range want {
		if got != expected {
			t.Errorf("event name %q, want %q", got, expected)
		}
	}
}

func TestJobStatusEnvelope(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.JobStatus(&models.Job{
		ID:    3,
		Type:  models.JobEnrichMetadata,
		State: models.JobProcessing,
	})

	select {
	case msg := <-msgs:
		var env Envelope
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		msg.Ack()
		if env.Type != TypeJobStatus {
			t.Errorf("type = %q, want %q", env.Type, TypeJobStatus)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishWithoutSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	defer func() { _ = bus.Close() }()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.QueueStats(models.QueueStats{Pending: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscriber")
	}
}
