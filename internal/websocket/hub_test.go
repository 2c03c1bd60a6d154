// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

// testClient builds a hub-only client with no underlying connection.
func testClient(hub *Hub, buffer int) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		send: make(chan Message, buffer),
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub, cancel
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}

func TestHubRegisterUnregister(t *testing.T) {
	hub, _ := startHub(t)

	c := testClient(hub, 8)
	hub.Register <- c
	waitForCount(t, hub, 1)

	hub.Unregister <- c
	waitForCount(t, hub, 0)

	// Channel closed on unregister.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel")
		}
	case <-time.After(time.Second):
		t.Error("send channel not closed")
	}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub, _ := startHub(t)

	a := testClient(hub, 8)
	b := testClient(hub, 8)
	hub.Register <- a
	hub.Register <- b
	waitForCount(t, hub, 2)

	hub.Broadcast("job.status", map[string]any{"id": 1})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			if msg.Type != "job.status" {
				t.Errorf("message type = %q, want job.status", msg.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHubDropsSaturatedClient(t *testing.T) {
	hub, _ := startHub(t)

	// Zero-buffer client with no reader: first broadcast cannot be
	// delivered and the client is evicted.
	c := testClient(hub, 0)
	hub.Register <- c
	waitForCount(t, hub, 1)

	hub.Broadcast("queue.stats", models.QueueStats{})
	waitForCount(t, hub, 0)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(done)
	}()

	c := testClient(hub, 8)
	hub.Register <- c
	waitForCount(t, hub, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel after shutdown")
		}
	default:
		t.Error("send channel not closed after shutdown")
	}
}

func TestSubscriberBridgesBusToHub(t *testing.T) {
	hub, _ := startHub(t)
	bus := events.NewBus()
	defer func() { _ = bus.Close() }()

	sub := NewSubscriber(bus, hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sub.Serve(ctx) }()

	c := testClient(hub, 8)
	hub.Register <- c
	waitForCount(t, hub, 1)

	// Give the subscription a beat to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.PublishMoviesChanged(events.MoviesChanged{
		EntityKind: models.KindMovie,
		EntityID:   4,
		Action:     "updated",
	})

	select {
	case msg := <-c.send:
		if msg.Type != events.TypeMoviesChanged {
			t.Errorf("message type = %q, want %q", msg.Type, events.TypeMoviesChanged)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bus event did not reach websocket client")
	}
}
