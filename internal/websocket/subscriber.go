// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package websocket

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/events"
	"github.com/metarr/metarr/internal/logging"
)

// Subscriber bridges the event bus to the hub: every envelope published by
// the engine becomes a websocket message. Implements suture.Service.
type Subscriber struct {
	bus *events.Bus
	hub *Hub
}

func NewSubscriber(bus *events.Bus, hub *Hub) *Subscriber {
	return &Subscriber{bus: bus, hub: hub}
}

func (s *Subscriber) String() string { return "websocket-subscriber" }

// Serve consumes envelopes until ctx is cancelled. Malformed payloads are
// acked and dropped: replaying them cannot make them parse.
func (s *Subscriber) Serve(ctx context.Context) error {
	msgs, err := s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	logging.Info().Msg("websocket event subscriber started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			var env events.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				logging.Warn().Err(err).Msg("dropping malformed event envelope")
				msg.Ack()
				continue
			}
			s.hub.Broadcast(env.Type, map[string]any{
				"timestamp": env.Timestamp,
				"payload":   env.Data,
			})
			msg.Ack()
		}
	}
}
