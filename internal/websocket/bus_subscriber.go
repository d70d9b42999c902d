// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package websocket

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/chartpulse/chartpulse/internal/alerts"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
)

// BusSubscriber forwards triggered alert events from the in-process bus to
// the websocket hub. Implements suture.Service.
type BusSubscriber struct {
	bus *alerts.Bus
	hub *Hub
}

func NewBusSubscriber(bus *alerts.Bus, hub *Hub) *BusSubscriber {
	return &BusSubscriber{bus: bus, hub: hub}
}

func (s *BusSubscriber) String() string { return "websocket-bus-subscriber" }

func (s *BusSubscriber) Serve(ctx context.Context) error {
	messages, err := s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			var event models.AlertEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logging.Warn().Err(err).Msg("Dropping undecodable alert event for websocket")
				msg.Ack()
				continue
			}
			s.hub.BroadcastAlert(&event)
			msg.Ack()
		}
	}
}
