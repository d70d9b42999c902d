// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package alerts evaluates subscriptions after each scoring run and fans
// triggered events out to notifiers over an in-process watermill bus. The
// evaluator only decides WHEN to emit; delivery transports stay behind the
// Notifier interface.
package alerts

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"

	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/models"
)

const TopicTriggered = "alerts.triggered"

// Bus is the in-process pubsub carrying triggered alert events from the
// evaluator to the notifier dispatcher and the websocket hub.
type Bus struct {
	channel *gochannel.GoChannel
}

func NewBus() *Bus {
	return &Bus{
		channel: gochannel.NewGoChannel(gochannel.Config{
			// A slow notifier must not block the scoring path.
			OutputChannelBuffer: 256,
		}, newWatermillLogger()),
	}
}

// Publish emits one triggered alert event.
func (b *Bus) Publish(event *models.AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("alerts: encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("entity_id", event.EntityID.String())
	return b.channel.Publish(TopicTriggered, msg)
}

// Subscribe returns the triggered-event stream for one consumer.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.channel.Subscribe(ctx, TopicTriggered)
}

func (b *Bus) Close() error {
	return b.channel.Close()
}

// watermillLogger adapts the process logger to watermill's interface.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Error().Err(err).Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Debug().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Trace().Fields(map[string]interface{}(l.fields.Add(fields))).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}
