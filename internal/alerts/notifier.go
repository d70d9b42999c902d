// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package alerts

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
	"github.com/chartpulse/chartpulse/internal/models"
)

// Notifier delivers one triggered alert event somewhere. Implementations
// must be safe for concurrent use; the dispatcher fans one event out to
// every notifier.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.AlertEvent) error
}

// LogNotifier writes triggered alerts to the process log. Always on; it is
// the record of what fired even when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, event *models.AlertEvent) error {
	logging.Info().
		Str("entity_id", event.EntityID.String()).
		Str("title", event.Title).
		Str("category", event.Category).
		Float64("score", event.Score).
		Float64("threshold", event.Threshold).
		Str("direction", event.Direction).
		Msg("Alert triggered")
	return nil
}

// WebhookNotifier POSTs the event as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("alerts: encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: webhook delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher consumes the triggered-event stream and fans events out to
// notifiers. Implements suture.Service so a panic in a notifier restarts
// the dispatcher without touching the rest of the pipeline.
type Dispatcher struct {
	bus       *Bus
	notifiers []Notifier
}

func NewDispatcher(bus *Bus, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{bus: bus, notifiers: notifiers}
}

func (d *Dispatcher) String() string { return "alert-dispatcher" }

func (d *Dispatcher) Serve(ctx context.Context) error {
	messages, err := d.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("alerts: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			d.handle(ctx, msg.Payload)
			msg.Ack()
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, payload []byte) {
	var event models.AlertEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logging.Error().Err(err).Msg("Dropping undecodable alert event")
		return
	}

	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, &event); err != nil {
			metrics.AlertsEmitted.WithLabelValues(notifier.Name(), "error").Inc()
			logging.Warn().Err(err).Str("notifier", notifier.Name()).
				Str("entity_id", event.EntityID.String()).
				Msg("Alert delivery failed")
			continue
		}
		metrics.AlertsEmitted.WithLabelValues(notifier.Name(), "ok").Inc()
	}
}
