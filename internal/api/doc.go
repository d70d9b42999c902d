// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package api exposes the read-only HTTP surface: current and historical
// scores, entity detail, clone clusters, upcoming events, alert
// subscription management, and the realtime websocket endpoint.
//
// The pipeline never depends on this package; every handler reads what the
// scheduler-driven pipeline already wrote. Writes are limited to alert
// subscriptions.
package api
