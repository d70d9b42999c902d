// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package websocket pushes live score updates and triggered alerts to
// connected browser clients.
//
// The Hub owns the client set and the broadcast fanout; Clients bridge one
// gorilla/websocket connection each. The BusSubscriber service relays
// triggered alert events from the in-process alert bus into the hub, and
// the scoring task calls BroadcastScoreUpdate directly after persisting a
// run. Everything is push-only; the only inbound frame a client may send
// is an application-level ping.
package websocket
