// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package supervisor builds the suture supervision tree that runs the
// Chartpulse process: a pipeline layer for the scheduler, a messaging layer
// for the websocket hub and alert delivery, and an api layer for the HTTP
// server. Layers restart independently so one crashing component never takes
// down the rest of the process.
package supervisor
