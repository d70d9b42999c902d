// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package services adapts components with their own lifecycle shapes to
// suture.Service so they can join the supervision tree. Components that
// already implement Serve(ctx) and String(), like the scheduler and the
// alert dispatcher, join the tree directly without a wrapper.
package services
