// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package database

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("database: not found")

	// ErrClosed indicates the database connection has been closed.
	ErrClosed = errors.New("database: connection closed")

	// ErrNoActiveModel indicates no classifier model version is active.
	ErrNoActiveModel = errors.New("database: no active model version")
)
