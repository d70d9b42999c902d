// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package fetch

import (
	"errors"
	"fmt"
)

// Failure kinds for Error. Connectors and the ingest coordinator branch on
// these rather than on HTTP status codes.
const (
	KindRateLimited = "rate_limited"
	KindUnreachable = "unreachable"
	KindBlocked     = "blocked"
)

// Error is the typed failure the fetch layer returns once retries are
// exhausted. Kind distinguishes throttling from outages from bot blocks so
// callers can decide whether the source is worth retrying next cycle.
type Error struct {
	Source     string
	Kind       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (HTTP %d)", e.Source, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a fetch error caused by throttling.
func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimited }

// IsUnreachable reports whether err is a fetch error caused by an outage or
// network failure.
func IsUnreachable(err error) bool { return kindOf(err) == KindUnreachable }

// IsBlocked reports whether err is a fetch error caused by a bot block.
func IsBlocked(err error) bool { return kindOf(err) == KindBlocked }

func kindOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
