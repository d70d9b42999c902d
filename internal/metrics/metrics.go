// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package metrics provides Prometheus metrics collection for observability.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format.
// Collectors are registered via promauto at package init; components record
// through the exported variables.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch layer metrics

	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_requests_total",
			Help: "Fetch attempts by source and result",
		},
		[]string{"source", "result"}, // result: success, retry, rate_limited, unreachable, blocked
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_request_duration_seconds",
			Help:    "Duration of fetch attempts by source",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetch_circuit_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions per source",
		},
		[]string{"source", "from", "to"},
	)

	// Ingestion metrics

	IngestRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Raw records processed by source and result",
		},
		[]string{"source", "result"}, // result: created_entity, matched_entity, error
	)

	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Duration of a full ingestion run per source",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	// Analyzer metrics

	AnalyzerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_runs_total",
			Help: "Analyzer runs by analyzer and result",
		},
		[]string{"analyzer", "result"}, // result: ok, insufficient_data, error
	)

	AnalyzerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_run_duration_seconds",
			Help:    "Duration of analyzer runs",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"analyzer"},
	)

	EventCorrelations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "event_correlations_last_run",
			Help: "Entity-event correlations produced by the most recent run",
		},
	)

	CloneLinksFound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clone_links_last_run",
			Help: "Clone links produced by the most recent detector run",
		},
	)

	// Scoring metrics

	ScoringRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scoring_runs_total",
			Help: "Scoring runs by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	ModelSwaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_swaps_total",
			Help: "Classifier retraining outcomes",
		},
		[]string{"result"}, // result: swapped, regression_blocked, skipped
	)

	ActiveModelVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_active_version",
			Help: "Version number of the active classifier model (0 = none)",
		},
	)

	// Scheduler metrics

	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_task_runs_total",
			Help: "Scheduled task executions by task and result",
		},
		[]string{"task", "result"}, // result: ok, error, timeout, skipped_overlap
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_task_duration_seconds",
			Help:    "Scheduled task execution duration",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"task"},
	)

	// Store metrics

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "DuckDB query execution time",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	EmbedCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embed_cache_hits_total",
			Help: "Embedding cache hits",
		},
	)

	EmbedCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embed_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	// Alert metrics

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_emitted_total",
			Help: "Alert events emitted by notifier outcome",
		},
		[]string{"notifier", "result"},
	)

	// API metrics

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)
)
