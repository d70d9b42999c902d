// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package config loads and validates Chartpulse configuration.
//
// Configuration is layered via Koanf v2: built-in defaults, then an optional
// YAML file, then environment variables. Every delay, attempt count,
// threshold, and weight in the pipeline lives here; nothing is a hidden
// constant inside a component.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Chartpulse pipeline.
type Config struct {
	Sources   SourcesConfig   `koanf:"sources"`
	Fetch     FetchConfig     `koanf:"fetch"`
	Database  DatabaseConfig  `koanf:"database"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Clone     CloneConfig     `koanf:"clone"`
	Events    EventsConfig    `koanf:"events"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Server    ServerConfig    `koanf:"server"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SourceConfig configures one external source family.
type SourceConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	// Regions lists country codes to scrape, chart sources only.
	Regions []string `koanf:"regions"`
	// ReviewURL is the base URL of the customer review feed, which lives on
	// a different host than the charts. Empty disables review scraping.
	ReviewURL string `koanf:"review_url"`
	// Limit caps entries requested per scrape.
	Limit int `koanf:"limit" validate:"gte=0"`
	// Interval between scheduled scrapes of this source.
	Interval time.Duration `koanf:"interval"`
}

// SourcesConfig groups the configured source connectors.
type SourcesConfig struct {
	AppStore SourceConfig `koanf:"appstore"`
	Steam    SourceConfig `koanf:"steam"`
	Events   SourceConfig `koanf:"events"`
}

// FetchConfig tunes the shared rate-limited fetch layer. Limits apply
// per source, not globally; a stalled source must not starve the others.
type FetchConfig struct {
	// MaxInFlight caps concurrent requests per source.
	MaxInFlight int `koanf:"max_in_flight" validate:"gte=1"`
	// MinDelay is the minimum spacing between requests to one source.
	MinDelay time.Duration `koanf:"min_delay"`
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// MaxAttempts bounds retries per request, first attempt included.
	MaxAttempts int `koanf:"max_attempts" validate:"gte=1"`
	// BackoffBase is the initial retry delay; doubles per attempt.
	BackoffBase time.Duration `koanf:"backoff_base"`
	// BackoffMax caps the exponential backoff delay.
	BackoffMax time.Duration `koanf:"backoff_max"`
	// UserAgents are rotated between attempts.
	UserAgents []string `koanf:"user_agents"`
	// Proxies are outbound proxy URLs rotated between attempts. Empty
	// means direct connection.
	Proxies []string `koanf:"proxies"`
	// BreakerFailureRate opens the per-source circuit at this failure
	// ratio once BreakerMinRequests have been observed.
	BreakerFailureRate float64       `koanf:"breaker_failure_rate" validate:"gte=0,lte=1"`
	BreakerMinRequests uint32        `koanf:"breaker_min_requests"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// DatabaseConfig configures the DuckDB historical store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
	// RetentionDays prunes listings, feature rows, and scores older than
	// this horizon. 0 disables pruning.
	RetentionDays int `koanf:"retention_days" validate:"gte=0"`
	// EmbedCachePath is the Badger directory caching computed embeddings
	// keyed by content hash.
	EmbedCachePath string `koanf:"embed_cache_path"`
}

// IngestConfig tunes deduplication and identity resolution.
type IngestConfig struct {
	// FuzzyThreshold is the minimum normalized title similarity for two
	// listings without source-native ids to merge into one entity.
	FuzzyThreshold float64 `koanf:"fuzzy_threshold" validate:"gte=0,lte=1"`
}

// AnalysisConfig tunes the velocity, sentiment, and monetization analyzers.
type AnalysisConfig struct {
	// Interval between analyzer runs.
	Interval time.Duration `koanf:"interval"`
	// WindowDays is the trailing observation window.
	WindowDays int `koanf:"window_days" validate:"gte=1"`
	// TopK defines the breakout/drop rank threshold.
	TopK int `koanf:"top_k" validate:"gte=1"`
	// MaxGapDays is the largest observation gap interpolated over;
	// beyond it the analyzer reports insufficient data.
	MaxGapDays int `koanf:"max_gap_days" validate:"gte=1"`
	// MinObservations below which velocity is not computed.
	MinObservations int `koanf:"min_observations" validate:"gte=2"`
}

// CloneConfig tunes the clone detector.
type CloneConfig struct {
	Interval time.Duration `koanf:"interval"`
	// TextThreshold and ImageThreshold trigger a candidate link when the
	// respective cosine similarity meets or exceeds them.
	TextThreshold  float64 `koanf:"text_threshold" validate:"gte=0,lte=1"`
	ImageThreshold float64 `koanf:"image_threshold" validate:"gte=0,lte=1"`
	// BruteForceCeiling is the per-category entity count above which the
	// detector uses the LSH index instead of all-pairs comparison.
	BruteForceCeiling int `koanf:"brute_force_ceiling" validate:"gte=1"`
	// LSHPlanes is the number of random hyperplanes per LSH band.
	LSHPlanes int `koanf:"lsh_planes" validate:"gte=1"`
	// LSHBands is the number of independent hash bands.
	LSHBands int `koanf:"lsh_bands" validate:"gte=1"`
	// WaveWindow is the first-seen span within which a cluster of three
	// or more entities is flagged a copycat wave.
	WaveWindow time.Duration `koanf:"wave_window"`
	// WaveMinSize is the minimum cluster size for a copycat wave.
	WaveMinSize int `koanf:"wave_min_size" validate:"gte=2"`
}

// EventsConfig tunes the event correlator.
type EventsConfig struct {
	// LeadTime is how far before an event's start correlation applies.
	LeadTime time.Duration `koanf:"lead_time"`
	// KeywordWeight and CategoryBonus compose the relevance score.
	KeywordWeight float64 `koanf:"keyword_weight"`
	CategoryBonus float64 `koanf:"category_bonus"`
	// MinRelevance below which a correlation is not recorded.
	MinRelevance float64 `koanf:"min_relevance" validate:"gte=0,lte=1"`
}

// ScoringWeights enumerates every factor of the weighted rule strategy.
// Loaded once per scoring run, never mutated mid-run.
type ScoringWeights struct {
	Rating         float64 `koanf:"rating"`
	ReviewVelocity float64 `koanf:"review_velocity"`
	RankVelocity   float64 `koanf:"rank_velocity"`
	Sentiment      float64 `koanf:"sentiment"`
	Monetization   float64 `koanf:"monetization"`
	ClonePenalty   float64 `koanf:"clone_penalty"`
	EventBoost     float64 `koanf:"event_boost"`
	Freshness      float64 `koanf:"freshness"`
}

// ScoringConfig configures the predictive scoring engine and retraining.
type ScoringConfig struct {
	Interval time.Duration  `koanf:"interval"`
	Weights  ScoringWeights `koanf:"weights"`
	// Strategy selects "weighted", "classifier", or "auto" (classifier
	// when an active trained model exists, weighted otherwise).
	Strategy string `koanf:"strategy" validate:"oneof=weighted classifier auto"`
	// ModelPath is the directory holding persisted model artifacts.
	ModelPath string `koanf:"model_path"`
	// TrainInterval between retraining runs; retraining never blocks
	// scoring.
	TrainInterval time.Duration `koanf:"train_interval"`
	// MinTrainingSamples below which retraining is skipped.
	MinTrainingSamples int `koanf:"min_training_samples" validate:"gte=10"`
	// ValidationTolerance is how much held-out accuracy may regress
	// relative to the active model before the swap is blocked.
	ValidationTolerance float64 `koanf:"validation_tolerance" validate:"gte=0,lte=1"`
	// HoldoutFraction of samples reserved for validation.
	HoldoutFraction float64 `koanf:"holdout_fraction" validate:"gt=0,lt=1"`
	// OutcomeHorizonDays defines the positive label: entity reached
	// Analysis.TopK within this many days of first sighting.
	OutcomeHorizonDays int `koanf:"outcome_horizon_days" validate:"gte=1"`
}

// SchedulerConfig tunes the periodic task orchestrator.
type SchedulerConfig struct {
	// Workers bounds concurrently executing tasks process-wide.
	Workers int `koanf:"workers" validate:"gte=1"`
	// TaskTimeout is the hard per-run timeout; an overrunning task is
	// cancelled and its run marked skipped.
	TaskTimeout time.Duration `koanf:"task_timeout"`
	// CleanupInterval between retention pruning runs.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// AlertsConfig configures alert evaluation and notifier fanout.
type AlertsConfig struct {
	Enabled bool `koanf:"enabled"`
	// WebhookURL receives triggered alert events as JSON POSTs.
	// Empty disables the webhook notifier.
	WebhookURL     string        `koanf:"webhook_url"`
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
}

// ServerConfig configures the read-only HTTP API server.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// APIConfig tunes API behavior.
type APIConfig struct {
	DefaultPageSize int      `koanf:"default_page_size" validate:"gte=1"`
	MaxPageSize     int      `koanf:"max_page_size" validate:"gte=1"`
	RateLimitReqs   int      `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string `koanf:"cors_origins"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var validate = validator.New()

// Validate checks struct rules and cross-field constraints. It is called by
// LoadWithKoanf after all layers are merged.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Fetch.BackoffBase <= 0 {
		return fmt.Errorf("fetch.backoff_base must be positive, got %s", c.Fetch.BackoffBase)
	}
	if c.Fetch.BackoffMax < c.Fetch.BackoffBase {
		return fmt.Errorf("fetch.backoff_max (%s) must be >= fetch.backoff_base (%s)",
			c.Fetch.BackoffMax, c.Fetch.BackoffBase)
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size (%d) must be >= api.default_page_size (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	if c.Scoring.Strategy == "" {
		c.Scoring.Strategy = "auto"
	}
	if !c.Sources.AppStore.Enabled && !c.Sources.Steam.Enabled && !c.Sources.Events.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}
	for name, src := range map[string]SourceConfig{
		"sources.appstore": c.Sources.AppStore,
		"sources.steam":    c.Sources.Steam,
		"sources.events":   c.Sources.Events,
	} {
		if src.Enabled && src.URL == "" {
			return fmt.Errorf("%s.url is required when the source is enabled", name)
		}
		if src.Enabled && src.Interval <= 0 {
			return fmt.Errorf("%s.interval must be positive when the source is enabled", name)
		}
	}
	return nil
}
