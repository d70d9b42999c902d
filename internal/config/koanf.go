// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/chartpulse/config.yaml",
	"/etc/chartpulse/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			AppStore: SourceConfig{
				Enabled:   true,
				URL:       "https://rss.marketingtools.apple.com",
				Regions:   []string{"us"},
				ReviewURL: "https://itunes.apple.com",
				Limit:     100,
				Interval:  time.Hour,
			},
			Steam: SourceConfig{
				Enabled:  false,
				URL:      "https://store.steampowered.com/search/",
				Regions:  []string{"us"},
				Limit:    100,
				Interval: 2 * time.Hour,
			},
			Events: SourceConfig{
				Enabled:  false,
				URL:      "",
				Limit:    200,
				Interval: 6 * time.Hour,
			},
		},
		Fetch: FetchConfig{
			MaxInFlight:    2,
			MinDelay:       500 * time.Millisecond,
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    4,
			BackoffBase:    time.Second,
			BackoffMax:     30 * time.Second,
			UserAgents: []string{
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
			},
			Proxies:            []string{},
			BreakerFailureRate: 0.6,
			BreakerMinRequests: 10,
			BreakerTimeout:     2 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:           "/data/chartpulse.duckdb",
			MaxMemory:      "2GB",
			Threads:        0, // 0 = use runtime.NumCPU()
			RetentionDays:  180,
			EmbedCachePath: "/data/embed-cache",
		},
		Ingest: IngestConfig{
			FuzzyThreshold: 0.85,
		},
		Analysis: AnalysisConfig{
			Interval:        2 * time.Hour,
			WindowDays:      14,
			TopK:            20,
			MaxGapDays:      3,
			MinObservations: 2,
		},
		Clone: CloneConfig{
			Interval:          6 * time.Hour,
			TextThreshold:     0.85,
			ImageThreshold:    0.90,
			BruteForceCeiling: 2000,
			LSHPlanes:         12,
			LSHBands:          6,
			WaveWindow:        30 * 24 * time.Hour,
			WaveMinSize:       3,
		},
		Events: EventsConfig{
			LeadTime:      90 * 24 * time.Hour,
			KeywordWeight: 0.8,
			CategoryBonus: 0.2,
			MinRelevance:  0.2,
		},
		Scoring: ScoringConfig{
			Interval: 2 * time.Hour,
			Weights: ScoringWeights{
				Rating:         25,
				ReviewVelocity: 20,
				RankVelocity:   20,
				Sentiment:      15,
				Monetization:   10,
				ClonePenalty:   10,
				EventBoost:     10,
				Freshness:      10,
			},
			Strategy:            "auto",
			ModelPath:           "/data/models",
			TrainInterval:       24 * time.Hour,
			MinTrainingSamples:  100,
			ValidationTolerance: 0.02,
			HoldoutFraction:     0.2,
			OutcomeHorizonDays:  30,
		},
		Scheduler: SchedulerConfig{
			Workers:         4,
			TaskTimeout:     15 * time.Minute,
			CleanupInterval: 24 * time.Hour,
		},
		Alerts: AlertsConfig{
			Enabled:        true,
			WebhookURL:     "",
			WebhookTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3941,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if it exists)
//  3. Environment variables: override any setting
//
// Precedence is ENV > File > Defaults.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// APPSTORE_REGIONS -> sources.appstore.regions etc.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when sourced from environment variables.
var sliceConfigPaths = []string{
	"sources.appstore.regions",
	"sources.steam.regions",
	"fetch.user_agents",
	"fetch.proxies",
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings, the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment noise never pollutes
// the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Source mappings
		"appstore_enabled":    "sources.appstore.enabled",
		"appstore_url":        "sources.appstore.url",
		"appstore_regions":    "sources.appstore.regions",
		"appstore_review_url": "sources.appstore.review_url",
		"appstore_limit":      "sources.appstore.limit",
		"appstore_interval":   "sources.appstore.interval",
		"steam_enabled":       "sources.steam.enabled",
		"steam_url":           "sources.steam.url",
		"steam_regions":       "sources.steam.regions",
		"steam_limit":         "sources.steam.limit",
		"steam_interval":      "sources.steam.interval",
		"events_enabled":      "sources.events.enabled",
		"events_url":          "sources.events.url",
		"events_limit":        "sources.events.limit",
		"events_interval":     "sources.events.interval",

		// Fetch layer mappings
		"fetch_max_in_flight":        "fetch.max_in_flight",
		"fetch_min_delay":            "fetch.min_delay",
		"fetch_request_timeout":      "fetch.request_timeout",
		"fetch_max_attempts":         "fetch.max_attempts",
		"fetch_backoff_base":         "fetch.backoff_base",
		"fetch_backoff_max":          "fetch.backoff_max",
		"fetch_user_agents":          "fetch.user_agents",
		"fetch_proxies":              "fetch.proxies",
		"fetch_breaker_failure_rate": "fetch.breaker_failure_rate",
		"fetch_breaker_min_requests": "fetch.breaker_min_requests",
		"fetch_breaker_timeout":      "fetch.breaker_timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",
		"retention_days":    "database.retention_days",
		"embed_cache_path":  "database.embed_cache_path",

		// Ingest mappings
		"ingest_fuzzy_threshold": "ingest.fuzzy_threshold",

		// Analysis mappings
		"analysis_interval":         "analysis.interval",
		"analysis_window_days":      "analysis.window_days",
		"analysis_top_k":            "analysis.top_k",
		"analysis_max_gap_days":     "analysis.max_gap_days",
		"analysis_min_observations": "analysis.min_observations",

		// Clone detector mappings
		"clone_interval":            "clone.interval",
		"clone_text_threshold":      "clone.text_threshold",
		"clone_image_threshold":     "clone.image_threshold",
		"clone_brute_force_ceiling": "clone.brute_force_ceiling",
		"clone_lsh_planes":          "clone.lsh_planes",
		"clone_lsh_bands":           "clone.lsh_bands",
		"clone_wave_window":         "clone.wave_window",
		"clone_wave_min_size":       "clone.wave_min_size",

		// Event correlator mappings
		"events_lead_time":      "events.lead_time",
		"events_keyword_weight": "events.keyword_weight",
		"events_category_bonus": "events.category_bonus",
		"events_min_relevance":  "events.min_relevance",

		// Scoring mappings
		"scoring_interval":                "scoring.interval",
		"scoring_strategy":                "scoring.strategy",
		"scoring_model_path":              "scoring.model_path",
		"scoring_train_interval":          "scoring.train_interval",
		"scoring_min_training_samples":    "scoring.min_training_samples",
		"scoring_validation_tolerance":    "scoring.validation_tolerance",
		"scoring_holdout_fraction":        "scoring.holdout_fraction",
		"scoring_outcome_horizon_days":    "scoring.outcome_horizon_days",
		"scoring_weight_rating":           "scoring.weights.rating",
		"scoring_weight_review_velocity":  "scoring.weights.review_velocity",
		"scoring_weight_rank_velocity":    "scoring.weights.rank_velocity",
		"scoring_weight_sentiment":        "scoring.weights.sentiment",
		"scoring_weight_monetization":     "scoring.weights.monetization",
		"scoring_weight_clone_penalty":    "scoring.weights.clone_penalty",
		"scoring_weight_event_boost":      "scoring.weights.event_boost",
		"scoring_weight_freshness":        "scoring.weights.freshness",

		// Scheduler mappings
		"scheduler_workers":          "scheduler.workers",
		"scheduler_task_timeout":     "scheduler.task_timeout",
		"scheduler_cleanup_interval": "scheduler.cleanup_interval",

		// Alerts mappings
		"alerts_enabled":         "alerts.enabled",
		"alerts_webhook_url":     "alerts.webhook_url",
		"alerts_webhook_timeout": "alerts.webhook_timeout",

		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// API mappings
		"api_default_page_size": "api.default_page_size",
		"api_max_page_size":     "api.max_page_size",
		"api_rate_limit_reqs":   "api.rate_limit_reqs",
		"api_rate_limit_window": "api.rate_limit_window",
		"cors_origins":          "api.cors_origins",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Skip unmapped keys so arbitrary environment variables are ignored.
	return ""
}
