// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

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

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/metarr/config.yaml",
	"/etc/metarr/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "METARR_CONFIG"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            7474,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Database: DatabaseConfig{
			Path: "/data/metarr.db",
		},
		Paths: PathsConfig{
			CacheDir: "/data/cache",
			TrashDir: "/data/trash",
		},
		Providers: ProvidersConfig{
			TMDB: ProviderConfig{
				Enabled:       true,
				BaseURL:       "https://api.themoviedb.org/3",
				RatePerSecond: 4,
				Burst:         8,
				Timeout:       20 * time.Second,
				Language:      "en",
				IncludeNoLang: true,
			},
			Fanart: ProviderConfig{
				Enabled:       false,
				BaseURL:       "https://webservice.fanart.tv/v3",
				RatePerSecond: 2,
				Burst:         4,
				Timeout:       20 * time.Second,
				Language:      "en",
				IncludeNoLang: true,
			},
			TVDB: ProviderConfig{
				Enabled:       false,
				BaseURL:       "https://api4.thetvdb.com/v4",
				RatePerSecond: 2,
				Burst:         4,
				Timeout:       20 * time.Second,
				Language:      "eng",
				IncludeNoLang: true,
			},
			CacheTTL:          7 * 24 * time.Hour,
			FreshnessInterval: 24 * time.Hour,
		},
		Enrich: EnrichConfig{
			MatchThreshold:       0.85,
			DedupThreshold:       0.90,
			DownloadWorkers:      10,
			MaxCandidatesPerType: 50,
			BulkProgressEvery:    100,
			BulkRateLimitStop:    1,
		},
		Queue: QueueConfig{
			Workers:            4,
			PollInterval:       250 * time.Millisecond,
			JobTimeout:         10 * time.Minute,
			DrainTimeout:       30 * time.Second,
			CompletedRetention: 24 * time.Hour,
			FailedRetention:    7 * 24 * time.Hour,
		},
		Scheduler: SchedulerConfig{
			Enabled:            true,
			FileScanCron:       "0 2 * * *",  // 02:00 daily
			ProviderUpdateCron: "30 3 * * *", // 03:30 daily
			CleanupCron:        "0 4 * * 0",  // 04:00 Sundays
			BulkEnrichCron:     "0 5 * * 6",  // 05:00 Saturdays
		},
		Verify: VerifyConfig{
			Enabled:     true,
			FFProbePath: "ffprobe",
		},
		Notify: NotifyConfig{
			Email: EmailConfig{SMTPPort: 587},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from layered sources: defaults, then an
// optional YAML file, then METARR_-prefixed environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// METARR_SERVER_PORT -> server.port, METARR_PROVIDERS_TMDB_API_KEY ->
	// providers.tmdb.api_key, and so on.
	if err := k.Load(env.Provider("METARR_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

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

// envTransform maps environment variable names onto koanf paths. Multi-word
// leaf keys need explicit entries; the generic rule turns every underscore
// into a dot.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "METARR_"))

	explicit := map[string]string{
		"server_cors_origins":                "server.cors_origins",
		"server_rate_limit_reqs":             "server.rate_limit_reqs",
		"server_rate_limit_window":           "server.rate_limit_window",
		"server_webhook_secret":              "server.webhook_secret",
		"paths_cache_dir":                    "paths.cache_dir",
		"paths_trash_dir":                    "paths.trash_dir",
		"providers_tmdb_api_key":             "providers.tmdb.api_key",
		"providers_tmdb_base_url":            "providers.tmdb.base_url",
		"providers_tmdb_rate_per_second":     "providers.tmdb.rate_per_second",
		"providers_tmdb_include_no_language": "providers.tmdb.include_no_language",
		"providers_fanart_api_key":           "providers.fanart.api_key",
		"providers_fanart_base_url":          "providers.fanart.base_url",
		"providers_fanart_rate_per_second":   "providers.fanart.rate_per_second",
		"providers_tvdb_api_key":             "providers.tvdb.api_key",
		"providers_tvdb_base_url":            "providers.tvdb.base_url",
		"providers_tvdb_rate_per_second":     "providers.tvdb.rate_per_second",
		"providers_cache_ttl":                "providers.cache_ttl",
		"providers_freshness_interval":       "providers.freshness_interval",
		"enrich_match_threshold":             "enrich.match_threshold",
		"enrich_dedup_threshold":             "enrich.dedup_threshold",
		"enrich_download_workers":            "enrich.download_workers",
		"enrich_max_candidates_per_type":     "enrich.max_candidates_per_type",
		"enrich_bulk_progress_every":         "enrich.bulk_progress_every",
		"enrich_bulk_rate_limit_stop":        "enrich.bulk_rate_limit_stop",
		"queue_poll_interval":                "queue.poll_interval",
		"queue_job_timeout":                  "queue.job_timeout",
		"queue_drain_timeout":                "queue.drain_timeout",
		"queue_completed_retention":          "queue.completed_retention",
		"queue_failed_retention":             "queue.failed_retention",
		"scheduler_file_scan_cron":           "scheduler.file_scan_cron",
		"scheduler_provider_update_cron":     "scheduler.provider_update_cron",
		"scheduler_cleanup_cron":             "scheduler.cleanup_cron",
		"scheduler_bulk_enrich_cron":         "scheduler.bulk_enrich_cron",
		"verify_ffprobe_path":                "verify.ffprobe_path",
		"notify_kodi_url":                    "notify.kodi.url",
		"notify_kodi_username":               "notify.kodi.username",
		"notify_kodi_password":               "notify.kodi.password",
		"notify_jellyfin_url":                "notify.jellyfin.url",
		"notify_jellyfin_api_key":            "notify.jellyfin.api_key",
		"notify_plex_url":                    "notify.plex.url",
		"notify_plex_token":                  "notify.plex.token",
		"notify_discord_webhook_url":         "notify.discord.webhook_url",
		"notify_pushover_token":              "notify.pushover.token",
		"notify_pushover_user_key":           "notify.pushover.user_key",
		"notify_email_smtp_host":             "notify.email.smtp_host",
		"notify_email_smtp_port":             "notify.email.smtp_port",
		"notify_email_username":              "notify.email.username",
		"notify_email_password":              "notify.email.password",
	}
	if mapped, ok := explicit[key]; ok {
		return mapped
	}
	return strings.ReplaceAll(key, "_", ".")
}

// sliceConfigPaths are parsed from comma-separated strings when set via
// environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
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
				return fmt.Errorf("setting %s: %w", path, err)
			}
		}
	}
	return nil
}
