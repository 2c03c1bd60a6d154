// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package config loads the engine configuration from layered sources:
// built-in defaults, an optional YAML file, then environment variables.
// Later layers win. Runtime-tunable settings (workflow toggles, selection
// counts) live in the database instead; this package covers what must be
// known before the database opens.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Paths     PathsConfig     `koanf:"paths"`
	Providers ProvidersConfig `koanf:"providers"`
	Enrich    EnrichConfig    `koanf:"enrich"`
	Queue     QueueConfig     `koanf:"queue"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Verify    VerifyConfig    `koanf:"verify"`
	Notify    NotifyConfig    `koanf:"notify"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	WebhookSecret   string        `koanf:"webhook_secret"`
}

// DatabaseConfig covers the embedded SQLite store.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// PathsConfig covers the directories Metarr owns. CacheDir holds
// materialized assets; TrashDir receives recycled files instead of
// deleting them outright.
type PathsConfig struct {
	CacheDir string `koanf:"cache_dir"`
	TrashDir string `koanf:"trash_dir"`
}

// ProviderConfig is one upstream metadata provider.
type ProviderConfig struct {
	Enabled       bool          `koanf:"enabled"`
	APIKey        string        `koanf:"api_key"`
	BaseURL       string        `koanf:"base_url"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	Timeout       time.Duration `koanf:"timeout"`
	Language      string        `koanf:"language"`
	IncludeNoLang bool          `koanf:"include_no_language"`
}

// ProvidersConfig covers all upstream providers plus shared fetch policy.
type ProvidersConfig struct {
	TMDB     ProviderConfig `koanf:"tmdb"`
	Fanart   ProviderConfig `koanf:"fanart"`
	TVDB     ProviderConfig `koanf:"tvdb"`
	CacheTTL time.Duration  `koanf:"cache_ttl"`
	// FreshnessInterval bounds how often the scheduled update re-checks a
	// provider for an unchanged entity.
	FreshnessInterval time.Duration `koanf:"freshness_interval"`
}

// EnrichConfig tunes the asset pipeline.
type EnrichConfig struct {
	// MatchThreshold is the minimum perceptual similarity for matching a
	// local file to a provider candidate.
	MatchThreshold float64 `koanf:"match_threshold"`
	// DedupThreshold is the similarity above which two candidates count
	// as duplicates of each other.
	DedupThreshold float64 `koanf:"dedup_threshold"`
	// DownloadWorkers bounds concurrent candidate downloads in analysis.
	DownloadWorkers int `koanf:"download_workers"`
	// MaxCandidatesPerType caps how many candidates are analyzed per
	// asset type; the rest are scored on provider metadata alone.
	MaxCandidatesPerType int `koanf:"max_candidates_per_type"`
	// BulkProgressEvery controls how often bulk runs publish progress.
	BulkProgressEvery int `koanf:"bulk_progress_every"`
	// BulkRateLimitStop aborts a bulk run after this many consecutive
	// rate-limited entities. Values below 1 stop on the first one.
	BulkRateLimitStop int `koanf:"bulk_rate_limit_stop"`
}

// QueueConfig sizes the worker pool and retention.
type QueueConfig struct {
	Workers            int           `koanf:"workers"`
	PollInterval       time.Duration `koanf:"poll_interval"`
	JobTimeout         time.Duration `koanf:"job_timeout"`
	DrainTimeout       time.Duration `koanf:"drain_timeout"`
	CompletedRetention time.Duration `koanf:"completed_retention"`
	FailedRetention    time.Duration `koanf:"failed_retention"`
}

// SchedulerConfig holds the cron expressions for recurring work.
type SchedulerConfig struct {
	Enabled            bool   `koanf:"enabled"`
	FileScanCron       string `koanf:"file_scan_cron"`
	ProviderUpdateCron string `koanf:"provider_update_cron"`
	CleanupCron        string `koanf:"cleanup_cron"`
	BulkEnrichCron     string `koanf:"bulk_enrich_cron"`
}

// VerifyConfig covers the verifier's external tooling.
type VerifyConfig struct {
	Enabled     bool   `koanf:"enabled"`
	FFProbePath string `koanf:"ffprobe_path"`
}

// NotifyConfig covers downstream notification targets.
type NotifyConfig struct {
	Kodi     KodiConfig     `koanf:"kodi"`
	Jellyfin JellyfinConfig `koanf:"jellyfin"`
	Plex     PlexConfig     `koanf:"plex"`
	Discord  DiscordConfig  `koanf:"discord"`
	Pushover PushoverConfig `koanf:"pushover"`
	Email    EmailConfig    `koanf:"email"`
}

type KodiConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type JellyfinConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	APIKey  string `koanf:"api_key"`
}

type PlexConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   string `koanf:"token"`
}

type DiscordConfig struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url"`
}

type PushoverConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`
	UserKey string `koanf:"user_key"`
}

type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	SMTPHost string `koanf:"smtp_host"`
	SMTPPort int    `koanf:"smtp_port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	To       string `koanf:"to"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Paths.CacheDir == "" {
		return fmt.Errorf("paths.cache_dir is required")
	}
	if c.Paths.TrashDir == "" {
		return fmt.Errorf("paths.trash_dir is required")
	}
	if c.Enrich.MatchThreshold <= 0 || c.Enrich.MatchThreshold > 1 {
		return fmt.Errorf("enrich.match_threshold %v out of (0,1]", c.Enrich.MatchThreshold)
	}
	if c.Enrich.DedupThreshold <= 0 || c.Enrich.DedupThreshold > 1 {
		return fmt.Errorf("enrich.dedup_threshold %v out of (0,1]", c.Enrich.DedupThreshold)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	for name, raw := range map[string]string{
		"notify.kodi.url":            c.Notify.Kodi.URL,
		"notify.jellyfin.url":        c.Notify.Jellyfin.URL,
		"notify.plex.url":            c.Notify.Plex.URL,
		"notify.discord.webhook_url": c.Notify.Discord.WebhookURL,
	} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
