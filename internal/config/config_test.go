// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7474 {
		t.Errorf("server.port = %d, want 7474", cfg.Server.Port)
	}
	if cfg.Enrich.MatchThreshold != 0.85 {
		t.Errorf("enrich.match_threshold = %v, want 0.85", cfg.Enrich.MatchThreshold)
	}
	if cfg.Enrich.DedupThreshold != 0.90 {
		t.Errorf("enrich.dedup_threshold = %v, want 0.90", cfg.Enrich.DedupThreshold)
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("queue.workers = %d, want 4", cfg.Queue.Workers)
	}
	if !cfg.Providers.TMDB.Enabled {
		t.Error("providers.tmdb should be enabled by default")
	}
	if cfg.Providers.TMDB.Enabled && cfg.Providers.TMDB.APIKey != "" {
		t.Error("default tmdb api key should be empty")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("METARR_SERVER_PORT", "9090")
	t.Setenv("METARR_PROVIDERS_TMDB_API_KEY", "test-key")
	t.Setenv("METARR_LOGGING_LEVEL", "debug")
	t.Setenv("METARR_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Providers.TMDB.APIKey != "test-key" {
		t.Errorf("tmdb api key = %q, want test-key", cfg.Providers.TMDB.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != len(want) {
		t.Fatalf("cors origins = %v, want %v", cfg.Server.CORSOrigins, want)
	}
	for i := range want {
		if cfg.Server.CORSOrigins[i] != want[i] {
			t.Errorf("cors origin[%d] = %q, want %q", i, cfg.Server.CORSOrigins[i], want[i])
		}
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 8123
database:
  path: /tmp/test.db
enrich:
  match_threshold: 0.8
providers:
  tmdb:
    enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("server.port = %d, want 8123", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database.path = %q, want /tmp/test.db", cfg.Database.Path)
	}
	if cfg.Enrich.MatchThreshold != 0.8 {
		t.Errorf("match_threshold = %v, want 0.8", cfg.Enrich.MatchThreshold)
	}
	// File layer still loses to env.
	t.Setenv("METARR_SERVER_PORT", "8999")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load with env: %v", err)
	}
	if cfg.Server.Port != 8999 {
		t.Errorf("server.port = %d, want env override 8999", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return defaultConfig()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, true},
		{"empty cache dir", func(c *Config) { c.Paths.CacheDir = "" }, true},
		{"threshold over one", func(c *Config) { c.Enrich.MatchThreshold = 1.2 }, true},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }, true},
		{"bad kodi url", func(c *Config) { c.Notify.Kodi.URL = "::bad::" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 7474}
	if got := s.Addr(); got != "127.0.0.1:7474" {
		t.Errorf("Addr() = %q", got)
	}
}
