// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/queue"
)

// kodiClient triggers VideoLibrary.Scan over Kodi's JSON-RPC endpoint.
type kodiClient struct {
	cfg  config.KodiConfig
	http *http.Client
}

func (k *kodiClient) Name() string { return "kodi" }
func (k *kodiClient) Player()      {}

func (k *kodiClient) Send(ctx context.Context, ev Event) error {
	params := map[string]any{}
	if ev.LibraryPath != "" {
		// Kodi wants a trailing slash on directory params.
		params["directory"] = ev.LibraryPath + "/"
	}
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "VideoLibrary.Scan",
		"params":  params,
	})
	if err != nil {
		return queue.Permanent(fmt.Errorf("kodi payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.cfg.URL+"/jsonrpc", bytes.NewReader(payload))
	if err != nil {
		return queue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if k.cfg.Username != "" {
		req.SetBasicAuth(k.cfg.Username, k.cfg.Password)
	}

	resp, err := k.http.Do(req)
	if err != nil {
		return queue.Transient(fmt.Errorf("kodi: %w", err))
	}
	defer resp.Body.Close()
	if err := classifyStatus("kodi", resp.StatusCode); err != nil {
		return err
	}
	logging.Ctx(ctx).Debug().Str("directory", ev.LibraryPath).Msg("kodi scan triggered")
	return nil
}

// jellyfinClient triggers a full library refresh.
type jellyfinClient struct {
	cfg  config.JellyfinConfig
	http *http.Client
}

func (j *jellyfinClient) Name() string { return "jellyfin" }
func (j *jellyfinClient) Player()      {}

func (j *jellyfinClient) Send(ctx context.Context, _ Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.URL+"/Library/Refresh", nil)
	if err != nil {
		return queue.Permanent(err)
	}
	req.Header.Set("X-Emby-Token", j.cfg.APIKey)

	resp, err := j.http.Do(req)
	if err != nil {
		return queue.Transient(fmt.Errorf("jellyfin: %w", err))
	}
	defer resp.Body.Close()
	return classifyStatus("jellyfin", resp.StatusCode)
}

// plexClient refreshes all library sections.
type plexClient struct {
	cfg  config.PlexConfig
	http *http.Client
}

func (p *plexClient) Name() string { return "plex" }
func (p *plexClient) Player()      {}

func (p *plexClient) Send(ctx context.Context, _ Event) error {
	u := p.cfg.URL + "/library/sections/all/refresh?X-Plex-Token=" + url.QueryEscape(p.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return queue.Permanent(err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return queue.Transient(fmt.Errorf("plex: %w", err))
	}
	defer resp.Body.Close()
	return classifyStatus("plex", resp.StatusCode)
}
