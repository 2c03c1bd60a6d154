// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

// Package notify drives downstream targets after publishing: media players
// get library-scan invocations (Kodi, Jellyfin, Plex), messengers get a
// short text (Discord, Pushover, email). Each target is one small client
// behind a shared Notifier interface, enabled through config.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/queue"
)

// Event is what a notifier announces. Players use LibraryPath for scoped
// scans where the protocol supports it; messengers use Title and Body.
type Event struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	MovieID     int64  `json:"movie_id,omitempty"`
	LibraryPath string `json:"library_path,omitempty"`
}

// Notifier is one downstream target.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Player marks notifiers that trigger a media player library scan; the
// workflow fans notify jobs out to these after publish and verify.
type Player interface {
	Notifier
	Player()
}

// Service holds the configured notifiers.
type Service struct {
	notifiers map[string]Notifier
	players   []string
}

// NewService builds clients for every enabled target. The shared HTTP
// client bounds every call; notify jobs carry no other deadline.
func NewService(cfg config.NotifyConfig) *Service {
	client := &http.Client{Timeout: 15 * time.Second}

	s := &Service{notifiers: make(map[string]Notifier)}
	add := func(enabled bool, n Notifier) {
		if !enabled {
			return
		}
		s.notifiers[n.Name()] = n
		if _, ok := n.(Player); ok {
			s.players = append(s.players, n.Name())
		}
	}

	add(cfg.Kodi.Enabled, &kodiClient{cfg: cfg.Kodi, http: client})
	add(cfg.Jellyfin.Enabled, &jellyfinClient{cfg: cfg.Jellyfin, http: client})
	add(cfg.Plex.Enabled, &plexClient{cfg: cfg.Plex, http: client})
	add(cfg.Discord.Enabled, &discordClient{cfg: cfg.Discord, http: client})
	add(cfg.Pushover.Enabled, &pushoverClient{cfg: cfg.Pushover, http: client})
	add(cfg.Email.Enabled, &emailClient{cfg: cfg.Email})
	return s
}

// Players returns the names of enabled player targets.
func (s *Service) Players() []string {
	return append([]string(nil), s.players...)
}

// Names returns every enabled target.
func (s *Service) Names() []string {
	out := make([]string, 0, len(s.notifiers))
	for name := range s.notifiers {
		out = append(out, name)
	}
	return out
}

// Send dispatches one event to a named target. An unknown or disabled
// target is a permanent job error; retrying cannot enable it.
func (s *Service) Send(ctx context.Context, name string, ev Event) error {
	n, ok := s.notifiers[name]
	if !ok {
		return queue.Permanent(fmt.Errorf("notifier %q not configured", name))
	}
	err := n.Send(ctx, ev)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.NotificationsSent.WithLabelValues(name, outcome).Inc()
	return err
}

// classifyStatus folds an HTTP response code into the job error taxonomy
// so the worker pool retries what is worth retrying.
func classifyStatus(name string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return queue.RateLimited(fmt.Errorf("%s: status %d", name, status), 0)
	case status >= 500:
		return queue.Transient(fmt.Errorf("%s: status %d", name, status))
	default:
		return queue.Permanent(fmt.Errorf("%s: status %d", name, status))
	}
}
