// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/queue"
)

func init() {
	logging.Init(logging.Config{Level: "disabled"})
}

func TestServiceEnabledTargets(t *testing.T) {
	s := NewService(config.NotifyConfig{
		Kodi:    config.KodiConfig{Enabled: true, URL: "http://kodi:8080"},
		Plex:    config.PlexConfig{Enabled: true, URL: "http://plex:32400"},
		Discord: config.DiscordConfig{Enabled: true, WebhookURL: "http://hook"},
	})

	names := s.Names()
	sort.Strings(names)
	if strings.Join(names, ",") != "discord,kodi,plex" {
		t.Errorf("names = %v", names)
	}

	players := s.Players()
	sort.Strings(players)
	if strings.Join(players, ",") != "kodi,plex" {
		t.Errorf("players = %v, want kodi and plex only", players)
	}
}

func TestSendUnknownTargetPermanent(t *testing.T) {
	s := NewService(config.NotifyConfig{})
	err := s.Send(context.Background(), "kodi", Event{})
	if queue.Classify(err) != queue.KindFatal {
		t.Errorf("classify = %v, want fatal", queue.Classify(err))
	}
}

func TestKodiScanRequest(t *testing.T) {
	var got struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jsonrpc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"OK"}`))
	}))
	defer srv.Close()

	k := &kodiClient{
		cfg:  config.KodiConfig{URL: srv.URL, Username: "kodi", Password: "secret"},
		http: srv.Client(),
	}
	err := k.Send(context.Background(), Event{LibraryPath: "/media/movies"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Method != "VideoLibrary.Scan" {
		t.Errorf("method = %q", got.Method)
	}
	if got.Params["directory"] != "/media/movies/" {
		t.Errorf("directory = %v", got.Params["directory"])
	}
	if !strings.HasPrefix(auth, "Basic ") {
		t.Errorf("auth header = %q", auth)
	}
}

func TestJellyfinRefreshRequest(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Emby-Token")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	j := &jellyfinClient{cfg: config.JellyfinConfig{URL: srv.URL, APIKey: "key123"}, http: srv.Client()}
	if err := j.Send(context.Background(), Event{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/Library/Refresh" || gotToken != "key123" {
		t.Errorf("path=%q token=%q", gotPath, gotToken)
	}
}

func TestPlexRefreshRequest(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("X-Plex-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &plexClient{cfg: config.PlexConfig{URL: srv.URL, Token: "plex-token"}, http: srv.Client()}
	if err := p.Send(context.Background(), Event{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotToken != "plex-token" {
		t.Errorf("token = %q", gotToken)
	}
}

func TestDiscordMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := &discordClient{cfg: config.DiscordConfig{WebhookURL: srv.URL}, http: srv.Client()}
	err := d.Send(context.Background(), Event{Title: "Inception (2010)", Body: "published"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["content"] != "Inception (2010)\npublished" {
		t.Errorf("content = %q", got["content"])
	}
}

func TestPushoverForm(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &pushoverClient{
		cfg:      config.PushoverConfig{Token: "apptoken", UserKey: "userkey"},
		http:     srv.Client(),
		endpoint: srv.URL,
	}
	if err := p.Send(context.Background(), Event{Title: "t", Body: "b"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if form["token"][0] != "apptoken" || form["user"][0] != "userkey" || form["message"][0] != "b" {
		t.Errorf("form = %v", form)
	}
}

func TestEmailMessageShape(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	e := &emailClient{
		cfg: config.EmailConfig{SMTPHost: "mail.example.com", SMTPPort: 587, From: "metarr@example.com", To: "admin@example.com"},
		send: func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
			return nil
		},
	}
	err := e.Send(context.Background(), Event{Title: "Verify failed", Body: "2 files recycled"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || gotFrom != "metarr@example.com" || gotTo[0] != "admin@example.com" {
		t.Errorf("addr=%q from=%q to=%v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Verify failed\r\n") || !strings.HasSuffix(msg, "2 files recycled\r\n") {
		t.Errorf("message = %q", msg)
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   queue.ErrorKind
	}{
		{http.StatusInternalServerError, queue.KindTransientNetwork},
		{http.StatusTooManyRequests, queue.KindRateLimit},
		{http.StatusUnauthorized, queue.KindFatal},
	}
	for _, tt := range tests {
		err := classifyStatus("x", tt.status)
		if queue.Classify(err) != tt.want {
			t.Errorf("status %d: classify = %v, want %v", tt.status, queue.Classify(err), tt.want)
		}
	}
	if classifyStatus("x", http.StatusNoContent) != nil {
		t.Error("2xx should be nil")
	}
}

func TestServerErrorRetriesAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	j := &jellyfinClient{cfg: config.JellyfinConfig{URL: srv.URL}, http: &http.Client{Timeout: time.Second}}
	err := j.Send(context.Background(), Event{})
	if queue.Classify(err) != queue.KindTransientNetwork {
		t.Errorf("classify = %v", queue.Classify(err))
	}
}
