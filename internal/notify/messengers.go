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
	"net/smtp"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/config"
	"github.com/metarr/metarr/internal/queue"
)

// discordClient posts to an incoming webhook.
type discordClient struct {
	cfg  config.DiscordConfig
	http *http.Client
}

func (d *discordClient) Name() string { return "discord" }

func (d *discordClient) Send(ctx context.Context, ev Event) error {
	content := ev.Title
	if ev.Body != "" {
		content += "\n" + ev.Body
	}
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return queue.Permanent(fmt.Errorf("discord payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return queue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return queue.Transient(fmt.Errorf("discord: %w", err))
	}
	defer resp.Body.Close()
	return classifyStatus("discord", resp.StatusCode)
}

const pushoverEndpoint = "https://api.pushover.net/1/messages.json"

// pushoverClient sends through the Pushover message API. Endpoint is a
// field so tests can point it at a local server.
type pushoverClient struct {
	cfg      config.PushoverConfig
	http     *http.Client
	endpoint string
}

func (p *pushoverClient) Name() string { return "pushover" }

func (p *pushoverClient) Send(ctx context.Context, ev Event) error {
	endpoint := p.endpoint
	if endpoint == "" {
		endpoint = pushoverEndpoint
	}
	form := url.Values{
		"token":   {p.cfg.Token},
		"user":    {p.cfg.UserKey},
		"title":   {ev.Title},
		"message": {ev.Body},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return queue.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return queue.Transient(fmt.Errorf("pushover: %w", err))
	}
	defer resp.Body.Close()
	return classifyStatus("pushover", resp.StatusCode)
}

// emailClient sends plain-text mail over SMTP with STARTTLS negotiated by
// net/smtp when the server offers it.
type emailClient struct {
	cfg config.EmailConfig
	// send is swappable for tests; nil means smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (e *emailClient) Name() string { return "email" }

func (e *emailClient) Send(_ context.Context, ev Event) error {
	sender := e.send
	if sender == nil {
		sender = smtp.SendMail
	}
	addr := e.cfg.SMTPHost + ":" + strconv.Itoa(e.cfg.SMTPPort)
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.SMTPHost)
	}
	msg := buildEmailMessage(e.cfg.From, e.cfg.To, ev)
	if err := sender(addr, auth, e.cfg.From, []string{e.cfg.To}, msg); err != nil {
		return queue.Transient(fmt.Errorf("smtp: %w", err))
	}
	return nil
}

func buildEmailMessage(from, to string, ev Event) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + ev.Title + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(ev.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
