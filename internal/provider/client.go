// Metarr - Media Library Metadata and Asset Curator
// Copyright 2026 Metarr Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/metarr/metarr

package provider

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/metarr/metarr/internal/logging"
	"github.com/metarr/metarr/internal/queue"
)

// httpClient is the shared resilient HTTP layer under every provider:
// token-bucket rate limiting in front, a circuit breaker around the call,
// and response classification into the queue error taxonomy.
type httpClient struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func newHTTPClient(name string, ratePerSecond float64, burst int, timeout time.Duration) *httpClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("provider", name).
				Str("from", breakerState(from)).
				Str("to", breakerState(to)).
				Msg("provider circuit breaker state change")
		},
		// Rate limits and lookup misses are upstream policy, not
		// upstream failure; they must not open the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch queue.Classify(err) {
			case queue.KindRateLimit, queue.KindNotFound:
				return true
			}
			return false
		},
	})

	return &httpClient{
		name:    name,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		breaker: breaker,
	}
}

func breakerState(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	}
	return "unknown"
}

// getJSON performs a rate-limited, breaker-protected GET and unmarshals
// the body into out.
func (h *httpClient) getJSON(req *http.Request, out any) error {
	body, err := h.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return queue.Permanent(fmt.Errorf("%s: decoding response: %w", h.name, err))
	}
	return nil
}

func (h *httpClient) do(req *http.Request) ([]byte, error) {
	if err := h.limiter.Wait(req.Context()); err != nil {
		return nil, queue.Transient(fmt.Errorf("%s: rate limiter: %w", h.name, err))
	}

	body, err := h.breaker.Execute(func() ([]byte, error) {
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, queue.Transient(fmt.Errorf("%s: %w", h.name, err))
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return nil, &queue.Error{
				Kind: queue.KindNotFound,
				Err:  fmt.Errorf("%s: %s: not found", h.name, req.URL.Path),
			}
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, queue.RateLimited(
				fmt.Errorf("%s: rate limited", h.name), retryAfter(resp))
		case resp.StatusCode >= 500:
			return nil, queue.Transient(
				fmt.Errorf("%s: upstream status %d", h.name, resp.StatusCode))
		default:
			return nil, queue.Permanent(
				fmt.Errorf("%s: unexpected status %d", h.name, resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, queue.Transient(fmt.Errorf("%s: reading response: %w", h.name, err))
		}
		return body, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, queue.Transient(fmt.Errorf("%s: circuit open: %w", h.name, err))
	}
	return body, err
}

// retryAfter parses the Retry-After header, seconds form only; zero means
// unknown and the caller's backoff applies.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
