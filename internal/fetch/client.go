// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

// Package fetch provides the shared rate-limited HTTP layer all source
// connectors go through. Limits, backoff, and circuit breaking are tracked
// per source so one throttled or dead source cannot starve the others.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/chartpulse/chartpulse/internal/config"
	"github.com/chartpulse/chartpulse/internal/logging"
	"github.com/chartpulse/chartpulse/internal/metrics"
)

const defaultUserAgent = "chartpulse/1.0"

// maxBodyBytes caps response reads. Chart feeds and store pages are small;
// anything larger is a misbehaving endpoint.
const maxBodyBytes = 16 << 20

// Client is the shared fetch layer. Safe for concurrent use; per-source state
// is created lazily on first request.
type Client struct {
	cfg     *config.FetchConfig
	sources sync.Map // source name -> *sourceState
}

// sourceState holds one source's limiter, concurrency gate, breaker, and
// rotation cursors.
type sourceState struct {
	limiter *rate.Limiter
	sem     chan struct{}
	breaker *gobreaker.CircuitBreaker[[]byte]
	clients []*http.Client // one per proxy, index 0 is direct when no proxies configured
	uaIdx   atomic.Uint64
	pxIdx   atomic.Uint64
}

// New creates a fetch client from configuration.
func New(cfg *config.FetchConfig) *Client {
	return &Client{cfg: cfg}
}

func (c *Client) state(source string) *sourceState {
	if v, ok := c.sources.Load(source); ok {
		return v.(*sourceState)
	}

	st := &sourceState{
		sem: make(chan struct{}, c.cfg.MaxInFlight),
	}
	if c.cfg.MinDelay > 0 {
		st.limiter = rate.NewLimiter(rate.Every(c.cfg.MinDelay), 1)
	} else {
		st.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	st.clients = buildHTTPClients(c.cfg)

	metrics.CircuitBreakerState.WithLabelValues(source).Set(0)
	st.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        source,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     c.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < c.cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= c.cfg.BreakerFailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("source", name).Str("from", fromStr).Str("to", toStr).Msg("[FETCH] Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	actual, _ := c.sources.LoadOrStore(source, st)
	return actual.(*sourceState)
}

// buildHTTPClients returns one HTTP client per configured proxy, or a single
// direct client when none are configured.
func buildHTTPClients(cfg *config.FetchConfig) []*http.Client {
	if len(cfg.Proxies) == 0 {
		return []*http.Client{{Timeout: cfg.RequestTimeout}}
	}
	clients := make([]*http.Client, 0, len(cfg.Proxies))
	for _, p := range cfg.Proxies {
		proxyURL, err := url.Parse(p)
		if err != nil {
			logging.Warn().Str("proxy", p).Err(err).Msg("[FETCH] Ignoring unparseable proxy URL")
			continue
		}
		clients = append(clients, &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		})
	}
	if len(clients) == 0 {
		clients = []*http.Client{{Timeout: cfg.RequestTimeout}}
	}
	return clients
}

// Get fetches a URL on behalf of a source and returns the response body.
// It waits for the source's concurrency slot and rate token, then retries
// transient failures with exponential backoff, rotating user agent and proxy
// between attempts. On exhaustion it returns a typed *Error.
func (c *Client) Get(ctx context.Context, source, reqURL string) ([]byte, error) {
	st := c.state(source)

	select {
	case st.sem <- struct{}{}:
		defer func() { <-st.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	body, err := st.breaker.Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, st, source, reqURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.FetchRequests.WithLabelValues(source, "unreachable").Inc()
			return nil, &Error{Source: source, Kind: KindUnreachable, Err: err}
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) doWithRetry(ctx context.Context, st *sourceState, source, reqURL string) ([]byte, error) {
	var lastErr *Error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := st.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, ferr := c.attempt(ctx, st, source, reqURL)
		if ferr == nil {
			metrics.FetchRequests.WithLabelValues(source, "success").Inc()
			return body, nil
		}
		lastErr = ferr
		metrics.FetchRequests.WithLabelValues(source, ferr.Kind).Inc()

		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		metrics.FetchRequests.WithLabelValues(source, "retry").Inc()

		// Blocked responses get a fresh identity before the next try.
		if ferr.Kind == KindBlocked {
			st.uaIdx.Add(1)
			st.pxIdx.Add(1)
		}

		delay := c.cfg.BackoffBase * time.Duration(1<<uint(attempt))
		if c.cfg.BackoffMax > 0 && delay > c.cfg.BackoffMax {
			delay = c.cfg.BackoffMax
		}
		logging.Debug().
			Str("source", source).
			Str("kind", ferr.Kind).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("[FETCH] Retrying after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// attempt performs one HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, st *sourceState, source, reqURL string) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &Error{Source: source, Kind: KindUnreachable, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent(st))
	req.Header.Set("Accept-Language", "en")

	httpClient := st.clients[st.pxIdx.Load()%uint64(len(st.clients))]

	start := time.Now()
	resp, err := httpClient.Do(req)
	metrics.FetchDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &Error{Source: source, Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, &Error{Source: source, Kind: KindUnreachable, Err: fmt.Errorf("read body: %w", err)}
		}
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Source: source, Kind: KindRateLimited, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return nil, &Error{Source: source, Kind: KindBlocked, StatusCode: resp.StatusCode}
	default:
		return nil, &Error{Source: source, Kind: KindUnreachable, StatusCode: resp.StatusCode}
	}
}

func (c *Client) userAgent(st *sourceState) string {
	if len(c.cfg.UserAgents) == 0 {
		return defaultUserAgent
	}
	return c.cfg.UserAgents[st.uaIdx.Load()%uint64(len(c.cfg.UserAgents))]
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
