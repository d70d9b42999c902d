// Chartpulse - App Market Intelligence and Hit Prediction
// Copyright 2026 Chartpulse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chartpulse/chartpulse

package api

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chartpulse/chartpulse/internal/metrics"
)

// NewRouter builds the HTTP routing tree.
func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.corsMiddleware())

	// Health and metrics stay outside the rate-limited API group so
	// monitoring keeps working when clients exhaust their budget.
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.rateLimit())
		r.Use(requestMetrics)

		r.Get("/scores/top", h.TopScores)
		r.Get("/entities/{id}", h.Entity)
		r.Get("/entities/{id}/scores", h.ScoreHistory)
		r.Get("/clusters", h.Clusters)
		r.Get("/events", h.Events)

		r.Post("/subscriptions", h.CreateSubscription)
		r.Get("/subscriptions", h.ListSubscriptions)
		r.Delete("/subscriptions/{id}", h.DeleteSubscription)

		r.Get("/ws", h.WebSocket)
	})

	return r
}

// corsMiddleware builds the CORS handler from configured origins. CORS must
// be global so OPTIONS preflight requests are handled on every route.
func (h *Handler) corsMiddleware() func(http.Handler) http.Handler {
	origins := []string{"*"}
	if h.config != nil && len(h.config.API.CORSOrigins) > 0 {
		origins = h.config.API.CORSOrigins
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// rateLimit limits requests per client IP over the configured window.
func (h *Handler) rateLimit() func(http.Handler) http.Handler {
	reqs, window := 120, time.Minute
	if h.config != nil && h.config.API.RateLimitReqs > 0 {
		reqs = h.config.API.RateLimitReqs
		if h.config.API.RateLimitWindow > 0 {
			window = h.config.API.RateLimitWindow
		}
	}
	return httprate.LimitByIP(reqs, window)
}

// statusRecorder captures the response status for the requests metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// Hijack passes through to the underlying writer so websocket upgrades keep
// working behind the metrics middleware.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// requestMetrics counts API requests by matched route pattern and status.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
