// Package ratelimit provides multi-tier request throttling: a global ceiling,
// a per-user limit for authenticated traffic, and a per-IP fallback for the
// unauthenticated auth endpoints.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/bundl-app/server/internal/auth"
	"github.com/bundl-app/server/internal/config"
	"github.com/bundl-app/server/internal/metrics"
)

// rateLimitResponse is the JSON body returned with 429.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func limitHandler(tier string, windowSeconds int, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.RateLimitHitsTotal.WithLabelValues(tier).Inc()
		}

		var message string
		switch tier {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_user":
			message = "You are sending requests too quickly. Please slow down."
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

func passthrough(next http.Handler) http.Handler { return next }

// GlobalLimiter throttles the whole process.
func GlobalLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow.Duration,
		httprate.WithLimitHandler(limitHandler("global", windowSeconds(cfg.GlobalWindow.Duration), m)),
	)
}

// UserLimiter throttles per authenticated user. It must sit behind the auth
// middleware; requests without a user id fall back to their IP.
func UserLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.PerUserEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerUserLimit,
		cfg.PerUserWindow.Duration,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(limitHandler("per_user", windowSeconds(cfg.PerUserWindow.Duration), m)),
	)
}

// IPLimiter throttles per client IP, for endpoints reachable without a token.
func IPLimiter(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}
	return httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow.Duration,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler("per_ip", windowSeconds(cfg.PerIPWindow.Duration), m)),
	)
}

func userKey(r *http.Request) (string, error) {
	if userID := auth.UserID(r); userID != "" {
		return userID, nil
	}
	return httprate.KeyByIP(r)
}

func windowSeconds(d time.Duration) int {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}
