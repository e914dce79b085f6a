package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/bundl-app/server/internal/auth"
)

const (
	// HeaderKey is the client-supplied idempotency key header.
	HeaderKey = "Idempotency-Key"

	// DefaultTTL bounds how long a replayed request returns the cached
	// response. Mobile retry storms resolve in minutes, not days.
	DefaultTTL = time.Hour
)

// responseWriter captures the response while passing it through.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware replays cached responses for repeated idempotency keys.
// Keys are scoped to the authenticated user plus method and path, so one
// user's key can never replay another's response, and a key reused on a
// different endpoint misses the cache.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := auth.UserID(r) + ":" + r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
			next.ServeHTTP(rw, r)

			// Only successful outcomes are worth replaying; a client retrying
			// after a 5xx should reach the handler again.
			if rw.statusCode < 200 || rw.statusCode >= 300 {
				return
			}

			headers := make(map[string]string, len(rw.Header()))
			for k := range rw.Header() {
				headers[k] = rw.Header().Get(k)
			}
			_ = store.Set(r.Context(), key, &Response{
				StatusCode: rw.statusCode,
				Headers:    headers,
				Body:       rw.body.Bytes(),
				CachedAt:   time.Now(),
			}, ttl)
		})
	}
}
