package httpserver

import (
	"crypto/subtle"
	"net/http"

	apperrors "github.com/bundl-app/server/internal/errors"
)

// adminMetricsAuth protects the /metrics endpoint with an API key.
// With no key configured the endpoint is open; otherwise requests must
// carry "Authorization: Bearer {key}".
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			expected := "Bearer " + apiKey
			if subtle.ConstantTimeCompare([]byte(authHeader), []byte(expected)) != 1 {
				apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthenticated, "invalid or missing admin API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
