package auth

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/bundl-app/server/internal/errors"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const contextKeyUserID contextKey = "user_id"

// Middleware validates the bearer access token and stores the caller's user
// id in the request context. Requests without a valid token are rejected.
func Middleware(issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthenticated, "missing authorization header")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthenticated, "malformed authorization header")
				return
			}

			claims, err := issuer.Verify(strings.TrimSpace(token), TokenTypeAccess)
			if err != nil {
				apperrors.WriteSimpleError(w, apperrors.CodeOf(err), apperrors.MessageOf(err))
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyUserID, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID extracts the authenticated caller from the request context.
// Returns empty string outside the auth middleware.
func UserID(r *http.Request) string {
	if id, ok := r.Context().Value(contextKeyUserID).(string); ok {
		return id
	}
	return ""
}
