package httpserver

import (
	"net/http"

	"github.com/bundl-app/server/internal/auth"
)

// userIDFrom returns the authenticated user id set by the auth middleware.
// Handlers behind the middleware can rely on it being non-empty.
func userIDFrom(r *http.Request) string {
	return auth.UserID(r)
}
