package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/pkg/responders"
)

// maxRequestBody bounds JSON request bodies. The largest legitimate payload
// here is a pledge request; anything near a megabyte is abuse.
const maxRequestBody = 1 << 20

// decodeJSON decodes a bounded JSON request body into dst. It returns false
// after writing the error response, so handlers can bail with a bare return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeValidation, "invalid JSON request body")
		return false
	}
	// Trailing garbage after the JSON document is rejected too.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeValidation, "request body must contain a single JSON object")
		return false
	}
	return true
}

// writeServiceError maps a service-layer error onto the wire format. Coded
// errors keep their code and message; anything else is an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	apperrors.WriteSimpleError(w, apperrors.CodeOf(err), apperrors.MessageOf(err))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(serverStartTime).String(),
		"timestamp": now.UTC(),
	})
}
