package httpserver

import (
	"io"
	"net/http"

	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/pkg/responders"
)

type createCreditOrderRequest struct {
	Credits int `json:"credits"`
}

type verifyCreditOrderRequest struct {
	OrderID string `json:"orderId"`
}

// creditPackages lists the purchasable credit packages.
func (s *Server) creditPackages(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{"packages": s.credits.Packages()})
}

// creditBalance returns the caller's current credit balance.
func (s *Server) creditBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.credits.Balance(r.Context(), userIDFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{"credits": balance})
}

// createCreditOrder opens a payment order for the package matching the
// requested credit amount.
func (s *Server) createCreditOrder(w http.ResponseWriter, r *http.Request) {
	var req createCreditOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Credits <= 0 {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeInvalidAmount, "credits must be positive")
		return
	}

	purchase, err := s.credits.CreateOrder(r.Context(), userIDFrom(r), req.Credits)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"orderId":   purchase.OrderID,
		"sessionId": purchase.SessionID,
	})
}

// verifyCreditOrder reports whether a purchase has been paid.
func (s *Server) verifyCreditOrder(w http.ResponseWriter, r *http.Request) {
	var req verifyCreditOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "orderId is required")
		return
	}

	paid, err := s.credits.Verify(r.Context(), userIDFrom(r), req.OrderID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": paid})
}

// creditWebhook receives payment gateway callbacks. The raw body is verified
// against the HMAC signature headers before anything is parsed.
func (s *Server) creditWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeValidation, "could not read request body")
		return
	}

	timestamp := r.Header.Get("x-webhook-timestamp")
	signature := r.Header.Get("x-webhook-signature")

	if err := s.credits.HandleWebhook(r.Context(), body, timestamp, signature); err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": true})
}
