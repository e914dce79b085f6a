package httpserver

import (
	"net/http"
	"strings"

	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/pkg/responders"
)

type sendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyOTPRequest struct {
	TID      string `json:"tid"`
	OTP      string `json:"otp"`
	FCMToken string `json:"fcmToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// sendOTP starts an OTP login transaction for a phone number.
func (s *Server) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "phoneNumber is required")
		return
	}

	tid, err := s.auth.SendOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"tid": tid})
}

// verifyOTP exchanges a transaction id and code for a token pair.
func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TID == "" || req.OTP == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "tid and otp are required")
		return
	}

	pair, user, err := s.auth.VerifyOTP(r.Context(), req.TID, req.OTP, req.FCMToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"user":         user,
	})
}

// refreshTokens rotates a refresh token into a fresh pair.
func (s *Server) refreshTokens(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "refreshToken is required")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pair)
}

// logout revokes the presented refresh token.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		apperrors.WriteSimpleError(w, apperrors.ErrCodeMissingField, "refreshToken is required")
		return
	}

	if err := s.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": true})
}
