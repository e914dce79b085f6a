package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
)

// OTPSender delivers a one-time code to a phone number.
type OTPSender interface {
	Send(ctx context.Context, phone, code string) error
}

// HTTPSender posts codes to an external SMS provider.
type HTTPSender struct {
	url    string
	apiKey string
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPSender builds a sender from auth configuration.
func NewHTTPSender(cfg config.AuthConfig, log zerolog.Logger) *HTTPSender {
	return &HTTPSender{
		url:    cfg.ProviderURL,
		apiKey: cfg.ProviderAPIKey,
		client: &http.Client{Timeout: cfg.ProviderTimeout.Duration},
		logger: log.With().Str("component", "otp_sender").Logger(),
	}
}

// Send posts the code to the provider endpoint.
func (s *HTTPSender) Send(ctx context.Context, phone, code string) error {
	payload, err := json.Marshal(map[string]string{
		"phoneNumber": phone,
		"otp":         code,
	})
	if err != nil {
		return fmt.Errorf("marshal otp request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build otp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("otp provider: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("otp provider returned %d", resp.StatusCode)
	}
	return nil
}

// generateOTP returns a 6-digit numeric code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
