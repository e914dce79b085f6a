package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/bundl-app/server/internal/config"
)

// Pusher sends one message to one device token.
type Pusher interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
}

// HTTPPusher delivers messages through an FCM-compatible HTTP endpoint,
// guarded by a circuit breaker so a dead push provider cannot pile up
// dispatcher work.
type HTTPPusher struct {
	endpoint  string
	serverKey string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger
}

// NewHTTPPusher builds a pusher from configuration.
func NewHTTPPusher(cfg config.PushConfig, log zerolog.Logger) *HTTPPusher {
	settings := gobreaker.Settings{
		Name:        "push-provider",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval.Duration,
		Timeout:     cfg.Breaker.Timeout.Duration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("push provider breaker state change")
		},
	}

	return &HTTPPusher{
		endpoint:  cfg.EndpointURL,
		serverKey: cfg.ServerKey,
		client:    &http.Client{Timeout: cfg.Timeout.Duration},
		breaker:   gobreaker.NewCircuitBreaker(settings),
		logger:    log.With().Str("component", "pusher").Logger(),
	}
}

type pushMessage struct {
	To           string            `json:"to"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Push sends a single message. Errors count against the breaker.
func (p *HTTPPusher) Push(ctx context.Context, token, title, body string, data map[string]string) error {
	payload, err := json.Marshal(pushMessage{
		To:           token,
		Notification: pushNotification{Title: title, Body: body},
		Data:         data,
	})
	if err != nil {
		return fmt.Errorf("marshal push message: %w", err)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "key="+p.serverKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("push provider returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
