// Package httpserver exposes the REST surface: OTP auth, order lifecycle,
// nearby discovery, and credit top-ups. Handlers validate transport concerns
// and delegate everything stateful to the services behind them.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/auth"
	"github.com/bundl-app/server/internal/config"
	"github.com/bundl-app/server/internal/credits"
	"github.com/bundl-app/server/internal/engine"
	"github.com/bundl-app/server/internal/idempotency"
	"github.com/bundl-app/server/internal/logger"
	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/ratelimit"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	engine  *engine.Engine
	auth    *auth.Service
	credits *credits.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, eng *engine.Engine, authSvc *auth.Service, creditsSvc *credits.Service, idempotencyStore idempotency.Store, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:     cfg,
			engine:  eng,
			auth:    authSvc,
			credits: creditsSvc,
			metrics: metricsCollector,
			logger:  appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	s.configureRouter(router, idempotencyStore)
	return s
}

func (s *Server) configureRouter(router chi.Router, idempotencyStore idempotency.Store) {
	cfg := s.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(s.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Use(ratelimit.GlobalLimiter(cfg.RateLimit, s.metrics))

	authMW := auth.Middleware(s.auth.Issuer())
	userLimiter := ratelimit.UserLimiter(cfg.RateLimit, s.metrics)
	ipLimiter := ratelimit.IPLimiter(cfg.RateLimit, s.metrics)
	idempotencyMW := idempotency.Middleware(idempotencyStore, idempotency.DefaultTTL)

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", s.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle("/metrics", promhttp.Handler())
	})

	// Unauthenticated auth flow, throttled by IP.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Use(ipLimiter)
		r.Post("/auth/sendOtp", s.sendOTP)
		r.Post("/auth/verifyOtp", s.verifyOTP)
		r.Post("/auth/refresh", s.refreshTokens)
		r.Post("/auth/logout", s.logout)
	})

	// Authenticated order and credit endpoints.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(authMW)
		r.Use(userLimiter)

		r.With(idempotencyMW).Post("/orders/createOrder", s.createOrder)
		r.With(idempotencyMW).Post("/orders/pledgeToOrder", s.pledgeToOrder)
		r.Get("/orders/activeOrders", s.activeOrders)
		r.Get("/orders/orderStatus/{orderId}", s.orderStatus)

		r.Get("/credits/packages", s.creditPackages)
		r.Get("/credits/balance", s.creditBalance)
		r.With(idempotencyMW).Post("/credits/order", s.createCreditOrder)
		r.Post("/credits/verify", s.verifyCreditOrder)
	})

	// Gateway webhook stays unauthenticated; the HMAC signature is the auth.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Post("/credits/webhook", s.creditWebhook)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
