// Package bundl wires the group-order coordination components into a
// runnable application. It exists so the server binary stays thin and so
// tests or embedders can assemble the stack with substituted backends.
package bundl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/auth"
	"github.com/bundl-app/server/internal/config"
	"github.com/bundl-app/server/internal/credits"
	"github.com/bundl-app/server/internal/dbpool"
	"github.com/bundl-app/server/internal/engine"
	"github.com/bundl-app/server/internal/httpserver"
	"github.com/bundl-app/server/internal/idempotency"
	"github.com/bundl-app/server/internal/lifecycle"
	"github.com/bundl-app/server/internal/livecache"
	"github.com/bundl-app/server/internal/logger"
	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/notify"
	"github.com/bundl-app/server/internal/orders"
	"github.com/bundl-app/server/internal/users"
)

const shutdownTimeout = 15 * time.Second

// App holds the assembled services and owns their lifecycles.
type App struct {
	Config  *config.Config
	Engine  *engine.Engine
	Auth    *auth.Service
	Credits *credits.Service

	server     *httpserver.Server
	dispatcher *notify.Dispatcher
	watcher    *livecache.Watcher
	resources  *lifecycle.Manager
	logger     zerolog.Logger
}

// Option configures App construction.
type Option func(*options)

type options struct {
	userStore  users.Store
	orderStore orders.Store
	cache      engine.LiveCache
	pusher     notify.Pusher
}

// WithUserStore substitutes the user and credit ledger backend.
func WithUserStore(store users.Store) Option {
	return func(o *options) { o.userStore = store }
}

// WithOrderStore substitutes the durable order store.
func WithOrderStore(store orders.Store) Option {
	return func(o *options) { o.orderStore = store }
}

// WithLiveCache substitutes the live order cache. The expiry watcher is only
// started for the real Redis cache; substitutes are expected to drive expiry
// themselves.
func WithLiveCache(cache engine.LiveCache) Option {
	return func(o *options) { o.cache = cache }
}

// WithPusher substitutes the push notification transport.
func WithPusher(pusher notify.Pusher) Option {
	return func(o *options) { o.pusher = pusher }
}

// NewApp assembles the application from configuration.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bundl: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "bundl-server",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:    cfg,
		resources: lifecycle.NewManager(),
		logger:    appLogger,
	}

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	// One shared pool serves every postgres-backed store.
	var sharedDB *sql.DB
	if cfg.Storage.Backend == "postgres" {
		pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("init postgres pool: %w", err)
		}
		app.resources.Register("postgres-pool", pool)
		sharedDB = pool.DB()
	}

	userStore := optState.userStore
	if userStore == nil {
		var err error
		userStore, err = users.NewStore(cfg.Storage, sharedDB)
		if err != nil {
			app.resources.Close()
			return nil, fmt.Errorf("init user store: %w", err)
		}
		app.resources.Register("user-store", userStore)
	}

	orderStore := optState.orderStore
	if orderStore == nil {
		var err error
		orderStore, err = orders.NewStore(cfg.Storage, sharedDB)
		if err != nil {
			app.resources.Close()
			return nil, fmt.Errorf("init order store: %w", err)
		}
		app.resources.Register("order-store", orderStore)
	}

	purchaseStore, err := credits.NewStore(cfg.Storage, sharedDB)
	if err != nil {
		app.resources.Close()
		return nil, fmt.Errorf("init purchase store: %w", err)
	}
	app.resources.Register("purchase-store", purchaseStore)

	cache := optState.cache
	if cache == nil {
		liveCache, err := livecache.New(cfg.Redis, metricsCollector, appLogger)
		if err != nil {
			app.resources.Close()
			return nil, fmt.Errorf("init live cache: %w", err)
		}
		app.resources.Register("live-cache", liveCache)
		cache = liveCache
	}

	pusher := optState.pusher
	if pusher == nil && cfg.Push.Enabled {
		pusher = notify.NewHTTPPusher(cfg.Push, appLogger)
	}
	app.dispatcher = notify.NewDispatcher(cfg.Push.QueueSize, pusher, userStore, metricsCollector, appLogger)

	app.Engine = engine.New(cfg.Orders, userStore, orderStore, cache, app.dispatcher, metricsCollector, appLogger)

	// The watcher needs the real Redis connection for keyspace notifications.
	if liveCache, ok := cache.(*livecache.Cache); ok {
		app.watcher = livecache.NewWatcher(liveCache, cfg.Redis.ExpiryChannel, func(ctx context.Context, orderID string) {
			if err := app.Engine.HandleExpiry(ctx, orderID); err != nil {
				appLogger.Error().Err(err).Str("order_id", orderID).Msg("expiry handling failed")
			}
		}, metricsCollector, appLogger)
	}

	var sender auth.OTPSender
	if cfg.Auth.ProviderURL != "" {
		sender = auth.NewHTTPSender(cfg.Auth, appLogger)
	}
	app.Auth = auth.NewService(cfg.Auth, userStore, sender, cfg.Orders.DefaultUserCredits, appLogger)
	app.Credits = credits.NewService(cfg.Credits, purchaseStore, userStore, metricsCollector, appLogger)

	app.server = httpserver.New(cfg, app.Engine, app.Auth, app.Credits,
		idempotency.NewMemoryStore(0), metricsCollector, appLogger)

	return app, nil
}

// Run reconciles state, starts the background workers and serves HTTP until
// the context is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Engine.Reconcile(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("boot reconciliation incomplete")
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if a.watcher != nil {
		go a.watcher.Run(watchCtx)
	}
	go a.dispatcher.Run()

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.ListenAndServe() }()
	a.logger.Info().Str("address", a.Config.Server.Address).Msg("server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		cancelWatch()
		a.dispatcher.Stop()
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close releases every resource registered during construction, newest first.
func (a *App) Close() error {
	return a.resources.Close()
}
