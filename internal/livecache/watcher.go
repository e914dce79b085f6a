package livecache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/metrics"
)

const (
	watcherInitialBackoff = 500 * time.Millisecond
	watcherMaxBackoff     = 5 * time.Second
)

// ExpiryHandler receives the order ID parsed from an expired snapshot key.
type ExpiryHandler func(ctx context.Context, orderID string)

// Watcher subscribes to Redis key-expiration notifications and forwards
// order expirations to the engine. It does not read or mutate any state
// itself; missed events during an outage are covered by the engine's
// boot-time reconciliation.
type Watcher struct {
	rdb       *redis.Client
	channel   string
	namespace string
	handler   ExpiryHandler
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewWatcher creates a watcher on the cache's connection.
func NewWatcher(cache *Cache, channel string, handler ExpiryHandler, m *metrics.Metrics, log zerolog.Logger) *Watcher {
	return &Watcher{
		rdb:       cache.Client(),
		channel:   channel,
		namespace: cache.Namespace(),
		handler:   handler,
		logger:    log.With().Str("component", "expiry_watcher").Logger(),
		metrics:   m,
	}
}

// Run blocks consuming expiry notifications until the context is cancelled.
// Subscription drops are retried with capped exponential backoff.
func (w *Watcher) Run(ctx context.Context) {
	backoff := watcherInitialBackoff

	for ctx.Err() == nil {
		pubsub := w.rdb.PSubscribe(ctx, w.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Dur("backoff", backoff).Msg("expiry subscription failed; retrying")
			if w.metrics != nil {
				w.metrics.WatcherReconnectsTotal.Inc()
			}
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, watcherMaxBackoff)
			continue
		}

		w.logger.Info().Str("channel", w.channel).Msg("expiry watcher subscribed")
		backoff = watcherInitialBackoff
		w.consume(ctx, pubsub)
		_ = pubsub.Close()
	}
}

func (w *Watcher) consume(ctx context.Context, pubsub *redis.PubSub) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Warn().Msg("expiry subscription closed; reconnecting")
					if w.metrics != nil {
						w.metrics.WatcherReconnectsTotal.Inc()
					}
				}
				return
			}
			orderID, ok := ParseExpiredKey(w.namespace, msg.Payload)
			if !ok {
				continue
			}
			if w.metrics != nil {
				w.metrics.ExpiryEventsTotal.Inc()
			}
			w.logger.Debug().Str("order_id", orderID).Msg("order snapshot expired")
			w.handler(ctx, orderID)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
