package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Bundl backend.
type Metrics struct {
	// Order lifecycle metrics
	OrdersCreatedTotal   prometheus.Counter
	OrdersCompletedTotal prometheus.Counter
	OrdersExpiredTotal   prometheus.Counter

	// Pledge metrics, labelled by outcome (accepted, error, order_not_found,
	// order_not_active, order_fully_pledged)
	PledgesTotal  *prometheus.CounterVec
	PledgeAmounts prometheus.Histogram

	// Credit ledger metrics
	CreditDebitsTotal       *prometheus.CounterVec // outcome: ok, insufficient
	CreditRefundsTotal      *prometheus.CounterVec // reason: pledge_failed, create_failed, expiry
	ExpiryRefundErrorsTotal prometheus.Counter
	CreditTopUpsTotal       prometheus.Counter
	CreditTopUpCreditsTotal prometheus.Counter

	// Discovery metrics
	GeoSearchesTotal prometheus.Counter
	GeoSearchHits    prometheus.Histogram

	// Push metrics
	PushDeliveriesTotal *prometheus.CounterVec // outcome: ok, error, dropped, no_token
	EventQueueDepth     prometheus.Gauge

	// Expiry watcher metrics
	ExpiryEventsTotal      prometheus.Counter
	WatcherReconnectsTotal prometheus.Counter

	// Store/cache operation durations
	DBQueryDuration *prometheus.HistogramVec
	CacheOpDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		OrdersCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_orders_created_total",
			Help: "Total number of orders created",
		}),
		OrdersCompletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_orders_completed_total",
			Help: "Total number of orders that reached their pledge threshold",
		}),
		OrdersExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_orders_expired_total",
			Help: "Total number of orders expired before completion",
		}),
		PledgesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundl_pledges_total",
				Help: "Total number of pledge attempts by outcome",
			},
			[]string{"outcome"},
		),
		PledgeAmounts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bundl_pledge_amount",
			Help:    "Distribution of pledge amounts",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		CreditDebitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundl_credit_debits_total",
				Help: "Total number of credit debit attempts by outcome",
			},
			[]string{"outcome"},
		),
		CreditRefundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundl_credit_refunds_total",
				Help: "Total number of credit refunds by reason",
			},
			[]string{"reason"},
		),
		ExpiryRefundErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_expiry_refund_errors_total",
			Help: "Refund failures during expiry fan-out (logged and skipped)",
		}),
		CreditTopUpsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_credit_topups_total",
			Help: "Total number of successful credit purchases",
		}),
		CreditTopUpCreditsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_credit_topup_credits_total",
			Help: "Total credits granted through purchases",
		}),
		GeoSearchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_geo_searches_total",
			Help: "Total number of nearby-order discovery queries",
		}),
		GeoSearchHits: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bundl_geo_search_hits",
			Help:    "Number of active orders returned per discovery query",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		PushDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundl_push_deliveries_total",
				Help: "Push notification deliveries by outcome",
			},
			[]string{"outcome"},
		),
		EventQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bundl_event_queue_depth",
			Help: "Current depth of the notification dispatcher queue",
		}),
		ExpiryEventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_expiry_events_total",
			Help: "Key-expiration events received from the live cache",
		}),
		WatcherReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bundl_watcher_reconnects_total",
			Help: "Expiry watcher subscription reconnects",
		}),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundl_db_query_duration_seconds",
				Help:    "Durable store operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		CacheOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bundl_cache_op_duration_seconds",
				Help:    "Live cache operation latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bundl_rate_limit_hits_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"tier"},
		),
	}
}

// MeasureDBQuery wraps a durable store operation with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureDBQuery(m, "get_order", "postgres")()
func MeasureDBQuery(m *Metrics, operation, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.DBQueryDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
	}
}

// MeasureCacheOp wraps a live cache operation with timing instrumentation.
func MeasureCacheOp(m *Metrics, operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.CacheOpDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
