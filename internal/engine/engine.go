// Package engine orchestrates the order lifecycle: credit charges, durable
// writes, scripted pledges against the live cache, expiry handling and event
// publication. All state transitions are owned here; the HTTP layer only
// validates transport concerns and delegates.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/internal/livecache"
	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/notify"
	"github.com/bundl-app/server/internal/orders"
	"github.com/bundl-app/server/internal/users"
)

// LiveCache is the engine's view of the Redis live state.
// Satisfied by *livecache.Cache; tests substitute an in-memory fake.
type LiveCache interface {
	Create(ctx context.Context, order *orders.Order, ttl time.Duration) error
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Delete(ctx context.Context, orderID string) error
	FindNear(ctx context.Context, lat, lon, radiusKm float64) ([]*orders.Order, error)
	Pledge(ctx context.Context, orderID, userID string, amount float64) (*livecache.PledgeResult, error)
}

// EventSink receives fire-and-forget lifecycle events.
// Satisfied by *notify.Dispatcher.
type EventSink interface {
	Publish(evt notify.Event)
}

// Engine coordinates the credit ledger, durable store, live cache and
// notification dispatcher.
type Engine struct {
	cfg     config.OrdersConfig
	users   users.Store
	store   orders.Store
	cache   LiveCache
	events  EventSink
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New wires up the engine. events may be nil to disable notifications.
func New(cfg config.OrdersConfig, userStore users.Store, orderStore orders.Store, cache LiveCache, events EventSink, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		users:   userStore,
		store:   orderStore,
		cache:   cache,
		events:  events,
		logger:  log.With().Str("component", "engine").Logger(),
		metrics: m,
	}
}

// CreateOrderRequest carries the validated createOrder inputs.
type CreateOrderRequest struct {
	AmountNeeded  float64
	Platform      string
	Latitude      float64
	Longitude     float64
	InitialPledge float64
	Expiry        time.Duration // zero selects the configured default
}

// CreateOrder charges the creator one credit, persists the order and makes it
// discoverable. Any failure after the debit refunds the credit before the
// error is returned.
func (e *Engine) CreateOrder(ctx context.Context, userID string, req CreateOrderRequest) (*orders.Order, error) {
	if err := e.validateCreate(req); err != nil {
		return nil, err
	}

	ttl := req.Expiry
	if ttl <= 0 {
		ttl = e.cfg.DefaultExpiry.Duration
	}

	if err := e.debit(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &orders.Order{
		ID:           uuid.NewString(),
		Status:       orders.StatusActive,
		CreatorID:    userID,
		AmountNeeded: req.AmountNeeded,
		PledgeMap:    map[string]float64{},
		Platform:     req.Platform,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
	if req.InitialPledge > 0 {
		order.PledgeMap[userID] = req.InitialPledge
		order.TotalPledge = req.InitialPledge
		order.TotalUsers = 1
	}

	if err := e.store.Insert(ctx, order); err != nil {
		e.refund(ctx, userID, "create_failed")
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not create order", err)
	}

	if err := e.cache.Create(ctx, order, ttl); err != nil {
		// The row exists but the order was never live. Close it out and
		// refund so the creator is not charged for an undiscoverable order.
		if _, mErr := e.store.MarkExpired(ctx, order.ID); mErr != nil {
			e.logger.Error().Err(mErr).Str("order_id", order.ID).Msg("failed to close order after cache failure")
		}
		e.refund(ctx, userID, "create_failed")
		return nil, apperrors.Wrap(apperrors.ErrCodeCacheError, "could not activate order", err)
	}

	if e.metrics != nil {
		e.metrics.OrdersCreatedTotal.Inc()
	}
	e.publish(notify.Event{Type: notify.EventOrderCreated, Order: order.Clone(), UserID: userID})
	e.logger.Info().Str("order_id", order.ID).Str("creator_id", userID).
		Float64("amount_needed", order.AmountNeeded).Dur("ttl", ttl).Msg("order created")

	return order, nil
}

// PledgeOutcome is the result of a successful pledge.
type PledgeOutcome struct {
	Order          *orders.Order
	Completed      bool
	PhoneNumberMap map[string]string // populated when the pledge completed the order
}

// PledgeToOrder charges one credit and applies an additive pledge through the
// cache's scripted step. A rejected pledge refunds the credit exactly once. A
// durable-store failure after an accepted pledge does NOT refund: the live
// cache already committed the pledge and is authoritative for ACTIVE state.
func (e *Engine) PledgeToOrder(ctx context.Context, userID, orderID string, amount float64) (*PledgeOutcome, error) {
	if orderID == "" {
		return nil, apperrors.New(apperrors.ErrCodeMissingField, "orderId is required")
	}
	if amount < e.cfg.PledgeMinAmount {
		return nil, apperrors.New(apperrors.ErrCodeInvalidAmount,
			fmt.Sprintf("pledgeAmount must be at least %g", e.cfg.PledgeMinAmount))
	}

	if err := e.debit(ctx, userID); err != nil {
		return nil, err
	}

	res, err := e.cache.Pledge(ctx, orderID, userID, amount)
	if err != nil {
		e.refund(ctx, userID, "pledge_failed")
		e.countPledge("error")
		return nil, apperrors.Wrap(apperrors.ErrCodeCacheError, "could not apply pledge", err)
	}

	if !res.OK {
		e.refund(ctx, userID, "pledge_failed")
		e.countPledge(res.Reason)
		e.publish(notify.Event{Type: notify.EventPledgeFailed, UserID: userID, Reason: res.Reason,
			Order: &orders.Order{ID: orderID}})
		return nil, pledgeRejection(res.Reason)
	}

	order := res.Order
	if err := e.store.UpdatePledge(ctx, orderID, order.PledgeMap, order.TotalPledge, order.TotalUsers, order.Status); err != nil {
		// The cache committed the pledge; the row catches up via the lazy
		// reconcile path rather than by clawing the credit back.
		e.logger.Error().Err(err).Str("order_id", orderID).Msg("durable pledge update failed; cache is ahead")
	}

	e.countPledge("accepted")
	if e.metrics != nil {
		e.metrics.PledgeAmounts.Observe(amount)
	}
	e.publish(notify.Event{Type: notify.EventPledgeSuccess, Order: order.Clone(), UserID: userID})

	outcome := &PledgeOutcome{Order: order, Completed: res.Completed}
	if res.Completed {
		if e.metrics != nil {
			e.metrics.OrdersCompletedTotal.Inc()
		}
		e.publish(notify.Event{Type: notify.EventOrderCompleted, Order: order.Clone()})

		phones, err := e.users.PhoneNumbers(ctx, order.Participants())
		if err != nil {
			e.logger.Error().Err(err).Str("order_id", orderID).Msg("could not resolve participant phone numbers")
		} else {
			outcome.PhoneNumberMap = phones
		}
		e.logger.Info().Str("order_id", orderID).Float64("total_pledge", order.TotalPledge).
			Int("total_users", order.TotalUsers).Msg("order completed")
	}

	return outcome, nil
}

// GetActiveOrdersNear returns live orders within radiusKm of the point.
func (e *Engine) GetActiveOrdersNear(ctx context.Context, lat, lon, radiusKm float64) ([]*orders.Order, error) {
	if err := validateCoords(lat, lon); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = e.cfg.DefaultSearchRadiusKm
	}

	found, err := e.cache.FindNear(ctx, lat, lon, radiusKm)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeCacheError, "discovery unavailable", err)
	}
	return found, nil
}

// OrderStatus is the participant view of an order.
type OrderStatus struct {
	Order          *orders.Order
	PhoneNumberMap map[string]string // COMPLETED only
	Note           string            // EXPIRED only
}

// GetOrderStatus returns the order as seen by userID. Non-participants get
// ErrCodeOrderNotFound so they cannot probe for existence. Live state is read
// cache-first; the durable row only answers for terminal orders.
func (e *Engine) GetOrderStatus(ctx context.Context, userID, orderID string) (*OrderStatus, error) {
	order, err := e.cache.Get(ctx, orderID)
	if err != nil {
		e.logger.Warn().Err(err).Str("order_id", orderID).Msg("cache read failed, falling back to store")
	}
	if order == nil {
		order, err = e.store.Get(ctx, orderID)
		if err == orders.ErrNotFound {
			return nil, apperrors.New(apperrors.ErrCodeOrderNotFound, "order not found")
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not load order", err)
		}
	}

	if _, participant := order.PledgeMap[userID]; !participant {
		return nil, apperrors.New(apperrors.ErrCodeOrderNotFound, "order not found")
	}

	status := &OrderStatus{Order: order}
	switch order.Status {
	case orders.StatusActive:
		status.Order = order.RedactFor(userID)
	case orders.StatusCompleted:
		phones, err := e.users.PhoneNumbers(ctx, order.Participants())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not resolve phone numbers", err)
		}
		status.PhoneNumberMap = phones
	case orders.StatusExpired:
		status.Note = "this order expired before reaching its target; your credit was refunded"
	}
	return status, nil
}

func (e *Engine) validateCreate(req CreateOrderRequest) error {
	if req.AmountNeeded < e.cfg.OrderMinAmount {
		return apperrors.New(apperrors.ErrCodeInvalidAmount,
			fmt.Sprintf("amountNeeded must be at least %g", e.cfg.OrderMinAmount))
	}
	if req.Platform == "" {
		return apperrors.New(apperrors.ErrCodeMissingField, "platform is required")
	}
	if req.InitialPledge < 0 {
		return apperrors.New(apperrors.ErrCodeInvalidAmount, "initialPledge cannot be negative")
	}
	return validateCoords(req.Latitude, req.Longitude)
}

func validateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return apperrors.New(apperrors.ErrCodeInvalidField, "latitude out of range")
	}
	if lon < -180 || lon > 180 {
		return apperrors.New(apperrors.ErrCodeInvalidField, "longitude out of range")
	}
	return nil
}

// debit charges the per-action credit cost.
func (e *Engine) debit(ctx context.Context, userID string) error {
	ok, err := e.users.TryDebit(ctx, userID, e.cfg.CreditCostPerAction)
	if err == users.ErrNotFound {
		return apperrors.New(apperrors.ErrCodeUnauthenticated, "unknown user")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not charge credits", err)
	}
	if !ok {
		e.countDebit("insufficient")
		return apperrors.New(apperrors.ErrCodeInsufficientCredits, "not enough credits")
	}
	e.countDebit("ok")
	return nil
}

// refund returns the per-action cost after a failed action. Errors are logged
// and swallowed; an unrefunded credit is repaired out of band, never by a
// second automatic attempt that could double-credit.
func (e *Engine) refund(ctx context.Context, userID, reason string) {
	if err := e.users.Credit(ctx, userID, e.cfg.CreditCostPerAction); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Str("reason", reason).Msg("credit refund failed")
		return
	}
	if e.metrics != nil {
		e.metrics.CreditRefundsTotal.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) publish(evt notify.Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}

func (e *Engine) countPledge(outcome string) {
	if e.metrics != nil {
		e.metrics.PledgesTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) countDebit(outcome string) {
	if e.metrics != nil {
		e.metrics.CreditDebitsTotal.WithLabelValues(outcome).Inc()
	}
}

// pledgeRejection maps a script rejection reason to a coded error.
func pledgeRejection(reason string) error {
	switch reason {
	case livecache.ReasonNotFound:
		return apperrors.New(apperrors.ErrCodeOrderNotFound, "order not found")
	case livecache.ReasonNotActive:
		return apperrors.New(apperrors.ErrCodeOrderNotActive, "order is no longer active")
	case livecache.ReasonFullyPledged:
		return apperrors.New(apperrors.ErrCodeOrderFullyPledged, "order already reached its target")
	default:
		return apperrors.New(apperrors.ErrCodeInternalError, "pledge rejected")
	}
}
