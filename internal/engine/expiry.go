package engine

import (
	"context"
	"time"

	"github.com/bundl-app/server/internal/notify"
)

// HandleExpiry processes an order expiry exactly once. The conditional
// ACTIVE to EXPIRED transition in the durable store is the idempotence gate:
// duplicate expiry events, and replays after a watcher reconnect, lose the
// gate and become no-ops.
func (e *Engine) HandleExpiry(ctx context.Context, orderID string) error {
	flipped, err := e.store.MarkExpired(ctx, orderID)
	if err != nil {
		e.logger.Error().Err(err).Str("order_id", orderID).Msg("expiry transition failed")
		return err
	}
	if !flipped {
		e.logger.Debug().Str("order_id", orderID).Msg("expiry already handled")
		return nil
	}

	order, err := e.store.Get(ctx, orderID)
	if err != nil {
		// The row flipped but cannot be read back; without the pledge map
		// there is nothing to refund. Rare enough to hand to the operator.
		e.logger.Error().Err(err).Str("order_id", orderID).Msg("expired order unreadable, refunds skipped")
		return err
	}

	// The snapshot TTL already fired, but the participant set and geo entry
	// have no TTL ordering guarantee of their own.
	if err := e.cache.Delete(ctx, orderID); err != nil {
		e.logger.Warn().Err(err).Str("order_id", orderID).Msg("cache cleanup failed on expiry")
	}

	refunded := 0
	for _, userID := range order.Participants() {
		if err := e.users.Credit(ctx, userID, e.cfg.CreditCostPerAction); err != nil {
			e.logger.Error().Err(err).Str("order_id", orderID).Str("user_id", userID).
				Msg("expiry refund failed")
			if e.metrics != nil {
				e.metrics.ExpiryRefundErrorsTotal.Inc()
			}
			continue
		}
		refunded++
		if e.metrics != nil {
			e.metrics.CreditRefundsTotal.WithLabelValues("expiry").Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.OrdersExpiredTotal.Inc()
	}
	e.publish(notify.Event{Type: notify.EventOrderExpired, Order: order.Clone()})
	e.logger.Info().Str("order_id", orderID).Int("participants", order.TotalUsers).
		Int("refunded", refunded).Msg("order expired")

	return nil
}

// Reconcile realigns the live cache with the durable store at boot. Orders
// whose deadline passed while the process was down are expired; the rest are
// re-hydrated with their remaining lifetime. Expiry events missed during a
// watcher outage are covered by the same scan.
func (e *Engine) Reconcile(ctx context.Context) error {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	expired, rehydrated := 0, 0
	for _, order := range active {
		if !order.ExpiresAt.After(now) {
			if err := e.HandleExpiry(ctx, order.ID); err != nil {
				e.logger.Error().Err(err).Str("order_id", order.ID).Msg("reconcile expiry failed")
			} else {
				expired++
			}
			continue
		}
		if err := e.cache.Create(ctx, order, order.ExpiresAt.Sub(now)); err != nil {
			e.logger.Error().Err(err).Str("order_id", order.ID).Msg("reconcile rehydrate failed")
			continue
		}
		rehydrated++
	}

	e.logger.Info().Int("active", len(active)).Int("expired", expired).
		Int("rehydrated", rehydrated).Msg("boot reconciliation complete")
	return nil
}
