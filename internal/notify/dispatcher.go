package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/users"
)

const deliveryTimeout = 10 * time.Second

// tokenSource resolves a user's push token. Satisfied by users.Store.
type tokenSource interface {
	Get(ctx context.Context, userID string) (*users.User, error)
}

// Dispatcher consumes engine events from a bounded queue and fans each one
// out to the affected users. A single goroutine drains the queue; Publish
// never blocks the engine.
type Dispatcher struct {
	events  chan Event
	pusher  Pusher
	tokens  tokenSource
	logger  zerolog.Logger
	metrics *metrics.Metrics

	stopOnce sync.Once
	done     chan struct{}
}

// NewDispatcher creates a dispatcher with the given queue capacity.
// A nil pusher disables delivery; events are still drained.
func NewDispatcher(queueSize int, pusher Pusher, tokens tokenSource, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		events:  make(chan Event, queueSize),
		pusher:  pusher,
		tokens:  tokens,
		logger:  log.With().Str("component", "dispatcher").Logger(),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Publish enqueues an event. When the queue is full the event is dropped;
// delivery is best-effort by contract.
func (d *Dispatcher) Publish(evt Event) {
	select {
	case d.events <- evt:
		if d.metrics != nil {
			d.metrics.EventQueueDepth.Set(float64(len(d.events)))
		}
	default:
		if d.metrics != nil {
			d.metrics.PushDeliveriesTotal.WithLabelValues("dropped").Inc()
		}
		d.logger.Warn().Str("event", string(evt.Type)).Msg("event queue full, dropping event")
	}
}

// Run drains the queue until Stop is called, then finishes the backlog.
func (d *Dispatcher) Run() {
	for evt := range d.events {
		d.deliver(evt)
		if d.metrics != nil {
			d.metrics.EventQueueDepth.Set(float64(len(d.events)))
		}
	}
	close(d.done)
}

// Stop closes the queue and waits for the backlog to drain.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.events)
	})
	<-d.done
}

type message struct {
	userID string
	title  string
	body   string
	data   map[string]string
}

// deliver resolves recipients for the event and pushes to each.
func (d *Dispatcher) deliver(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, msg := range d.messagesFor(evt) {
		d.pushTo(ctx, msg)
	}
}

// messagesFor maps an event to the set of per-user messages.
func (d *Dispatcher) messagesFor(evt Event) []message {
	data := map[string]string{"type": string(evt.Type)}
	if evt.Order != nil {
		data["orderId"] = evt.Order.ID
	}

	switch evt.Type {
	case EventOrderCreated:
		return []message{{
			userID: evt.UserID,
			title:  "Order created",
			body:   fmt.Sprintf("Your %s order is live. Waiting for nearby pledges.", evt.Order.Platform),
			data:   data,
		}}

	case EventPledgeSuccess:
		msgs := []message{{
			userID: evt.UserID,
			title:  "Pledge accepted",
			body:   "Your pledge was added to the order.",
			data:   data,
		}}
		if evt.Order != nil && evt.Order.CreatorID != evt.UserID {
			msgs = append(msgs, message{
				userID: evt.Order.CreatorID,
				title:  "New pledge",
				body:   "Someone pledged toward your order.",
				data:   data,
			})
		}
		return msgs

	case EventPledgeFailed:
		data["reason"] = evt.Reason
		return []message{{
			userID: evt.UserID,
			title:  "Pledge failed",
			body:   "Your pledge could not be applied.",
			data:   data,
		}}

	case EventOrderCompleted:
		return d.broadcast(evt, "Order complete!",
			"The order reached its target. Phone numbers are now shared with the group.", data)

	case EventOrderExpired:
		return d.broadcast(evt, "Order expired",
			"The order did not reach its target in time. Your credit was refunded.", data)
	}

	return nil
}

// broadcast builds one message per participant, in stable order.
func (d *Dispatcher) broadcast(evt Event, title, body string, data map[string]string) []message {
	if evt.Order == nil {
		return nil
	}
	participants := evt.Order.Participants()
	sort.Strings(participants)

	msgs := make([]message, 0, len(participants))
	for _, userID := range participants {
		msgs = append(msgs, message{userID: userID, title: title, body: body, data: data})
	}
	return msgs
}

func (d *Dispatcher) pushTo(ctx context.Context, msg message) {
	if d.pusher == nil || d.tokens == nil {
		return
	}

	u, err := d.tokens.Get(ctx, msg.userID)
	if err != nil {
		d.logger.Warn().Err(err).Str("user_id", msg.userID).Msg("cannot resolve push recipient")
		d.countDelivery("error")
		return
	}
	if u.PushToken == "" {
		// Users without a registered device are skipped silently.
		d.countDelivery("no_token")
		return
	}

	if err := d.pusher.Push(ctx, u.PushToken, msg.title, msg.body, msg.data); err != nil {
		d.logger.Warn().Err(err).Str("user_id", msg.userID).Msg("push delivery failed")
		d.countDelivery("error")
		return
	}
	d.countDelivery("ok")
}

func (d *Dispatcher) countDelivery(outcome string) {
	if d.metrics != nil {
		d.metrics.PushDeliveriesTotal.WithLabelValues(outcome).Inc()
	}
}
