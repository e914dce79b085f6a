package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/orders"
	"github.com/bundl-app/server/internal/users"
)

type recordingPusher struct {
	mu     sync.Mutex
	pushes []string // token values, in delivery order
	err    error
}

func (p *recordingPusher) Push(_ context.Context, token, _, _ string, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.pushes = append(p.pushes, token)
	return nil
}

func (p *recordingPusher) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pushes...)
}

func seedUsers(t *testing.T, tokens map[string]string) (*users.MemoryStore, map[string]string) {
	t.Helper()
	ctx := context.Background()
	store := users.NewMemoryStore()
	ids := make(map[string]string, len(tokens))

	for name, token := range tokens {
		u, _, err := store.GetOrCreateByPhone(ctx, "+9190000"+name, 5)
		if err != nil {
			t.Fatal(err)
		}
		if token != "" {
			if err := store.SetPushToken(ctx, u.ID, token); err != nil {
				t.Fatal(err)
			}
		}
		ids[name] = u.ID
	}
	return store, ids
}

func testOrder(creatorID string, pledgers map[string]float64) *orders.Order {
	return &orders.Order{
		ID:           "o1",
		Status:       orders.StatusActive,
		CreatorID:    creatorID,
		AmountNeeded: 100,
		PledgeMap:    pledgers,
		Platform:     "zomato",
		ExpiresAt:    time.Now().Add(time.Minute),
		CreatedAt:    time.Now(),
	}
}

func TestBroadcastReachesEveryParticipant(t *testing.T) {
	store, ids := seedUsers(t, map[string]string{"a": "tok-a", "b": "tok-b"})
	pusher := &recordingPusher{}
	d := NewDispatcher(8, pusher, store, nil, zerolog.Nop())
	go d.Run()

	order := testOrder(ids["a"], map[string]float64{ids["a"]: 40, ids["b"]: 70})
	d.Publish(Event{Type: EventOrderCompleted, Order: order})
	d.Stop()

	got := pusher.tokens()
	if len(got) != 2 {
		t.Fatalf("delivered %d pushes, want 2: %v", len(got), got)
	}
	seen := map[string]bool{}
	for _, tok := range got {
		seen[tok] = true
	}
	if !seen["tok-a"] || !seen["tok-b"] {
		t.Errorf("pushes = %v, want tok-a and tok-b", got)
	}
}

func TestMissingTokenSkippedSilently(t *testing.T) {
	store, ids := seedUsers(t, map[string]string{"a": "tok-a", "b": ""})
	pusher := &recordingPusher{}
	d := NewDispatcher(8, pusher, store, nil, zerolog.Nop())
	go d.Run()

	order := testOrder(ids["a"], map[string]float64{ids["a"]: 40, ids["b"]: 70})
	d.Publish(Event{Type: EventOrderExpired, Order: order})
	d.Stop()

	got := pusher.tokens()
	if len(got) != 1 || got[0] != "tok-a" {
		t.Errorf("pushes = %v, want exactly [tok-a]", got)
	}
}

func TestPledgeSuccessNotifiesCreatorToo(t *testing.T) {
	store, ids := seedUsers(t, map[string]string{"creator": "tok-c", "pledger": "tok-p"})
	pusher := &recordingPusher{}
	d := NewDispatcher(8, pusher, store, nil, zerolog.Nop())
	go d.Run()

	order := testOrder(ids["creator"], map[string]float64{ids["creator"]: 40, ids["pledger"]: 30})
	d.Publish(Event{Type: EventPledgeSuccess, Order: order, UserID: ids["pledger"]})
	d.Stop()

	got := pusher.tokens()
	if len(got) != 2 {
		t.Fatalf("delivered %d pushes, want 2 (pledger and creator): %v", len(got), got)
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	store, ids := seedUsers(t, map[string]string{"a": "tok-a"})
	pusher := &recordingPusher{}

	// Capacity 1 and no consumer running: the second publish must not block.
	d := NewDispatcher(1, pusher, store, nil, zerolog.Nop())
	order := testOrder(ids["a"], map[string]float64{ids["a"]: 40})

	done := make(chan struct{})
	go func() {
		d.Publish(Event{Type: EventOrderCreated, Order: order, UserID: ids["a"]})
		d.Publish(Event{Type: EventOrderCreated, Order: order, UserID: ids["a"]})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	go d.Run()
	d.Stop()
	if got := pusher.tokens(); len(got) != 1 {
		t.Errorf("delivered %d pushes, want 1 (the second event dropped)", len(got))
	}
}

func TestDeliveryFailureDoesNotPanic(t *testing.T) {
	store, ids := seedUsers(t, map[string]string{"a": "tok-a"})
	pusher := &recordingPusher{err: context.DeadlineExceeded}
	d := NewDispatcher(8, pusher, store, nil, zerolog.Nop())
	go d.Run()

	order := testOrder(ids["a"], map[string]float64{ids["a"]: 40})
	d.Publish(Event{Type: EventPledgeFailed, Order: order, UserID: ids["a"], Reason: "order_not_active"})
	d.Stop()
}
