package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/internal/livecache"
	"github.com/bundl-app/server/internal/notify"
	"github.com/bundl-app/server/internal/orders"
	"github.com/bundl-app/server/internal/users"
)

// fakeCache mirrors the scripted pledge semantics in memory. The mutex plays
// the role of the script's single-step atomicity.
type fakeCache struct {
	mu      sync.Mutex
	live    map[string]*orders.Order
	geo     map[string]bool
	created int

	failCreate error
	failPledge error
}

func newFakeCache() *fakeCache {
	return &fakeCache{live: map[string]*orders.Order{}, geo: map[string]bool{}}
}

func (c *fakeCache) Create(_ context.Context, order *orders.Order, _ time.Duration) error {
	if c.failCreate != nil {
		return c.failCreate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[order.ID] = order.Clone()
	c.geo[order.ID] = true
	c.created++
	return nil
}

func (c *fakeCache) Get(_ context.Context, orderID string) (*orders.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.live[orderID]; ok {
		return o.Clone(), nil
	}
	return nil, nil
}

func (c *fakeCache) Delete(_ context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, orderID)
	delete(c.geo, orderID)
	return nil
}

func (c *fakeCache) FindNear(_ context.Context, _, _, _ float64) ([]*orders.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*orders.Order
	for id := range c.geo {
		if o, ok := c.live[id]; ok && o.Status == orders.StatusActive {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (c *fakeCache) Pledge(_ context.Context, orderID, userID string, amount float64) (*livecache.PledgeResult, error) {
	if c.failPledge != nil {
		return nil, c.failPledge
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.live[orderID]
	if !ok {
		return &livecache.PledgeResult{OK: false, Reason: livecache.ReasonNotFound}, nil
	}
	if o.Status != orders.StatusActive {
		return &livecache.PledgeResult{OK: false, Reason: livecache.ReasonNotActive}, nil
	}
	if o.TotalPledge >= o.AmountNeeded {
		return &livecache.PledgeResult{OK: false, Reason: livecache.ReasonFullyPledged}, nil
	}

	if _, seen := o.PledgeMap[userID]; !seen {
		o.TotalUsers++
	}
	o.PledgeMap[userID] += amount
	o.TotalPledge += amount

	completed := o.TotalPledge >= o.AmountNeeded
	if completed {
		o.Status = orders.StatusCompleted
		delete(c.live, orderID)
		delete(c.geo, orderID)
	}
	return &livecache.PledgeResult{OK: true, Order: o.Clone(), Completed: completed}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *eventRecorder) Publish(evt notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, evt := range r.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	users  *users.MemoryStore
	store  *orders.MemoryStore
	cache  *fakeCache
	events *eventRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.OrdersConfig{
		DefaultUserCredits:    5,
		CreditCostPerAction:   1,
		DefaultExpiry:         config.Duration{Duration: 10 * time.Minute},
		DefaultSearchRadiusKm: 10,
		OrderMinAmount:        1,
		PledgeMinAmount:       1,
	}
	h := &harness{
		users:  users.NewMemoryStore(),
		store:  orders.NewMemoryStore(),
		cache:  newFakeCache(),
		events: &eventRecorder{},
	}
	h.engine = New(cfg, h.users, h.store, h.cache, h.events, nil, zerolog.Nop())
	return h
}

func (h *harness) newUser(t *testing.T, phone string, credits int) *users.User {
	t.Helper()
	u, _, err := h.users.GetOrCreateByPhone(context.Background(), phone, credits)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func (h *harness) balance(t *testing.T, userID string) int {
	t.Helper()
	bal, err := h.users.Credits(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	return bal
}

func assertCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("error code = %s, want %s (err: %v)", got, code, err)
	}
}

func TestSimpleCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newUser(t, "+911", 5)
	b := h.newUser(t, "+912", 5)

	order, err := h.engine.CreateOrder(ctx, a.ID, CreateOrderRequest{
		AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5, InitialPledge: 40,
	})
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	if got := h.balance(t, a.ID); got != 4 {
		t.Errorf("creator balance = %d, want 4", got)
	}
	if order.TotalPledge != 40 || order.TotalUsers != 1 {
		t.Errorf("order after create: %+v", order)
	}

	outcome, err := h.engine.PledgeToOrder(ctx, b.ID, order.ID, 70)
	if err != nil {
		t.Fatalf("PledgeToOrder() error: %v", err)
	}
	if got := h.balance(t, b.ID); got != 4 {
		t.Errorf("pledger balance = %d, want 4", got)
	}
	if !outcome.Completed {
		t.Fatal("pledge should have completed the order")
	}
	if outcome.Order.TotalPledge != 110 || outcome.Order.Status != orders.StatusCompleted {
		t.Errorf("completed order: %+v", outcome.Order)
	}
	if len(outcome.PhoneNumberMap) != 2 {
		t.Errorf("phone map = %v, want both participants", outcome.PhoneNumberMap)
	}
	if outcome.PhoneNumberMap[a.ID] != "+911" || outcome.PhoneNumberMap[b.ID] != "+912" {
		t.Errorf("phone map = %v", outcome.PhoneNumberMap)
	}

	// Completed orders leave the live view.
	if cached, _ := h.cache.Get(ctx, order.ID); cached != nil {
		t.Error("completed order still in the live cache")
	}

	// The durable row caught up with the completed state.
	row, err := h.store.Get(ctx, order.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != orders.StatusCompleted || row.TotalPledge != 110 {
		t.Errorf("durable row: %+v", row)
	}
}

func TestOvershootRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := h.newUser(t, "+921", 5)
	cUser := h.newUser(t, "+922", 5)
	dUser := h.newUser(t, "+923", 5)

	order, err := h.engine.CreateOrder(ctx, creator.ID, CreateOrderRequest{
		AmountNeeded: 100, Platform: "swiggy", Latitude: 12.9, Longitude: 77.5, InitialPledge: 90,
	})
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		outcome *PledgeOutcome
		err     error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for _, uid := range []string{cUser.ID, dUser.ID} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			out, err := h.engine.PledgeToOrder(ctx, uid, order.ID, 60)
			results <- result{out, err}
		}(uid)
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for r := range results {
		if r.err == nil {
			wins++
			if !r.outcome.Completed {
				t.Error("winning pledge must complete the order")
			}
			if r.outcome.Order.TotalPledge != 150 {
				t.Errorf("completed total = %v, want 150", r.outcome.Order.TotalPledge)
			}
		} else {
			losses++
			assertCode(t, r.err, apperrors.ErrCodeOrderFullyPledged)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}

	// The loser was refunded, the winner charged.
	balances := h.balance(t, cUser.ID) + h.balance(t, dUser.ID)
	if balances != 9 {
		t.Errorf("combined balance = %d, want 9 (one credit spent between them)", balances)
	}
}

func TestExpiryRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.newUser(t, "+931", 5)
	f := h.newUser(t, "+932", 5)

	order, err := h.engine.CreateOrder(ctx, e.ID, CreateOrderRequest{
		AmountNeeded: 200, Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
		InitialPledge: 50, Expiry: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.PledgeToOrder(ctx, f.ID, order.ID, 30); err != nil {
		t.Fatal(err)
	}

	// Both are one credit down.
	if h.balance(t, e.ID) != 4 || h.balance(t, f.ID) != 4 {
		t.Fatalf("pre-expiry balances: %d, %d", h.balance(t, e.ID), h.balance(t, f.ID))
	}

	if err := h.engine.HandleExpiry(ctx, order.ID); err != nil {
		t.Fatalf("HandleExpiry() error: %v", err)
	}

	if h.balance(t, e.ID) != 5 || h.balance(t, f.ID) != 5 {
		t.Errorf("post-expiry balances: %d, %d, want 5, 5", h.balance(t, e.ID), h.balance(t, f.ID))
	}

	row, _ := h.store.Get(ctx, order.ID)
	if row.Status != orders.StatusExpired {
		t.Errorf("status = %s, want EXPIRED", row.Status)
	}
	if cached, _ := h.cache.Get(ctx, order.ID); cached != nil {
		t.Error("expired order still in the live cache")
	}

	// A duplicate expiry event must not refund twice.
	if err := h.engine.HandleExpiry(ctx, order.ID); err != nil {
		t.Fatalf("second HandleExpiry() error: %v", err)
	}
	if h.balance(t, e.ID) != 5 || h.balance(t, f.ID) != 5 {
		t.Errorf("double-refund detected: %d, %d", h.balance(t, e.ID), h.balance(t, f.ID))
	}
	if got := len(h.events.ofType(notify.EventOrderExpired)); got != 1 {
		t.Errorf("expired events = %d, want 1", got)
	}
}

func TestNonParticipantLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	hUser := h.newUser(t, "+941", 5)
	iUser := h.newUser(t, "+942", 5)
	jUser := h.newUser(t, "+943", 5)

	order, err := h.engine.CreateOrder(ctx, hUser.ID, CreateOrderRequest{
		AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5, InitialPledge: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.PledgeToOrder(ctx, iUser.ID, order.ID, 30); err != nil {
		t.Fatal(err)
	}

	_, err = h.engine.GetOrderStatus(ctx, jUser.ID, order.ID)
	assertCode(t, err, apperrors.ErrCodeOrderNotFound)
}

func TestActiveStatusRedaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newUser(t, "+951", 5)
	b := h.newUser(t, "+952", 5)

	order, err := h.engine.CreateOrder(ctx, a.ID, CreateOrderRequest{
		AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5, InitialPledge: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.PledgeToOrder(ctx, b.ID, order.ID, 30); err != nil {
		t.Fatal(err)
	}

	status, err := h.engine.GetOrderStatus(ctx, b.ID, order.ID)
	if err != nil {
		t.Fatalf("GetOrderStatus() error: %v", err)
	}
	if len(status.Order.PledgeMap) != 1 {
		t.Fatalf("participant sees %d pledge entries on an active order, want 1", len(status.Order.PledgeMap))
	}
	if status.Order.PledgeMap[b.ID] != 30 {
		t.Errorf("redacted entry = %v, want caller's own pledge", status.Order.PledgeMap)
	}
	if status.Order.TotalPledge != 50 {
		t.Errorf("aggregate totalPledge = %v, want 50", status.Order.TotalPledge)
	}
	if status.PhoneNumberMap != nil {
		t.Error("phone map must not appear while the order is active")
	}
}

func TestAdditivePledge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := h.newUser(t, "+961", 5)
	k := h.newUser(t, "+962", 5)

	order, err := h.engine.CreateOrder(ctx, creator.ID, CreateOrderRequest{
		AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.PledgeToOrder(ctx, k.ID, order.ID, 10); err != nil {
		t.Fatal(err)
	}
	outcome, err := h.engine.PledgeToOrder(ctx, k.ID, order.ID, 15)
	if err != nil {
		t.Fatal(err)
	}

	if outcome.Order.PledgeMap[k.ID] != 25 {
		t.Errorf("pledge_map[K] = %v, want 25", outcome.Order.PledgeMap[k.ID])
	}
	if outcome.Order.TotalUsers != 2 {
		t.Errorf("totalUsers = %d, want 2 (creator not counted, K once)", outcome.Order.TotalUsers)
	}
	if got := h.balance(t, k.ID); got != 3 {
		t.Errorf("K balance = %d, want 3 (two debits)", got)
	}
}

func TestCreditConservationOnFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("insufficient credits", func(t *testing.T) {
		broke := h.newUser(t, "+971", 0)
		_, err := h.engine.CreateOrder(ctx, broke.ID, CreateOrderRequest{
			AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
		})
		assertCode(t, err, apperrors.ErrCodeInsufficientCredits)
		if got := h.balance(t, broke.ID); got != 0 {
			t.Errorf("balance = %d, want 0", got)
		}
	})

	t.Run("pledge to missing order refunds", func(t *testing.T) {
		u := h.newUser(t, "+972", 3)
		_, err := h.engine.PledgeToOrder(ctx, u.ID, "no-such-order", 10)
		assertCode(t, err, apperrors.ErrCodeOrderNotFound)
		if got := h.balance(t, u.ID); got != 3 {
			t.Errorf("balance = %d, want 3 (debit refunded)", got)
		}
		if got := len(h.events.ofType(notify.EventPledgeFailed)); got != 1 {
			t.Errorf("pledge failed events = %d, want 1", got)
		}
	})

	t.Run("cache create failure refunds and closes the row", func(t *testing.T) {
		u := h.newUser(t, "+973", 2)
		h.cache.failCreate = errors.New("redis down")
		defer func() { h.cache.failCreate = nil }()

		_, err := h.engine.CreateOrder(ctx, u.ID, CreateOrderRequest{
			AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
		})
		assertCode(t, err, apperrors.ErrCodeCacheError)
		if got := h.balance(t, u.ID); got != 2 {
			t.Errorf("balance = %d, want 2 (debit refunded)", got)
		}
	})

	t.Run("pledge script failure refunds", func(t *testing.T) {
		creator := h.newUser(t, "+974", 5)
		order, err := h.engine.CreateOrder(ctx, creator.ID, CreateOrderRequest{
			AmountNeeded: 100, Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
		})
		if err != nil {
			t.Fatal(err)
		}

		u := h.newUser(t, "+975", 3)
		h.cache.failPledge = errors.New("redis down")
		defer func() { h.cache.failPledge = nil }()

		_, err = h.engine.PledgeToOrder(ctx, u.ID, order.ID, 10)
		assertCode(t, err, apperrors.ErrCodeCacheError)
		if got := h.balance(t, u.ID); got != 3 {
			t.Errorf("balance = %d, want 3 (debit refunded)", got)
		}
	})
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := h.newUser(t, "+981", 5)

	// One order with a future deadline, one already past it. Both are rows a
	// restarted process would find; neither is in the (empty) cache yet.
	now := time.Now().UTC()
	liveOrder := &orders.Order{
		ID: "live", Status: orders.StatusActive, CreatorID: u.ID, AmountNeeded: 100,
		PledgeMap: map[string]float64{u.ID: 10}, TotalPledge: 10, TotalUsers: 1,
		Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
		ExpiresAt: now.Add(5 * time.Minute), CreatedAt: now.Add(-5 * time.Minute),
	}
	deadOrder := &orders.Order{
		ID: "dead", Status: orders.StatusActive, CreatorID: u.ID, AmountNeeded: 100,
		PledgeMap: map[string]float64{u.ID: 10}, TotalPledge: 10, TotalUsers: 1,
		Platform: "zomato", Latitude: 12.9, Longitude: 77.5,
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
	}
	for _, o := range []*orders.Order{liveOrder, deadOrder} {
		if err := h.store.Insert(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}

	if cached, _ := h.cache.Get(ctx, "live"); cached == nil {
		t.Error("live order was not rehydrated")
	}
	row, _ := h.store.Get(ctx, "dead")
	if row.Status != orders.StatusExpired {
		t.Errorf("dead order status = %s, want EXPIRED", row.Status)
	}
	if got := h.balance(t, u.ID); got != 6 {
		t.Errorf("balance = %d, want 6 (one refund from the dead order)", got)
	}
}

func TestDiscoveryExcludesTerminalOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.newUser(t, "+991", 5)
	b := h.newUser(t, "+992", 5)

	active, err := h.engine.CreateOrder(ctx, a.ID, CreateOrderRequest{
		AmountNeeded: 500, Platform: "zomato", Latitude: 12.9, Longitude: 77.5, InitialPledge: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	completed, err := h.engine.CreateOrder(ctx, a.ID, CreateOrderRequest{
		AmountNeeded: 50, Platform: "zomato", Latitude: 12.9, Longitude: 77.5, InitialPledge: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.PledgeToOrder(ctx, b.ID, completed.ID, 40); err != nil {
		t.Fatal(err)
	}

	found, err := h.engine.GetActiveOrdersNear(ctx, 12.9, 77.5, 10)
	if err != nil {
		t.Fatalf("GetActiveOrdersNear() error: %v", err)
	}
	if len(found) != 1 || found[0].ID != active.ID {
		ids := make([]string, len(found))
		for i, o := range found {
			ids[i] = o.ID
		}
		t.Errorf("discovery returned %v, want only %s", ids, active.ID)
	}
}
