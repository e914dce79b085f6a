package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/internal/users"
)

const testSecret = "cf-client-secret"

func newTestService(t *testing.T) (*Service, *users.MemoryStore, *users.User) {
	t.Helper()
	cfg := config.CreditsConfig{
		WebhookSecret: testSecret,
		Packages: []config.CreditPackage{
			{ID: "starter", Credits: 10, PricePaise: 4900},
			{ID: "regular", Credits: 25, PricePaise: 9900},
		},
	}
	store := users.NewMemoryStore()
	u, _, err := store.GetOrCreateByPhone(context.Background(), "+919876543210", 5)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(cfg, NewMemoryStore(), store, nil, zerolog.Nop())
	return svc, store, u
}

func signedWebhook(t *testing.T, orderID, paymentStatus string) (body []byte, timestamp, signature string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"order":   map[string]any{"order_id": orderID},
			"payment": map[string]any{"payment_status": paymentStatus},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	timestamp = fmt.Sprintf("%d", time.Now().Unix())
	signature = computeSignature(testSecret, body, timestamp)
	return body, timestamp, signature
}

func TestPurchaseLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newTestService(t)

	p, err := svc.CreateOrder(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("CreateOrder() error: %v", err)
	}
	if p.Status != StatusCreated || p.PackageID != "starter" {
		t.Errorf("purchase = %+v", p)
	}
	if p.OrderID == "" || p.SessionID == "" {
		t.Error("purchase missing order or session id")
	}

	paid, err := svc.Verify(ctx, u.ID, p.OrderID)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if paid {
		t.Error("unpaid purchase verified as paid")
	}

	body, ts, sig := signedWebhook(t, p.OrderID, "SUCCESS")
	if err := svc.HandleWebhook(ctx, body, ts, sig); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}

	bal, err := svc.Balance(ctx, u.ID)
	if err != nil {
		t.Fatal(err)
	}
	if bal != 15 {
		t.Errorf("balance = %d, want 15 (5 starting + 10 purchased)", bal)
	}

	paid, err = svc.Verify(ctx, u.ID, p.OrderID)
	if err != nil || !paid {
		t.Errorf("Verify() after webhook = (%v, %v), want (true, nil)", paid, err)
	}
}

func TestWebhookReplayCreditsOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newTestService(t)

	p, err := svc.CreateOrder(ctx, u.ID, 25)
	if err != nil {
		t.Fatal(err)
	}
	body, ts, sig := signedWebhook(t, p.OrderID, "SUCCESS")

	for i := 0; i < 3; i++ {
		if err := svc.HandleWebhook(ctx, body, ts, sig); err != nil {
			t.Fatalf("HandleWebhook() attempt %d error: %v", i+1, err)
		}
	}

	bal, _ := svc.Balance(ctx, u.ID)
	if bal != 30 {
		t.Errorf("balance = %d, want 30 (credited exactly once)", bal)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newTestService(t)

	p, err := svc.CreateOrder(ctx, u.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	body, ts, _ := signedWebhook(t, p.OrderID, "SUCCESS")

	err = svc.HandleWebhook(ctx, body, ts, "bogus-signature")
	if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidSignature {
		t.Fatalf("error = %v, want invalid_signature", err)
	}

	// Tampered body under a stale signature must also fail.
	_, _, sig := signedWebhook(t, p.OrderID, "SUCCESS")
	tampered, _, _ := signedWebhook(t, p.OrderID, "FAILED")
	err = svc.HandleWebhook(ctx, tampered, ts, sig)
	if apperrors.CodeOf(err) != apperrors.ErrCodeInvalidSignature {
		t.Fatalf("tampered body error = %v, want invalid_signature", err)
	}

	bal, _ := svc.Balance(ctx, u.ID)
	if bal != 5 {
		t.Errorf("balance = %d, want unchanged 5", bal)
	}
}

func TestWebhookIgnoresNonSuccess(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newTestService(t)

	p, err := svc.CreateOrder(ctx, u.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	body, ts, sig := signedWebhook(t, p.OrderID, "FAILED")
	if err := svc.HandleWebhook(ctx, body, ts, sig); err != nil {
		t.Fatalf("HandleWebhook() error: %v", err)
	}

	bal, _ := svc.Balance(ctx, u.ID)
	if bal != 5 {
		t.Errorf("balance = %d, want unchanged 5", bal)
	}
	if paid, _ := svc.Verify(ctx, u.ID, p.OrderID); paid {
		t.Error("failed payment marked as paid")
	}
}

func TestCreateOrderUnknownPackage(t *testing.T) {
	ctx := context.Background()
	svc, _, u := newTestService(t)

	_, err := svc.CreateOrder(ctx, u.ID, 999)
	if apperrors.CodeOf(err) != apperrors.ErrCodePackageNotFound {
		t.Fatalf("error = %v, want package_not_found", err)
	}
}

func TestVerifyHidesForeignPurchases(t *testing.T) {
	ctx := context.Background()
	svc, store, u := newTestService(t)
	other, _, err := store.GetOrCreateByPhone(ctx, "+911111111111", 5)
	if err != nil {
		t.Fatal(err)
	}

	p, err := svc.CreateOrder(ctx, u.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Verify(ctx, other.ID, p.OrderID)
	if apperrors.CodeOf(err) != apperrors.ErrCodePurchaseNotFound {
		t.Fatalf("error = %v, want purchase_not_found", err)
	}
}
