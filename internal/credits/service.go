package credits

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/internal/metrics"
	"github.com/bundl-app/server/internal/users"
)

// Service sells credit packages and applies paid purchases to the ledger.
type Service struct {
	cfg       config.CreditsConfig
	purchases Store
	users     users.Store
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// NewService wires the credit top-up flow.
func NewService(cfg config.CreditsConfig, purchases Store, userStore users.Store, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		purchases: purchases,
		users:     userStore,
		logger:    log.With().Str("component", "credits").Logger(),
		metrics:   m,
	}
}

// Packages lists the purchasable credit bundles.
func (s *Service) Packages() []config.CreditPackage {
	return s.cfg.Packages
}

// Balance returns the user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	bal, err := s.users.Credits(ctx, userID)
	if err == users.ErrNotFound {
		return 0, apperrors.New(apperrors.ErrCodeUnauthenticated, "unknown user")
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not read balance", err)
	}
	return bal, nil
}

// CreateOrder opens a payment session for the package matching the requested
// credit amount and records the purchase in CREATED state.
func (s *Service) CreateOrder(ctx context.Context, userID string, creditAmount int) (*Purchase, error) {
	pkg, ok := s.packageFor(creditAmount)
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodePackageNotFound, "no package with that credit amount")
	}

	p := &Purchase{
		OrderID:   "bundl_" + uuid.NewString(),
		UserID:    userID,
		PackageID: pkg.ID,
		Credits:   pkg.Credits,
		Status:    StatusCreated,
		SessionID: "session_" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.purchases.Create(ctx, p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not create purchase", err)
	}

	s.logger.Info().Str("order_id", p.OrderID).Str("user_id", userID).
		Str("package_id", pkg.ID).Msg("credit purchase created")
	return p, nil
}

// Verify reports whether the purchase has been paid.
func (s *Service) Verify(ctx context.Context, userID, orderID string) (bool, error) {
	p, err := s.purchases.Get(ctx, orderID)
	if err == ErrNotFound {
		return false, apperrors.New(apperrors.ErrCodePurchaseNotFound, "purchase not found")
	}
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not load purchase", err)
	}
	if p.UserID != userID {
		return false, apperrors.New(apperrors.ErrCodePurchaseNotFound, "purchase not found")
	}
	return p.Status == StatusPaid, nil
}

// webhookPayload is the subset of the gateway notification the service needs.
type webhookPayload struct {
	Data struct {
		Order struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment struct {
			PaymentStatus string `json:"payment_status"`
		} `json:"payment"`
	} `json:"data"`
}

// HandleWebhook processes a gateway payment notification. The signature is
// verified against the raw body; crediting is idempotent because only the
// first CREATED to PAID flip applies the credits.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, timestamp, signature string) error {
	if !VerifySignature(s.cfg.WebhookSecret, body, timestamp, signature) {
		return apperrors.New(apperrors.ErrCodeInvalidSignature, "invalid webhook signature")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeWebhookMalformed, "undecodable webhook payload", err)
	}
	orderID := payload.Data.Order.OrderID
	if orderID == "" {
		return apperrors.New(apperrors.ErrCodeWebhookMalformed, "webhook missing order id")
	}

	if payload.Data.Payment.PaymentStatus != "SUCCESS" {
		s.logger.Info().Str("order_id", orderID).
			Str("payment_status", payload.Data.Payment.PaymentStatus).Msg("ignoring non-success webhook")
		return nil
	}

	p, err := s.purchases.Get(ctx, orderID)
	if err == ErrNotFound {
		return apperrors.New(apperrors.ErrCodePurchaseNotFound, "purchase not found")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not load purchase", err)
	}

	flipped, err := s.purchases.MarkPaid(ctx, orderID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not update purchase", err)
	}
	if !flipped {
		// Retry from the gateway; already credited.
		s.logger.Info().Str("order_id", orderID).Msg("webhook replay for settled purchase")
		return nil
	}

	if err := s.users.Credit(ctx, p.UserID, p.Credits); err != nil {
		// The purchase row is PAID but the ledger write failed. Surface the
		// error so the gateway retries do not silently drop the top-up; the
		// operator resolves it from the PAID-but-uncredited row.
		s.logger.Error().Err(err).Str("order_id", orderID).Str("user_id", p.UserID).
			Msg("purchase paid but crediting failed")
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not apply credits", err)
	}

	if s.metrics != nil {
		s.metrics.CreditTopUpsTotal.Inc()
		s.metrics.CreditTopUpCreditsTotal.Add(float64(p.Credits))
	}
	s.logger.Info().Str("order_id", orderID).Str("user_id", p.UserID).
		Int("credits", p.Credits).Msg("credit top-up applied")
	return nil
}

func (s *Service) packageFor(creditAmount int) (config.CreditPackage, bool) {
	for _, pkg := range s.cfg.Packages {
		if pkg.Credits == creditAmount {
			return pkg, true
		}
	}
	return config.CreditPackage{}, false
}
