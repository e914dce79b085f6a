package auth

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bundl-app/server/internal/config"
	apperrors "github.com/bundl-app/server/internal/errors"
	"github.com/bundl-app/server/internal/logger"
	"github.com/bundl-app/server/internal/users"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

// pendingOTP is an in-flight login transaction keyed by transaction id.
type pendingOTP struct {
	Phone     string
	Code      string
	AnyCode   bool // debug mode or dummy review accounts accept any code
	ExpiresAt time.Time
}

// Service implements the OTP login flow and token lifecycle.
type Service struct {
	cfg            config.AuthConfig
	users          users.Store
	issuer         *TokenIssuer
	blacklist      *Blacklist
	sender         OTPSender
	defaultCredits int
	logger         zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingOTP
	dummy   map[string]bool
}

// NewService wires the auth flow. sender may be nil when debug mode is on.
func NewService(cfg config.AuthConfig, userStore users.Store, sender OTPSender, defaultCredits int, log zerolog.Logger) *Service {
	dummy := make(map[string]bool, len(cfg.DummyNumbers))
	for _, n := range cfg.DummyNumbers {
		dummy[n] = true
	}
	return &Service{
		cfg:            cfg,
		users:          userStore,
		issuer:         NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL.Duration, cfg.RefreshTokenTTL.Duration),
		blacklist:      NewBlacklist(),
		sender:         sender,
		defaultCredits: defaultCredits,
		logger:         log.With().Str("component", "auth").Logger(),
		pending:        make(map[string]*pendingOTP),
		dummy:          dummy,
	}
}

// Issuer exposes the token issuer for the HTTP middleware.
func (s *Service) Issuer() *TokenIssuer { return s.issuer }

// SendOTP starts a login transaction for the phone number and returns the
// transaction id the client must echo back with the code.
func (s *Service) SendOTP(ctx context.Context, phone string) (string, error) {
	if !phonePattern.MatchString(phone) {
		return "", apperrors.New(apperrors.ErrCodeInvalidField, "invalid phone number")
	}

	anyCode := s.cfg.DebugEnabled || s.dummy[phone]
	code := ""
	if !anyCode {
		var err error
		code, err = generateOTP()
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrCodeInternalError, "could not generate otp", err)
		}
		if s.sender == nil {
			return "", apperrors.New(apperrors.ErrCodeOTPProviderError, "otp delivery unavailable")
		}
		if err := s.sender.Send(ctx, phone, code); err != nil {
			s.logger.Error().Err(err).Str("phone", logger.RedactPhone(phone)).Msg("otp delivery failed")
			return "", apperrors.Wrap(apperrors.ErrCodeOTPProviderError, "could not deliver otp", err)
		}
	}

	tid := uuid.NewString()
	s.mu.Lock()
	s.prunePending()
	s.pending[tid] = &pendingOTP{
		Phone:     phone,
		Code:      code,
		AnyCode:   anyCode,
		ExpiresAt: time.Now().Add(s.cfg.OTPTTL.Duration),
	}
	s.mu.Unlock()

	s.logger.Info().Str("phone", logger.RedactPhone(phone)).Str("tid", tid).
		Bool("bypass", anyCode).Msg("otp transaction started")
	return tid, nil
}

// VerifyOTP completes a login transaction. The transaction is consumed on the
// first attempt, right or wrong; a mistyped code restarts the flow.
func (s *Service) VerifyOTP(ctx context.Context, tid, otp, pushToken string) (*TokenPair, *users.User, error) {
	s.mu.Lock()
	txn, ok := s.pending[tid]
	if ok {
		delete(s.pending, tid)
	}
	s.mu.Unlock()

	if !ok {
		return nil, nil, apperrors.New(apperrors.ErrCodeOTPExpired, "unknown or expired otp transaction")
	}
	if time.Now().After(txn.ExpiresAt) {
		return nil, nil, apperrors.New(apperrors.ErrCodeOTPExpired, "otp expired")
	}
	if !txn.AnyCode && otp != txn.Code {
		return nil, nil, apperrors.New(apperrors.ErrCodeOTPInvalid, "incorrect otp")
	}

	user, created, err := s.users.GetOrCreateByPhone(ctx, txn.Phone, s.defaultCredits)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "could not load user", err)
	}
	if pushToken != "" {
		if err := s.users.SetPushToken(ctx, user.ID, pushToken); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("could not store push token")
		} else {
			user.PushToken = pushToken
		}
	}

	tokens, err := s.issuer.Mint(user.ID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.ErrCodeInternalError, "could not issue tokens", err)
	}

	s.logger.Info().Str("user_id", user.ID).Bool("new_user", created).Msg("login verified")
	return tokens, user, nil
}

// Refresh rotates a refresh token into a new pair. The presented token is
// revoked so it cannot be replayed.
func (s *Service) Refresh(_ context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.issuer.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	if s.blacklist.IsRevoked(claims.ID) {
		return nil, apperrors.New(apperrors.ErrCodeTokenRevoked, "refresh token already used")
	}

	s.blacklist.Revoke(claims.ID, claims.ExpiresAt.Time)

	tokens, err := s.issuer.Mint(claims.UserID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternalError, "could not issue tokens", err)
	}
	return tokens, nil
}

// Logout revokes the refresh token. Access tokens simply age out.
func (s *Service) Logout(_ context.Context, refreshToken string) error {
	claims, err := s.issuer.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return err
	}
	s.blacklist.Revoke(claims.ID, claims.ExpiresAt.Time)
	return nil
}

// prunePending drops expired transactions. Caller holds the lock.
func (s *Service) prunePending() {
	now := time.Now()
	for tid, txn := range s.pending {
		if txn.ExpiresAt.Before(now) {
			delete(s.pending, tid)
		}
	}
}
