package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.uber.org/zap"

	"portal-auth/internal/events"
	"portal-auth/internal/hashing"
	"portal-auth/internal/mail"
	"portal-auth/internal/models"
	"portal-auth/internal/repository/mysqlrepo"
	"portal-auth/internal/repository/redisrepo"
	"portal-auth/internal/util"
)

// AuthService coordinates credential checks, OTP issuance, session
// promotion, and logout across the two session stores.
type AuthService struct {
	accounts  mysqlrepo.AccountRepository
	sessions  mysqlrepo.SessionRepository
	otpStore  redisrepo.OTPSessionStore
	hasher    *hashing.PasswordHasher
	mailer    mail.Mailer
	publisher events.Publisher
	otpExpiry time.Duration
	logger    *zap.Logger
}

func NewAuthService(
	accounts mysqlrepo.AccountRepository,
	sessions mysqlrepo.SessionRepository,
	otpStore redisrepo.OTPSessionStore,
	hasher *hashing.PasswordHasher,
	mailer mail.Mailer,
	publisher events.Publisher,
	otpExpiry time.Duration,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		accounts:  accounts,
		sessions:  sessions,
		otpStore:  otpStore,
		hasher:    hasher,
		mailer:    mailer,
		publisher: publisher,
		otpExpiry: otpExpiry,
		logger:    logger,
	}
}

// LoginResult is the outcome of a login attempt: either an already-active
// session or an OTP challenge the caller must answer.
type LoginResult struct {
	Message      string
	SessionToken string
	TempToken    string
	ExpiresIn    int
	ExpiresAt    *time.Time
	NextStep     string
	IsSignedIn   bool
	Account      *models.Account
}

// VerifyResult is a promoted durable session plus the identity snapshot.
type VerifyResult struct {
	SessionToken string
	ExpiresAt    time.Time
	Account      *models.Account
}

// ResendResult reports the refreshed challenge window.
type ResendResult struct {
	Message   string
	ExpiresIn int
}

// RegisterRequest carries a new account's fields.
type RegisterRequest struct {
	Username   string
	Email      string
	Password   string
	AccessType string
}

// Login runs the orchestrator state machine: check credentials, reuse an
// active session when one exists, otherwise reuse or issue an OTP challenge.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = util.NormalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mysqlrepo.ErrAccountNotFound) {
			return nil, ErrAuthenticationFailed
		}
		s.logger.Error("Account lookup failed during login", util.ErrorField(err))
		return nil, ErrAuthenticationFailed
	}
	if !s.hasher.VerifyPassword(password, account.HashedPassword) {
		s.publisher.Publish(ctx, events.AuthEvent{Type: events.TypeLoginFailed, Email: email})
		return nil, ErrAuthenticationFailed
	}

	// an already-authenticated account skips the OTP step entirely
	session, wasExpired, err := s.sessions.FindActive(ctx, account.ID)
	if err != nil {
		s.logger.Error("Active session lookup failed", util.ErrorField(err), util.Uint("account_id", account.ID))
		return nil, ErrTokenInvalidOrExpired
	}
	if session != nil {
		s.publisher.Publish(ctx, events.AuthEvent{
			Type: events.TypeSessionReused, Email: email, AccountID: account.ID,
		})
		expiresAt := session.ExpiresAt
		return &LoginResult{
			Message:      "Already signed in",
			SessionToken: session.Token,
			ExpiresAt:    &expiresAt,
			IsSignedIn:   account.IsActive,
			Account:      account,
		}, nil
	}
	if wasExpired {
		s.logger.Debug("Stale session cleaned up during login", util.Uint("account_id", account.ID))
	}

	// lazy sweep in place of a background scheduler
	if _, err := s.otpStore.SweepExpired(ctx); err != nil {
		s.logger.Warn("OTP sweep failed", util.ErrorField(err))
	}

	// surface an outstanding challenge instead of issuing a duplicate
	existing, err := s.otpStore.FindActiveFor(ctx, email, account.ID)
	if err != nil {
		s.logger.Error("Active OTP lookup failed", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}
	if existing != nil {
		return &LoginResult{
			Message:   "OTP already sent",
			TempToken: existing.Token,
			ExpiresIn: int(existing.RemainingTTL(time.Now()).Seconds()),
			NextStep:  "verify_otp",
		}, nil
	}

	temp, err := s.otpStore.Create(ctx, email, account.ID)
	if err != nil {
		return nil, ErrDispatchFailed
	}

	if err := s.sendOTPMail(ctx, email, temp.OTP); err != nil {
		// never leave an orphaned challenge the user cannot discover
		if delErr := s.otpStore.Delete(ctx, temp.Token); delErr != nil {
			s.logger.Error("Failed to clean up temporary session after mail failure",
				util.String("token", temp.Token), util.ErrorField(delErr))
		}
		s.logger.Error("OTP mail dispatch failed", util.String("email", email), util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	s.publisher.Publish(ctx, events.AuthEvent{
		Type: events.TypeOTPIssued, Email: email, AccountID: account.ID,
	})

	return &LoginResult{
		Message:   "OTP sent to your email",
		TempToken: temp.Token,
		ExpiresIn: temp.ExpirySeconds,
		NextStep:  "verify_otp",
	}, nil
}

func (s *AuthService) sendOTPMail(ctx context.Context, email, otp string) error {
	return s.mailer.Send(ctx, &models.MailRequest{
		Recipient: email,
		Options:   models.MailOptions{OTP: true},
		Context:   models.MailContext{OTPCode: otp},
	})
}

// VerifyOTP validates a submitted code and promotes the challenge into a
// durable session.
func (s *AuthService) VerifyOTP(ctx context.Context, token, code string) (*VerifyResult, error) {
	temp, err := s.otpStore.Get(ctx, token)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil, ErrTokenInvalidOrExpired
		}
		s.logger.Error("Temporary session lookup failed", util.ErrorField(err))
		return nil, ErrTokenInvalidOrExpired
	}

	if temp.Expired(time.Now()) {
		if err := s.otpStore.Delete(ctx, token); err != nil {
			s.logger.Warn("Failed to delete expired temporary session", util.ErrorField(err))
		}
		return nil, ErrOtpExpired
	}

	if subtle.ConstantTimeCompare([]byte(temp.OTP), []byte(code)) != 1 {
		// challenge stays retryable until expiry
		return nil, ErrOtpMismatch
	}

	if !temp.Verified {
		temp.Verified = true
		if err := s.otpStore.Update(ctx, temp); err != nil {
			s.logger.Warn("Failed to mark temporary session verified", util.ErrorField(err))
		}
	}

	session, err := s.sessions.Create(ctx, temp.AccountID, temp.Email)
	if err != nil {
		// keep the verified challenge so the caller can retry verification
		s.logger.Error("Session promotion failed after OTP verification",
			util.Uint("account_id", temp.AccountID), util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	temp.SessionToken = session.Token
	if err := s.otpStore.Delete(ctx, token); err != nil {
		s.logger.Warn("Failed to delete promoted temporary session",
			util.String("token", token), util.ErrorField(err))
	}

	account, err := s.accounts.GetByID(ctx, temp.AccountID)
	if err != nil {
		// session exists; fall back to the snapshot held in the challenge
		account = &models.Account{ID: temp.AccountID, Email: temp.Email}
	}

	s.publisher.Publish(ctx, events.AuthEvent{
		Type: events.TypeSessionCreated, Email: temp.Email, AccountID: temp.AccountID,
	})

	return &VerifyResult{
		SessionToken: session.Token,
		ExpiresAt:    session.ExpiresAt,
		Account:      account,
	}, nil
}

// ResendOTP rotates the code and issue timestamp on an outstanding
// challenge, keeping the same temp token.
func (s *AuthService) ResendOTP(ctx context.Context, token string) (*ResendResult, error) {
	temp, err := s.otpStore.Get(ctx, token)
	if err != nil {
		if errors.Is(err, redisrepo.ErrSessionNotFound) {
			return nil, ErrTokenInvalidOrExpired
		}
		s.logger.Error("Temporary session lookup failed", util.ErrorField(err))
		return nil, ErrTokenInvalidOrExpired
	}

	if temp.Expired(time.Now()) {
		if err := s.otpStore.Delete(ctx, token); err != nil {
			s.logger.Warn("Failed to delete expired temporary session", util.ErrorField(err))
		}
		return nil, ErrTokenInvalidOrExpired
	}

	otp, err := redisrepo.GenerateOTP()
	if err != nil {
		s.logger.Error("OTP generation failed", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}
	temp.OTP = otp
	temp.IssuedAt = time.Now().UTC()
	temp.Verified = false
	if err := s.otpStore.Update(ctx, temp); err != nil {
		s.logger.Error("Failed to rotate OTP", util.String("token", token), util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	if err := s.sendOTPMail(ctx, temp.Email, temp.OTP); err != nil {
		s.logger.Error("OTP resend dispatch failed", util.String("email", temp.Email), util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	s.publisher.Publish(ctx, events.AuthEvent{
		Type: events.TypeOTPResent, Email: temp.Email, AccountID: temp.AccountID,
	})

	return &ResendResult{
		Message:   "New OTP sent to your email",
		ExpiresIn: temp.ExpirySeconds,
	}, nil
}

// Logout deactivates the session behind the token. Logging out an already
// inactive or unknown token fails with the token error so repeated logouts
// are visible to the caller.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		if errors.Is(err, mysqlrepo.ErrSessionNotFound) {
			return ErrTokenInvalidOrExpired
		}
		s.logger.Error("Session invalidation failed", util.ErrorField(err))
		return ErrTokenInvalidOrExpired
	}
	s.publisher.Publish(ctx, events.AuthEvent{Type: events.TypeSessionRevoked})
	return nil
}

// ValidateSession is the per-request guard: an active, unexpired session
// whose account is still active, or nothing.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.DurableSession, *models.Account, error) {
	session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, mysqlrepo.ErrSessionNotFound) {
			return nil, nil, ErrTokenInvalidOrExpired
		}
		s.logger.Error("Session validation failed", util.ErrorField(err))
		return nil, nil, ErrTokenInvalidOrExpired
	}

	account, err := s.accounts.GetByID(ctx, session.AccountID)
	if err != nil {
		return nil, nil, ErrTokenInvalidOrExpired
	}
	if !account.IsActive {
		return nil, nil, ErrAccountInactive
	}
	return session, account, nil
}

// Register creates a new account and sends an activation mail best-effort.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.Account, error) {
	email := util.NormalizeEmail(req.Email)

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, mysqlrepo.ErrAccountNotFound) {
		s.logger.Error("Account lookup failed during registration", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	digest, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("Password hashing failed", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	account := &models.Account{
		Username:       util.SanitizeInput(req.Username),
		Email:          email,
		HashedPassword: digest,
		IsActive:       true,
		AccessType:     req.AccessType,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, mysqlrepo.ErrDuplicateEmail) {
			return nil, ErrAccountExists
		}
		s.logger.Error("Account creation failed", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	// activation mail is best-effort; registration already succeeded
	if err := s.mailer.Send(ctx, &models.MailRequest{
		Recipient: email,
		Options:   models.MailOptions{Confirmation: true},
	}); err != nil {
		s.logger.Warn("Activation mail dispatch failed", util.String("email", email), util.ErrorField(err))
	}

	s.publisher.Publish(ctx, events.AuthEvent{
		Type: events.TypeAccountRegister, Email: email, AccountID: account.ID,
	})
	return account, nil
}
