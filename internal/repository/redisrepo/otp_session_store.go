package redisrepo

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"portal-auth/internal/client"
	"portal-auth/internal/models"
	"portal-auth/internal/util"
)

const (
	otpSessionPrefix = "otp_session:"
	otpActivePrefix  = "otp_active:"
)

// ErrSessionNotFound is returned when no record exists for a token.
var ErrSessionNotFound = errors.New("temporary session not found")

// OTPSessionStore is the durable store for in-flight OTP challenges. It is
// deliberately independent of the relational store so high-churn writes on
// every login and resend never contend with business data.
type OTPSessionStore interface {
	Create(ctx context.Context, email string, accountID uint) (*models.TempOTPSession, error)
	Get(ctx context.Context, token string) (*models.TempOTPSession, error)
	Update(ctx context.Context, session *models.TempOTPSession) error
	Delete(ctx context.Context, token string) error
	FindActiveFor(ctx context.Context, email string, accountID uint) (*models.TempOTPSession, error)
	SweepExpired(ctx context.Context) (int, error)
}

// otpSessionStore keeps each challenge as a JSON record keyed by token, plus
// an identity index key so at most one unverified challenge is treated as
// active per (email, account) pair. Record TTLs in Redis act only as a
// retention backstop; logical expiry is always computed from the issue time.
type otpSessionStore struct {
	client    *client.RedisClient
	expiry    time.Duration
	retention time.Duration

	// serializes all mutations; challenge volume is small, contention on a
	// coarse lock is cheaper than per-token locking
	mu sync.Mutex
}

func NewOTPSessionStore(redisClient *client.RedisClient, expiry, retention time.Duration) OTPSessionStore {
	if retention < expiry {
		retention = expiry * 2
	}
	return &otpSessionStore{
		client:    redisClient,
		expiry:    expiry,
		retention: retention,
	}
}

func sessionKey(token string) string {
	return otpSessionPrefix + token
}

func activeKey(email string, accountID uint) string {
	return fmt.Sprintf("%s%s:%d", otpActivePrefix, email, accountID)
}

// GenerateOTP returns a uniformly random 6 digit code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *otpSessionStore) Create(ctx context.Context, email string, accountID uint) (*models.TempOTPSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	otp, err := GenerateOTP()
	if err != nil {
		return nil, err
	}

	session := &models.TempOTPSession{
		Token:         uuid.NewString(),
		Email:         email,
		AccountID:     accountID,
		OTP:           otp,
		IssuedAt:      time.Now().UTC(),
		ExpirySeconds: int(s.expiry.Seconds()),
		Verified:      false,
	}

	if err := s.save(ctx, session, true); err != nil {
		util.Error("Failed to create temporary session",
			zap.String("email", email),
			zap.Uint("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create temporary session: %w", err)
	}

	util.Debug("Temporary session created",
		zap.String("token", session.Token),
		zap.String("email", email))
	return session, nil
}

func (s *otpSessionStore) save(ctx context.Context, session *models.TempOTPSession, index bool) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal temporary session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKey(session.Token), payload, s.retention)
	if index {
		pipe.Set(ctx, activeKey(session.Email, session.AccountID), session.Token, s.retention)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *otpSessionStore) Get(ctx context.Context, token string) (*models.TempOTPSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, sessionKey(token))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		util.Error("Failed to get temporary session",
			zap.String("token", token),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get temporary session: %w", err)
	}

	var session models.TempOTPSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal temporary session: %w", err)
	}
	return &session, nil
}

// Update persists a mutated record under the same token. Marking a session
// verified also drops it from the active index so it no longer blocks a
// fresh login challenge.
func (s *otpSessionStore) Update(ctx context.Context, session *models.TempOTPSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.save(ctx, session, !session.Verified); err != nil {
		util.Error("Failed to update temporary session",
			zap.String("token", session.Token),
			zap.Error(err))
		return fmt.Errorf("failed to update temporary session: %w", err)
	}
	if session.Verified {
		if err := s.client.Del(ctx, activeKey(session.Email, session.AccountID)); err != nil {
			return fmt.Errorf("failed to drop active index: %w", err)
		}
	}
	return nil
}

func (s *otpSessionStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, token)
}

func (s *otpSessionStore) deleteLocked(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	session, err := s.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	keys := []string{sessionKey(token)}
	// only clear the index when it still points at this token
	if current, err := s.client.Get(ctx, activeKey(session.Email, session.AccountID)); err == nil && current == token {
		keys = append(keys, activeKey(session.Email, session.AccountID))
	}

	if err := s.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete temporary session",
			zap.String("token", token),
			zap.Error(err))
		return fmt.Errorf("failed to delete temporary session: %w", err)
	}

	util.Debug("Temporary session deleted", zap.String("token", token))
	return nil
}

// FindActiveFor returns the outstanding unverified challenge for the
// identity, or nil when none exists. An expired record found here is removed
// as a side effect so stale rows self-heal on the next login attempt.
func (s *otpSessionStore) FindActiveFor(ctx context.Context, email string, accountID uint) (*models.TempOTPSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token, err := s.client.Get(ctx, activeKey(email, accountID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read active index: %w", err)
	}

	session, err := s.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// dangling index entry
			_ = s.client.Del(ctx, activeKey(email, accountID))
			return nil, nil
		}
		return nil, err
	}

	if session.Verified {
		_ = s.client.Del(ctx, activeKey(email, accountID))
		return nil, nil
	}

	if session.Expired(time.Now()) {
		if err := s.deleteLocked(ctx, token); err != nil {
			return nil, err
		}
		util.Debug("Expired temporary session removed on lookup",
			zap.String("token", token),
			zap.String("email", email))
		return nil, nil
	}

	return session, nil
}

// SweepExpired bulk-deletes every challenge past its logical expiry. It runs
// opportunistically at the start of login attempts; there is no background
// scheduler.
func (s *otpSessionStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	keys, err := s.client.ScanKeys(ctx, otpSessionPrefix+"*", 200)
	if err != nil {
		return 0, fmt.Errorf("failed to scan temporary sessions: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key)
		if err != nil {
			continue
		}
		var session models.TempOTPSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			// unreadable record, drop it
			_ = s.client.Del(ctx, key)
			removed++
			continue
		}
		if session.Expired(now) {
			if err := s.deleteLocked(ctx, session.Token); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		util.Info("Expired temporary sessions swept", zap.Int("removed", removed))
	}
	return removed, nil
}
