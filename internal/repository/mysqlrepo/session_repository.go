package mysqlrepo

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"portal-auth/internal/models"
	"portal-auth/internal/util"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository manages durable authenticated sessions. The invariant it
// enforces: for any account at most one row is active with expires_at in the
// future, and callers must consult FindActive before Create.
type SessionRepository interface {
	FindActive(ctx context.Context, accountID uint) (*models.DurableSession, bool, error)
	Create(ctx context.Context, accountID uint, email string) (*models.DurableSession, error)
	Invalidate(ctx context.Context, token string) error
	Validate(ctx context.Context, token string) (*models.DurableSession, error)
}

type sessionRepository struct {
	db       *gorm.DB
	lifetime time.Duration

	// serializes session mutations per process; volumes are low enough that
	// a coarse lock beats row-level locking complexity
	mu sync.Mutex
}

func NewSessionRepository(db *gorm.DB, lifetime time.Duration) SessionRepository {
	return &sessionRepository{db: db, lifetime: lifetime}
}

// newSessionToken mints an opaque 256-bit token.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FindActive returns the account's current session if one is active and
// unexpired. An expired row is deleted, not just flagged, and the second
// return reports that an expired session was cleaned up.
func (r *sessionRepository) FindActive(ctx context.Context, accountID uint) (*models.DurableSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var session models.DurableSession
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to look up active session: %w", err)
	}

	if session.Expired(time.Now()) {
		if err := r.db.WithContext(ctx).Delete(&session).Error; err != nil {
			return nil, false, fmt.Errorf("failed to delete expired session: %w", err)
		}
		util.Debug("Expired session deleted",
			zap.Uint("account_id", accountID),
			zap.Time("expired_at", session.ExpiresAt))
		return nil, true, nil
	}

	return &session, false, nil
}

func (r *sessionRepository) Create(ctx context.Context, accountID uint, email string) (*models.DurableSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &models.DurableSession{
		Token:     token,
		AccountID: accountID,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(r.lifetime),
	}

	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	util.Info("Durable session created",
		zap.Uint("account_id", accountID),
		zap.Time("expires_at", session.ExpiresAt))
	return session, nil
}

// Invalidate deactivates the matching active session. A token that matches
// no active row surfaces as not-found so logout stays idempotent-failing.
func (r *sessionRepository) Invalidate(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := r.db.WithContext(ctx).
		Model(&models.DurableSession{}).
		Where("token = ? AND is_active = ?", token, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to invalidate session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Validate is the per-request guard: only an active, unexpired row matching
// the token authenticates. Anything else is not-found, never a default
// identity.
func (r *sessionRepository) Validate(ctx context.Context, token string) (*models.DurableSession, error) {
	var session models.DurableSession
	err := r.db.WithContext(ctx).
		Where("token = ? AND is_active = ?", token, true).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}
