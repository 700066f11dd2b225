package models

import "time"

// DurableSession is a long-lived authenticated session row. For any account
// at most one row is active with expires_at in the future; expired rows are
// deleted on discovery rather than flagged.
type DurableSession struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Token     string    `gorm:"size:64;uniqueIndex;not null" json:"session_token"`
	AccountID uint      `gorm:"index;not null" json:"account_id"`
	Email     string    `gorm:"size:255;not null" json:"email"`
	IsActive  bool      `gorm:"default:true" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (DurableSession) TableName() string { return "session_tokens" }

// Expired reports whether the session is past its expiry. All comparisons
// are done in UTC.
func (s *DurableSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now.UTC())
}

// TempOTPSession is the ephemeral credential-challenge record held in the
// OTP store. It is keyed by an opaque token and never outlives OTPRetention.
type TempOTPSession struct {
	Token         string    `json:"token"`
	Email         string    `json:"email"`
	AccountID     uint      `json:"account_id"`
	OTP           string    `json:"otp"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpirySeconds int       `json:"expiry_seconds"`
	Verified      bool      `json:"verified"`
	SessionToken  string    `json:"session_token,omitempty"`
}

// ExpiresAt is the logical expiry of the challenge, derived from issue time.
func (t *TempOTPSession) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpirySeconds) * time.Second)
}

// Expired reports whether the challenge can no longer be verified.
func (t *TempOTPSession) Expired(now time.Time) bool {
	return now.UTC().After(t.ExpiresAt())
}

// RemainingTTL returns how long the challenge stays verifiable, floored at 0.
func (t *TempOTPSession) RemainingTTL(now time.Time) time.Duration {
	remaining := t.ExpiresAt().Sub(now.UTC())
	if remaining < 0 {
		return 0
	}
	return remaining
}
