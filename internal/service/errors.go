package service

import "errors"

// The auth error taxonomy. Handlers branch on these with errors.Is; raw
// storage and dispatch errors never cross the service boundary.
var (
	// ErrAuthenticationFailed deliberately does not distinguish an unknown
	// email from a wrong password.
	ErrAuthenticationFailed = errors.New("incorrect email or password")

	// ErrTokenInvalidOrExpired covers temporary and durable tokens that are
	// missing, inactive, or past expiry.
	ErrTokenInvalidOrExpired = errors.New("invalid or expired token")

	// ErrOtpMismatch means the code was present but wrong; the challenge
	// stays retryable until it expires.
	ErrOtpMismatch = errors.New("invalid OTP")

	// ErrOtpExpired is distinct from a mismatch: the challenge is gone and
	// the login flow must be restarted.
	ErrOtpExpired = errors.New("OTP has expired")

	// ErrDispatchFailed is a mail or OAuth provider-side failure, surfaced
	// after compensating cleanup of partially-created state.
	ErrDispatchFailed = errors.New("failed to dispatch")

	// ErrValidationFailed rejects malformed requests before touching storage.
	ErrValidationFailed = errors.New("validation failed")

	ErrAccountExists   = errors.New("email already registered")
	ErrAccountInactive = errors.New("account is inactive")
)
