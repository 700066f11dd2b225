package handler

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"portal-auth/internal/models"
	"portal-auth/internal/service"
	"portal-auth/internal/util"
)

const sessionCookieName = "session_token"

// AuthHandler exposes the auth flow over HTTP.
type AuthHandler struct {
	auth     *service.AuthService
	oauth    *service.OAuthService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, oauth *service.OAuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		oauth:    oauth,
		validate: validator.New(),
		logger:   logger,
	}
}

// Request shapes

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type verifyOTPRequest struct {
	Token string `json:"token" validate:"required"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}

type resendOTPRequest struct {
	Token string `json:"token" validate:"required"`
}

type registerRequest struct {
	Username   string `json:"username" validate:"required,min=2,max=50"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8"`
	AccessType string `json:"accesstype" validate:"required"`
}

// Response shapes

type userSnapshot struct {
	AccountID uint   `json:"account_id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
}

type loginResponse struct {
	Message      string        `json:"message"`
	SessionToken string        `json:"session_token,omitempty"`
	TempToken    string        `json:"temp_token,omitempty"`
	ExpiresIn    int           `json:"expires_in,omitempty"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	NextStep     string        `json:"next_step,omitempty"`
	IsSignedIn   bool          `json:"is_signed_in"`
	User         *userSnapshot `json:"user,omitempty"`
}

type verifyOTPResponse struct {
	SessionToken string       `json:"session_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         userSnapshot `json:"user"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	resp := loginResponse{
		Message:      result.Message,
		SessionToken: result.SessionToken,
		TempToken:    result.TempToken,
		ExpiresIn:    result.ExpiresIn,
		ExpiresAt:    result.ExpiresAt,
		NextStep:     result.NextStep,
		IsSignedIn:   result.IsSignedIn,
	}
	if result.Account != nil {
		resp.User = snapshot(result.Account)
	}
	if result.SessionToken != "" && result.ExpiresAt != nil {
		h.setSessionCookie(w, result.SessionToken, *result.ExpiresAt)
	}

	h.respondWithJSON(w, http.StatusOK, resp)
	h.logger.Info("Login handled",
		util.Bool("signed_in", result.IsSignedIn),
		util.String("next_step", result.NextStep),
		util.Duration("duration", time.Since(start)),
	)
}

// VerifyOTP handles POST /auth/verify-otp.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.auth.VerifyOTP(r.Context(), req.Token, req.OTP)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.setSessionCookie(w, result.SessionToken, result.ExpiresAt)
	h.respondWithJSON(w, http.StatusOK, verifyOTPResponse{
		SessionToken: result.SessionToken,
		ExpiresAt:    result.ExpiresAt,
		User:         *snapshot(result.Account),
	})
}

// ResendOTP handles POST /auth/resend-otp.
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendOTPRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.auth.ResendOTP(r.Context(), req.Token)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":    result.Message,
		"expires_in": result.ExpiresIn,
	})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := extractSessionToken(r)
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, errorResponse{
			Error:  "token_invalid_or_expired",
			Detail: "No session token",
		})
		return
	}

	if err := h.auth.Logout(r.Context(), token); err != nil {
		h.respondWithError(w, err)
		return
	}

	h.clearSessionCookie(w)
	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

// ValidateSession handles GET /auth/session/validate.
func (h *AuthHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	token, ok := extractSessionToken(r)
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, errorResponse{
			Error:  "token_invalid_or_expired",
			Detail: "No session token",
		})
		return
	}

	session, account, err := h.auth.ValidateSession(r.Context(), token)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Session is valid",
		"expires_at": session.ExpiresAt,
		"user":       snapshot(account),
	})
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.auth.Register(r.Context(), &service.RegisterRequest{
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		AccessType: req.AccessType,
	})
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Account created",
		"user":    snapshot(account),
	})
}

// GoogleLogin handles GET /auth/google/login.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := newOAuthState()
	if err != nil {
		h.respondWithError(w, service.ErrDispatchFailed)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"auth_url": h.oauth.AuthCodeURL(state),
	})
}

// GoogleCallback handles GET /auth/google/callback.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie("oauth_state")
	if err != nil || state == "" || cookie.Value != state {
		h.respondWithJSON(w, http.StatusUnauthorized, errorResponse{
			Error:  "validation_failed",
			Detail: "OAuth state mismatch",
		})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.respondWithJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "validation_failed",
			Detail: "Missing authorization code",
		})
		return
	}

	outcome, err := h.oauth.HandleCallback(r.Context(), code)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	resp := map[string]interface{}{"status": outcome.Status}
	if outcome.SessionToken != "" {
		resp["session_token"] = outcome.SessionToken
	}
	if outcome.ExpiresAt != nil {
		resp["expires_at"] = outcome.ExpiresAt
	}
	if outcome.Account != nil {
		resp["user"] = snapshot(outcome.Account)
	}
	// only a successful reconcile sets the cookie; a link-required session
	// is metadata, not a sign-in
	if (outcome.Status == service.OutcomeSessionReused || outcome.Status == service.OutcomeSessionCreated) &&
		outcome.SessionToken != "" && outcome.ExpiresAt != nil {
		h.setSessionCookie(w, outcome.SessionToken, *outcome.ExpiresAt)
	}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// GoogleLink handles POST /auth/google/link for an authenticated account.
func (h *AuthHandler) GoogleLink(w http.ResponseWriter, r *http.Request) {
	token, ok := extractSessionToken(r)
	if !ok {
		h.respondWithJSON(w, http.StatusUnauthorized, errorResponse{
			Error:  "token_invalid_or_expired",
			Detail: "No session token",
		})
		return
	}

	_, account, err := h.auth.ValidateSession(r.Context(), token)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	alreadyLinked, err := h.oauth.Link(r.Context(), account.ID)
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	message := "Google account linked"
	if alreadyLinked {
		message = "Google account was already linked"
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":        message,
		"already_linked": alreadyLinked,
	})
}

// Helpers

func snapshot(account *models.Account) *userSnapshot {
	return &userSnapshot{
		AccountID: account.ID,
		Email:     account.Email,
		Name:      account.Username,
	}
}

func newOAuthState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// extractSessionToken prefers the Authorization header over the cookie.
func extractSessionToken(r *http.Request) (string, bool) {
	const bearerPrefix = "Bearer "
	if auth := r.Header.Get("Authorization"); len(auth) > len(bearerPrefix) && auth[:len(bearerPrefix)] == bearerPrefix {
		return auth[len(bearerPrefix):], true
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

func (h *AuthHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.respondWithJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "validation_failed",
			Detail: "Invalid request body",
		})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "validation_failed",
			Detail: err.Error(),
		})
		return false
	}
	return true
}

func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError translates the service taxonomy into stable HTTP error
// payloads; no raw storage errors reach the client.
func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error) {
	var (
		statusCode int
		kind       string
		detail     string
	)

	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		statusCode, kind, detail = http.StatusUnauthorized, "authentication_failed", "Incorrect email or password"
	case errors.Is(err, service.ErrOtpMismatch):
		statusCode, kind, detail = http.StatusBadRequest, "otp_mismatch", "Invalid OTP"
	case errors.Is(err, service.ErrOtpExpired):
		statusCode, kind, detail = http.StatusUnauthorized, "otp_expired", "OTP has expired, please log in again"
	case errors.Is(err, service.ErrTokenInvalidOrExpired):
		statusCode, kind, detail = http.StatusUnauthorized, "token_invalid_or_expired", "Invalid or expired session token"
	case errors.Is(err, service.ErrValidationFailed):
		statusCode, kind, detail = http.StatusUnprocessableEntity, "validation_failed", "Invalid request"
	case errors.Is(err, service.ErrAccountExists):
		statusCode, kind, detail = http.StatusConflict, "account_exists", "Email already registered"
	case errors.Is(err, service.ErrAccountInactive):
		statusCode, kind, detail = http.StatusForbidden, "account_inactive", "Inactive user"
	case errors.Is(err, service.ErrDispatchFailed):
		statusCode, kind, detail = http.StatusInternalServerError, "dispatch_failed", "Something went wrong, please try again"
	default:
		statusCode, kind, detail = http.StatusInternalServerError, "internal_error", "Something went wrong, please try again"
	}

	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("kind", kind),
	)
	h.respondWithJSON(w, statusCode, errorResponse{Error: kind, Detail: detail})
}
