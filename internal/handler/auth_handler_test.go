package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-auth/internal/config"
	"portal-auth/internal/events"
	"portal-auth/internal/hashing"
	"portal-auth/internal/models"
	"portal-auth/internal/repository/mysqlrepo"
	"portal-auth/internal/repository/redisrepo"
	"portal-auth/internal/service"
)

// Minimal in-memory stand-ins for the storage interfaces. The service tests
// cover the orchestration edge cases; here we only need enough state to
// drive the HTTP surface.

type memAccounts struct {
	byID map[uint]*models.Account
	next uint
}

func (m *memAccounts) Create(_ context.Context, a *models.Account) error {
	for _, existing := range m.byID {
		if existing.Email == a.Email {
			return mysqlrepo.ErrDuplicateEmail
		}
	}
	a.ID = m.next
	m.next++
	copied := *a
	m.byID[a.ID] = &copied
	return nil
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	for _, a := range m.byID {
		if a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, mysqlrepo.ErrAccountNotFound
}

func (m *memAccounts) GetByID(_ context.Context, id uint) (*models.Account, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, mysqlrepo.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memAccounts) SetGoogleLinked(_ context.Context, id uint) error {
	a, ok := m.byID[id]
	if !ok {
		return mysqlrepo.ErrAccountNotFound
	}
	a.GoogleLinked = true
	return nil
}

type memSessions struct {
	byToken map[string]*models.DurableSession
}

func (m *memSessions) FindActive(_ context.Context, accountID uint) (*models.DurableSession, bool, error) {
	for _, s := range m.byToken {
		if s.AccountID == accountID && s.IsActive && !s.Expired(time.Now()) {
			copied := *s
			return &copied, false, nil
		}
	}
	return nil, false, nil
}

func (m *memSessions) Create(_ context.Context, accountID uint, email string) (*models.DurableSession, error) {
	now := time.Now().UTC()
	s := &models.DurableSession{
		Token:     uuid.NewString(),
		AccountID: accountID,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	m.byToken[s.Token] = s
	copied := *s
	return &copied, nil
}

func (m *memSessions) Invalidate(_ context.Context, token string) error {
	s, ok := m.byToken[token]
	if !ok || !s.IsActive {
		return mysqlrepo.ErrSessionNotFound
	}
	s.IsActive = false
	return nil
}

func (m *memSessions) Validate(_ context.Context, token string) (*models.DurableSession, error) {
	s, ok := m.byToken[token]
	if !ok || !s.IsActive || s.Expired(time.Now()) {
		return nil, mysqlrepo.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

type memOTPStore struct {
	byToken map[string]*models.TempOTPSession
	active  map[string]string
}

func otpIdentity(email string, accountID uint) string {
	return fmt.Sprintf("%s:%d", email, accountID)
}

func (m *memOTPStore) Create(_ context.Context, email string, accountID uint) (*models.TempOTPSession, error) {
	otp, err := redisrepo.GenerateOTP()
	if err != nil {
		return nil, err
	}
	s := &models.TempOTPSession{
		Token:         uuid.NewString(),
		Email:         email,
		AccountID:     accountID,
		OTP:           otp,
		IssuedAt:      time.Now().UTC(),
		ExpirySeconds: 300,
	}
	m.byToken[s.Token] = s
	m.active[otpIdentity(email, accountID)] = s.Token
	copied := *s
	return &copied, nil
}

func (m *memOTPStore) Get(_ context.Context, token string) (*models.TempOTPSession, error) {
	s, ok := m.byToken[token]
	if !ok {
		return nil, redisrepo.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *memOTPStore) Update(_ context.Context, s *models.TempOTPSession) error {
	copied := *s
	m.byToken[s.Token] = &copied
	if s.Verified {
		delete(m.active, otpIdentity(s.Email, s.AccountID))
	}
	return nil
}

func (m *memOTPStore) Delete(_ context.Context, token string) error {
	if s, ok := m.byToken[token]; ok {
		delete(m.byToken, token)
		if m.active[otpIdentity(s.Email, s.AccountID)] == token {
			delete(m.active, otpIdentity(s.Email, s.AccountID))
		}
	}
	return nil
}

func (m *memOTPStore) FindActiveFor(_ context.Context, email string, accountID uint) (*models.TempOTPSession, error) {
	token, ok := m.active[otpIdentity(email, accountID)]
	if !ok {
		return nil, nil
	}
	s, ok := m.byToken[token]
	if !ok || s.Verified || s.Expired(time.Now()) {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memOTPStore) SweepExpired(context.Context) (int, error) { return 0, nil }

type memMailer struct {
	lastOTP string
}

func (m *memMailer) Send(_ context.Context, req *models.MailRequest) error {
	if req.Options.OTP {
		m.lastOTP = req.Context.OTPCode
	}
	return nil
}

type testEnv struct {
	router http.Handler
	mailer *memMailer
	store  *memOTPStore
}

type healthOK struct{}

func (healthOK) HealthCheck(context.Context) map[string]string {
	return map[string]string{"mysql": "ok", "redis": "ok"}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	accounts := &memAccounts{byID: make(map[uint]*models.Account), next: 1}
	sessions := &memSessions{byToken: make(map[string]*models.DurableSession)}
	store := &memOTPStore{byToken: make(map[string]*models.TempOTPSession), active: make(map[string]string)}
	mailer := &memMailer{}
	hasher := hashing.NewPasswordHasher()

	digest, err := hasher.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	accounts.byID[1] = &models.Account{
		ID:             1,
		Username:       "Alice",
		Email:          "alice@example.com",
		HashedPassword: digest,
		IsActive:       true,
	}
	accounts.next = 2

	authSvc := service.NewAuthService(
		accounts, sessions, store, hasher, mailer,
		events.NopPublisher{}, 300*time.Second, zap.NewNop(),
	)
	oauthSvc := service.NewOAuthService(accounts, sessions, events.NopPublisher{}, config.GoogleOAuthConfig{
		ClientID: "cid", ClientSecret: "secret", RedirectURL: "http://localhost/callback",
	}, zap.NewNop())

	cfg := config.LoadConfig()
	authHandler := NewAuthHandler(authSvc, oauthSvc, zap.NewNop())
	return &testEnv{
		router: NewRouter(cfg, authHandler, healthOK{}, zap.NewNop()),
		mailer: mailer,
		store:  store,
	}
}

func (env *testEnv) postJSON(t *testing.T, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestLoginEndpointIssuesChallenge(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["next_step"] != "verify_otp" {
		t.Fatalf("expected verify_otp, got %v", body["next_step"])
	}
	if body["temp_token"] == nil || body["temp_token"] == "" {
		t.Fatal("expected a temp token")
	}
	if body["is_signed_in"] != false {
		t.Fatal("a challenged login is not signed in")
	}
}

func TestLoginEndpointBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "authentication_failed" {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestLoginEndpointMalformedPayload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email": "not-an-email",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "validation_failed" {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestVerifyOTPEndpointFlow(t *testing.T) {
	env := newTestEnv(t)

	login := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	tempToken, _ := decodeBody(t, login)["temp_token"].(string)
	if tempToken == "" {
		t.Fatal("login did not return a temp token")
	}

	wrong := "000000"
	if wrong == env.mailer.lastOTP {
		wrong = "000001"
	}
	mismatch := env.postJSON(t, "/api/v1/auth/verify-otp", map[string]string{
		"token": tempToken,
		"otp":   wrong,
	})
	if mismatch.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", mismatch.Code)
	}
	if decodeBody(t, mismatch)["detail"] != "Invalid OTP" {
		t.Fatalf("unexpected mismatch body: %s", mismatch.Body.String())
	}

	ok := env.postJSON(t, "/api/v1/auth/verify-otp", map[string]string{
		"token": tempToken,
		"otp":   env.mailer.lastOTP,
	})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ok.Code, ok.Body.String())
	}

	body := decodeBody(t, ok)
	sessionToken, _ := body["session_token"].(string)
	if sessionToken == "" {
		t.Fatal("expected a durable session token")
	}

	// the session cookie accompanies the JSON payload
	cookieSet := false
	for _, c := range ok.Result().Cookies() {
		if c.Name == sessionCookieName && c.Value == sessionToken {
			cookieSet = true
		}
	}
	if !cookieSet {
		t.Fatal("expected the session cookie to be set")
	}
}

func TestVerifyOTPEndpointExpired(t *testing.T) {
	env := newTestEnv(t)

	login := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	tempToken, _ := decodeBody(t, login)["temp_token"].(string)

	env.store.byToken[tempToken].IssuedAt = time.Now().UTC().Add(-time.Hour)

	rec := env.postJSON(t, "/api/v1/auth/verify-otp", map[string]string{
		"token": tempToken,
		"otp":   env.mailer.lastOTP,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired code, got %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != "otp_expired" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestLogoutEndpointRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if decodeBody(t, rec)["detail"] != "No session token" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestSessionValidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	login := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	tempToken, _ := decodeBody(t, login)["temp_token"].(string)
	verify := env.postJSON(t, "/api/v1/auth/verify-otp", map[string]string{
		"token": tempToken,
		"otp":   env.mailer.lastOTP,
	})
	sessionToken, _ := decodeBody(t, verify)["session_token"].(string)

	// bearer header
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session/validate", nil)
	req.Header.Set("Authorization", "Bearer "+sessionToken)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 via header, got %d: %s", rec.Code, rec.Body.String())
	}

	// cookie fallback
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/session/validate", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionToken})
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 via cookie, got %d: %s", rec.Code, rec.Body.String())
	}

	// a bogus bearer token wins over a valid cookie
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/session/validate", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sessionToken})
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("header must take precedence over cookie, got %d", rec.Code)
	}
}

func TestLogoutEndpointFlow(t *testing.T) {
	env := newTestEnv(t)

	login := env.postJSON(t, "/api/v1/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "correct-horse",
	})
	tempToken, _ := decodeBody(t, login)["temp_token"].(string)
	verify := env.postJSON(t, "/api/v1/auth/verify-otp", map[string]string{
		"token": tempToken,
		"otp":   env.mailer.lastOTP,
	})
	sessionToken, _ := decodeBody(t, verify)["session_token"].(string)

	logout := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer "+sessionToken)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	if rec := logout(); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := logout(); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on repeated logout, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/nope", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
