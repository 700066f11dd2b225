package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"portal-auth/internal/config"
	"portal-auth/internal/events"
	"portal-auth/internal/models"
	"portal-auth/internal/repository/mysqlrepo"
	"portal-auth/internal/util"
)

const googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Reconcile outcomes. These are distinct results the caller renders
// differently, not errors.
const (
	OutcomeRegisterRequired = "register_required"
	OutcomeLinkRequired     = "link_required"
	OutcomeSessionReused    = "session_reused"
	OutcomeSessionCreated   = "session_created"
)

// ReconcileOutcome maps an external identity assertion onto local state.
// When linking is required an existing valid session rides along as
// metadata only, so the UI can offer "link now" without re-login.
type ReconcileOutcome struct {
	Status       string
	SessionToken string
	ExpiresAt    *time.Time
	Account      *models.Account
}

// OAuthService handles the Google authorization-code exchange and the
// reconciliation of the asserted email with local accounts and sessions.
type OAuthService struct {
	accounts   mysqlrepo.AccountRepository
	sessions   mysqlrepo.SessionRepository
	publisher  events.Publisher
	oauthCfg   *oauth2.Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOAuthService(
	accounts mysqlrepo.AccountRepository,
	sessions mysqlrepo.SessionRepository,
	publisher events.Publisher,
	cfg config.GoogleOAuthConfig,
	logger *zap.Logger,
) *OAuthService {
	return &OAuthService{
		accounts:  accounts,
		sessions:  sessions,
		publisher: publisher,
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// AuthCodeURL returns the Google consent URL for the given CSRF state.
func (s *OAuthService) AuthCodeURL(state string) string {
	return s.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserinfo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// HandleCallback exchanges the authorization code, fetches the userinfo
// claim set, and reconciles the asserted email. A missing email claim is a
// hard failure.
func (s *OAuthService) HandleCallback(ctx context.Context, code string) (*ReconcileOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	token, err := s.oauthCfg.Exchange(ctx, code)
	if err != nil {
		s.logger.Error("Google code exchange failed", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	info, err := s.fetchUserinfo(ctx, token)
	if err != nil {
		s.logger.Error("Google userinfo fetch failed", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}
	if info.Email == "" {
		s.logger.Error("Google userinfo missing email claim")
		return nil, ErrDispatchFailed
	}

	return s.Reconcile(ctx, info.Email)
}

func (s *OAuthService) fetchUserinfo(ctx context.Context, token *oauth2.Token) (*googleUserinfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}

	var info googleUserinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return &info, nil
}

// Reconcile maps an externally asserted email to a local account and either
// reuses or creates a durable session, gated on the linked flag.
func (s *OAuthService) Reconcile(ctx context.Context, email string) (*ReconcileOutcome, error) {
	email = util.NormalizeEmail(email)

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mysqlrepo.ErrAccountNotFound) {
			return &ReconcileOutcome{Status: OutcomeRegisterRequired}, nil
		}
		s.logger.Error("Account lookup failed during reconcile", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	session, _, err := s.sessions.FindActive(ctx, account.ID)
	if err != nil {
		s.logger.Error("Session lookup failed during reconcile", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}

	if !account.GoogleLinked {
		outcome := &ReconcileOutcome{Status: OutcomeLinkRequired, Account: account}
		if session != nil {
			// metadata only: the caller must not treat this as a sign-in
			outcome.SessionToken = session.Token
			expiresAt := session.ExpiresAt
			outcome.ExpiresAt = &expiresAt
		}
		return outcome, nil
	}

	if session != nil {
		expiresAt := session.ExpiresAt
		s.publisher.Publish(ctx, events.AuthEvent{
			Type: events.TypeSessionReused, Email: email, AccountID: account.ID,
		})
		return &ReconcileOutcome{
			Status:       OutcomeSessionReused,
			SessionToken: session.Token,
			ExpiresAt:    &expiresAt,
			Account:      account,
		}, nil
	}

	created, err := s.sessions.Create(ctx, account.ID, email)
	if err != nil {
		s.logger.Error("Session creation failed during reconcile", util.ErrorField(err))
		return nil, ErrDispatchFailed
	}
	expiresAt := created.ExpiresAt
	s.publisher.Publish(ctx, events.AuthEvent{
		Type: events.TypeSessionCreated, Email: email, AccountID: account.ID,
	})
	return &ReconcileOutcome{
		Status:       OutcomeSessionCreated,
		SessionToken: created.Token,
		ExpiresAt:    &expiresAt,
		Account:      account,
	}, nil
}

// Link idempotently marks the account as Google-linked. Re-linking an
// already-linked account reports alreadyLinked instead of failing.
func (s *OAuthService) Link(ctx context.Context, accountID uint) (alreadyLinked bool, err error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, mysqlrepo.ErrAccountNotFound) {
			return false, ErrTokenInvalidOrExpired
		}
		return false, ErrDispatchFailed
	}
	if account.GoogleLinked {
		return true, nil
	}
	if err := s.accounts.SetGoogleLinked(ctx, accountID); err != nil {
		s.logger.Error("Failed to set google_linked", util.Uint("account_id", accountID), util.ErrorField(err))
		return false, ErrDispatchFailed
	}
	s.publisher.Publish(ctx, events.AuthEvent{
		Type: events.TypeGoogleLinked, Email: account.Email, AccountID: accountID,
	})
	return false, nil
}
