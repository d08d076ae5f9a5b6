package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// Redirector starts a login attempt: it generates fresh PKCE and state
// artifacts, persists them for the session, and sends the browser to the SSO
// authorization endpoint. No network call happens here; the browser performs
// the navigation.
type Redirector struct {
	oauth    oauth2.Config
	sessions *Sessions
	random   RandomSource
	logger   *slog.Logger
}

// NewRedirector builds the redirector from the SSO client registration.
func NewRedirector(cfg SSOConfig, sessions *Sessions, random RandomSource, logger *slog.Logger) *Redirector {
	return &Redirector{
		oauth: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		sessions: sessions,
		random:   random,
		logger:   logger,
	}
}

// Start persists a fresh verifier and state for the session, overwriting
// leftovers from an abandoned attempt, then redirects to the SSO. The
// authorization URL carries response_type=code, client_id, redirect_uri,
// scope, state, code_challenge and code_challenge_method=S256.
func (rd *Redirector) Start(w http.ResponseWriter, r *http.Request, sid string) error {
	pair, err := NewPKCEPair(rd.random)
	if err != nil {
		return fmt.Errorf("start login: %w", err)
	}
	state, err := NewState(rd.random)
	if err != nil {
		return fmt.Errorf("start login: %w", err)
	}

	ctx := r.Context()
	if err := rd.sessions.Put(ctx, sid, keyVerifier, pair.Verifier); err != nil {
		return fmt.Errorf("persist verifier: %w", err)
	}
	if err := rd.sessions.Put(ctx, sid, keyState, state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	authURL := rd.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	rd.logger.Info("login started", "client_id", rd.oauth.ClientID)
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}
