package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Exchanger completes the callback leg: it validates the returned state
// against the stored one, trades the authorization code for tokens at the
// portal backend, and persists the resulting token set.
type Exchanger struct {
	backend  BackendConfig
	sso      SSOConfig
	sessions *Sessions
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewExchanger builds the callback processor. The HTTP client carries the
// configured backend timeout.
func NewExchanger(backend BackendConfig, sso SSOConfig, sessions *Sessions, client *http.Client, logger *slog.Logger) *Exchanger {
	return &Exchanger{
		backend:  backend,
		sso:      sso,
		sessions: sessions,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

type exchangeRequest struct {
	Code         string `json:"code"`
	RedirectURI  string `json:"redirectUri"`
	CodeVerifier string `json:"codeVerifier"`
}

// Complete exchanges the authorization code for tokens. The PKCE verifier and
// the anti-forgery state are consumed exactly once: whatever the outcome,
// both are gone from the session before this returns, so a replayed callback
// always fails with ErrMissingVerifier.
func (e *Exchanger) Complete(ctx context.Context, sid, code, state string) (TokenResponse, error) {
	verifier, haveVerifier, err := e.sessions.Get(ctx, sid, keyVerifier)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read verifier: %w", err)
	}
	storedState, _, err := e.sessions.Get(ctx, sid, keyState)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read state: %w", err)
	}

	defer func() {
		_ = e.sessions.Remove(ctx, sid, keyVerifier)
		_ = e.sessions.Remove(ctx, sid, keyState)
	}()

	if !haveVerifier {
		return TokenResponse{}, ErrMissingVerifier
	}
	if state == "" || state != storedState {
		return TokenResponse{}, ErrCsrfMismatch
	}

	tok, err := e.postExchange(ctx, exchangeRequest{
		Code:         code,
		RedirectURI:  e.sso.RedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		return TokenResponse{}, err
	}

	received := e.now()
	set := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    received.Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if err := e.sessions.PutTokens(ctx, sid, set); err != nil {
		return TokenResponse{}, fmt.Errorf("persist tokens: %w", err)
	}

	e.logTokenClaims(tok.AccessToken)
	return tok, nil
}

func (e *Exchanger) postExchange(ctx context.Context, body exchangeRequest) (TokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.backend.ExchangeURL(), bytes.NewReader(payload))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("call exchange endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read exchange response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, fmt.Errorf("%w: %s", ErrTokenExchange, backendMessage(raw))
	}

	var tok TokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return TokenResponse{}, fmt.Errorf("%w: invalid response body", ErrTokenExchange)
	}
	if tok.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("%w: response missing access_token", ErrTokenExchange)
	}
	return tok, nil
}

// logTokenClaims decodes the access token without verifying it, purely for
// structured logging. Signature validation is the backend's job; the gateway
// never grants anything based on these claims.
func (e *Exchanger) logTokenClaims(accessToken string) {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return
	}
	attrs := []any{"sub", claims.Subject}
	if claims.ExpiresAt != nil {
		attrs = append(attrs, "token_exp", claims.ExpiresAt.Time)
	}
	e.logger.Info("tokens issued", attrs...)
}

// backendMessage lifts the backend's own message or error field out of a
// failure body, falling back to a generic description.
func backendMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return "token exchange failed"
}
