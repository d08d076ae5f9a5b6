package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Refresher trades a stored refresh token for a new access token. Refresh
// failure is never absorbed: it clears the session and re-raises, because a
// rejected refresh token cannot self-heal.
type Refresher struct {
	backend  BackendConfig
	sessions *Sessions
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
	locks    sync.Map // sid -> *sync.Mutex
}

// NewRefresher builds the token refresher.
func NewRefresher(backend BackendConfig, sessions *Sessions, client *http.Client, logger *slog.Logger) *Refresher {
	return &Refresher{
		backend:  backend,
		sessions: sessions,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh performs one refresh round-trip and overwrites the session's token
// set wholesale. stale is the access token the caller found expired or
// rejected (empty when none was present). Concurrent calls for the same
// session are serialized by a per-session mutex, so two requests observing
// the same dead access token result in one refresh and one fresh read
// instead of two racing refreshes.
func (rf *Refresher) Refresh(ctx context.Context, sid, stale string) (TokenSet, error) {
	mu, _ := rf.locks.LoadOrStore(sid, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Another request may have refreshed while we waited on the lock.
	if ts, ok, err := rf.sessions.Tokens(ctx, sid); err == nil && ok && ts.AccessToken != stale {
		return ts, nil
	}

	refreshToken, ok, err := rf.sessions.RefreshToken(ctx, sid)
	if err != nil {
		return TokenSet{}, fmt.Errorf("read refresh token: %w", err)
	}
	if !ok {
		rf.forceLogout(ctx, sid)
		return TokenSet{}, ErrNoRefreshToken
	}

	tok, err := rf.postRefresh(ctx, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		rf.forceLogout(ctx, sid)
		return TokenSet{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	set := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    rf.now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	// Rotation is optional server-side: keep the old refresh token when the
	// response omits one.
	if set.RefreshToken == "" {
		set.RefreshToken = refreshToken
	}

	if err := rf.sessions.PutTokens(ctx, sid, set); err != nil {
		return TokenSet{}, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	rf.logger.Info("access token refreshed", "rotated", tok.RefreshToken != "")
	return set, nil
}

func (rf *Refresher) postRefresh(ctx context.Context, body refreshRequest) (TokenResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rf.backend.RefreshURL(), bytes.NewReader(payload))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rf.client.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("call refresh endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return TokenResponse{}, fmt.Errorf("backend rejected refresh: %s", backendMessage(raw))
	}

	var tok TokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return TokenResponse{}, fmt.Errorf("invalid refresh response body")
	}
	if tok.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("refresh response missing access_token")
	}
	return tok, nil
}

func (rf *Refresher) forceLogout(ctx context.Context, sid string) {
	if err := rf.sessions.Clear(ctx, sid); err != nil {
		rf.logger.Warn("clear session after refresh failure", "error", err)
	}
	rf.locks.Delete(sid)
	rf.logger.Info("session cleared after unrecoverable refresh")
}
