package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Storage keys used inside one session scope. Their lifecycle is part of the
// contract: verifier and state are written once per attempt and deleted on
// consumption, the token set is overwritten wholesale on refresh and removed
// on logout.
const (
	keyVerifier = "pkce_verifier"
	keyState    = "auth_state"
	keyTokens   = "token_set"
)

// SessionStore is the raw per-session key/value backend. Implementations are
// the in-memory ttlcache store and the Redis store; nothing outside this
// package touches the backend directly.
type SessionStore interface {
	Put(ctx context.Context, sid, key, value string) error
	Get(ctx context.Context, sid, key string) (string, bool, error)
	Remove(ctx context.Context, sid, key string) error
	Clear(ctx context.Context, sid string) error
}

// Sessions layers the token-set lifecycle over a SessionStore. All token
// reads go through Tokens so the expiry check lives in exactly one place.
type Sessions struct {
	store SessionStore
	now   func() time.Time
}

// NewSessions wraps a backend store.
func NewSessions(store SessionStore) *Sessions {
	return &Sessions{store: store, now: time.Now}
}

// NewID produces an opaque session identifier.
func (s *Sessions) NewID() (string, error) {
	buf, err := CryptoSource{}.Bytes(24)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Put stores an opaque value under key for the session.
func (s *Sessions) Put(ctx context.Context, sid, key, value string) error {
	return s.store.Put(ctx, sid, key, value)
}

// Get returns the value stored under key, or absent.
func (s *Sessions) Get(ctx context.Context, sid, key string) (string, bool, error) {
	return s.store.Get(ctx, sid, key)
}

// Remove deletes the value stored under key.
func (s *Sessions) Remove(ctx context.Context, sid, key string) error {
	return s.store.Remove(ctx, sid, key)
}

// PutTokens overwrites the session's token set wholesale.
func (s *Sessions) PutTokens(ctx context.Context, sid string, ts TokenSet) error {
	b, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshal token set: %w", err)
	}
	return s.store.Put(ctx, sid, keyTokens, string(b))
}

// Tokens returns the stored token set if it exists and has not expired.
// Expired or corrupt records are evicted and reported as absent; a corrupt
// record never surfaces as an error to the caller.
func (s *Sessions) Tokens(ctx context.Context, sid string) (TokenSet, bool, error) {
	raw, ok, err := s.store.Get(ctx, sid, keyTokens)
	if err != nil || !ok {
		return TokenSet{}, false, err
	}

	var ts TokenSet
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		_ = s.store.Remove(ctx, sid, keyTokens)
		return TokenSet{}, false, nil
	}
	if !ts.Live(s.now()) {
		_ = s.store.Remove(ctx, sid, keyTokens)
		return TokenSet{}, false, nil
	}
	return ts, true, nil
}

// RefreshToken returns the stored refresh token. Unlike Tokens it does not
// evict on access-token expiry: only the access token is expiry-checked
// locally, and an expired access token is the normal reason to come here.
func (s *Sessions) RefreshToken(ctx context.Context, sid string) (string, bool, error) {
	raw, ok, err := s.store.Get(ctx, sid, keyTokens)
	if err != nil || !ok {
		return "", false, err
	}

	var ts TokenSet
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		_ = s.store.Remove(ctx, sid, keyTokens)
		return "", false, nil
	}
	if ts.RefreshToken == "" {
		return "", false, nil
	}
	return ts.RefreshToken, true, nil
}

// Clear removes everything held for the session. Used on logout and on
// irrecoverable refresh failure.
func (s *Sessions) Clear(ctx context.Context, sid string) error {
	return s.store.Clear(ctx, sid)
}
