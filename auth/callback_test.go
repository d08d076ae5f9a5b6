package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBackend(t *testing.T, handler http.HandlerFunc) (BackendConfig, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return BackendConfig{BaseURL: srv.URL, Timeout: Duration(5 * time.Second)}, srv.Client()
}

func seedAttempt(t *testing.T, s *Sessions, sid, verifier, state string) {
	t.Helper()
	ctx := context.Background()
	if err := s.Put(ctx, sid, keyVerifier, verifier); err != nil {
		t.Fatalf("seed verifier: %v", err)
	}
	if err := s.Put(ctx, sid, keyState, state); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func TestExchangerComplete(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	var gotBody exchangeRequest
	backend, client := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/exchange" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken:  "at-new",
			RefreshToken: "rt-new",
			ExpiresIn:    3600,
			TokenType:    "Bearer",
		})
	})

	sso := SSOConfig{RedirectURI: "https://magang.kampus.ac.id/auth/callback"}
	e := NewExchanger(backend, sso, sessions, client, testLogger())
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	seedAttempt(t, sessions, "sid", "verifier-abc", "state-xyz")

	tok, err := e.Complete(ctx, "sid", "code-123", "state-xyz")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if tok.AccessToken != "at-new" {
		t.Fatalf("access token = %q", tok.AccessToken)
	}

	if gotBody.Code != "code-123" || gotBody.CodeVerifier != "verifier-abc" {
		t.Fatalf("exchange body = %+v", gotBody)
	}
	if gotBody.RedirectURI != sso.RedirectURI {
		t.Fatalf("redirectUri = %q", gotBody.RedirectURI)
	}

	sessions.now = func() time.Time { return now }
	set, ok, err := sessions.Tokens(ctx, "sid")
	if err != nil || !ok {
		t.Fatalf("stored tokens: ok=%v err=%v", ok, err)
	}
	if set.RefreshToken != "rt-new" {
		t.Fatalf("stored refresh token = %q", set.RefreshToken)
	}
	if want := now.Add(3600 * time.Second); !set.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %v, want %v", set.ExpiresAt, want)
	}
}

func TestExchangerCompleteStateMismatch(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	backendCalled := false
	backend, client := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		backendCalled = true
	})
	e := NewExchanger(backend, SSOConfig{}, sessions, client, testLogger())

	seedAttempt(t, sessions, "sid", "verifier-abc", "state-good")

	if _, err := e.Complete(ctx, "sid", "code-123", "state-evil"); !errors.Is(err, ErrCsrfMismatch) {
		t.Fatalf("err = %v, want ErrCsrfMismatch", err)
	}
	if backendCalled {
		t.Fatal("exchange endpoint was called despite the state mismatch")
	}
}

func TestExchangerCompleteEmptyState(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	backend, client := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})
	e := NewExchanger(backend, SSOConfig{}, sessions, client, testLogger())

	seedAttempt(t, sessions, "sid", "verifier-abc", "")

	// An empty incoming state never matches, even when the stored state is
	// also empty.
	if _, err := e.Complete(ctx, "sid", "code-123", ""); !errors.Is(err, ErrCsrfMismatch) {
		t.Fatalf("err = %v, want ErrCsrfMismatch", err)
	}
}

func TestExchangerCompleteMissingVerifier(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	backend, client := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})
	e := NewExchanger(backend, SSOConfig{}, sessions, client, testLogger())

	if _, err := e.Complete(ctx, "sid", "code-123", "state"); !errors.Is(err, ErrMissingVerifier) {
		t.Fatalf("err = %v, want ErrMissingVerifier", err)
	}
}

func TestExchangerCompleteConsumesArtifactsOnce(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	backend, client := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenResponse{AccessToken: "at", ExpiresIn: 3600})
	})
	e := NewExchanger(backend, SSOConfig{}, sessions, client, testLogger())

	seedAttempt(t, sessions, "sid", "verifier-abc", "state-xyz")

	if _, err := e.Complete(ctx, "sid", "code-123", "state-xyz"); err != nil {
		t.Fatalf("first Complete: %v", err)
	}

	// Replaying the same callback must fail on the missing verifier.
	if _, err := e.Complete(ctx, "sid", "code-123", "state-xyz"); !errors.Is(err, ErrMissingVerifier) {
		t.Fatalf("second Complete err = %v, want ErrMissingVerifier", err)
	}
}

func TestExchangerCompleteConsumesArtifactsOnFailure(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	backend, client := testBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"message": "kode tidak valid"})
	})
	e := NewExchanger(backend, SSOConfig{}, sessions, client, testLogger())

	seedAttempt(t, sessions, "sid", "verifier-abc", "state-xyz")

	_, err := e.Complete(ctx, "sid", "code-bad", "state-xyz")
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("err = %v, want ErrTokenExchange", err)
	}
	// The backend's own message surfaces verbatim.
	if !strings.Contains(err.Error(), "kode tidak valid") {
		t.Fatalf("err %q does not carry the backend message", err)
	}

	// Even after a failed exchange the attempt artifacts are gone.
	if _, ok, _ := sessions.Get(ctx, "sid", keyVerifier); ok {
		t.Fatal("verifier survived a failed exchange")
	}
	if _, ok, _ := sessions.Get(ctx, "sid", keyState); ok {
		t.Fatal("state survived a failed exchange")
	}
}

func TestBackendMessage(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"message":"expired code"}`, "expired code"},
		{`{"error":"invalid_grant"}`, "invalid_grant"},
		{`{"message":"first","error":"second"}`, "first"},
		{`not json`, "token exchange failed"},
		{`{}`, "token exchange failed"},
	}
	for _, tc := range cases {
		if got := backendMessage([]byte(tc.raw)); got != tc.want {
			t.Errorf("backendMessage(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
