package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFlow(t *testing.T, sessions *Sessions, handler http.HandlerFunc) *LoginFlow {
	t.Helper()
	backend, client := testBackend(t, handler)
	rf := NewRefresher(backend, sessions, client, testLogger())
	pf := NewProfileFetcher(backend, sessions, rf, client, testLogger())
	ex := NewExchanger(backend, SSOConfig{RedirectURI: "https://magang.kampus.ac.id/auth/callback"}, sessions, client, testLogger())
	return NewLoginFlow(ex, pf, testLogger())
}

func flowBackend(t *testing.T, roles []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/exchange":
			json.NewEncoder(w).Encode(TokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600})
		case "/api/auth/me":
			json.NewEncoder(w).Encode(map[string]any{"sub": "u-1", "roles": roles})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}
}

func TestFlowCompleteRedirects(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	flow := newTestFlow(t, sessions, flowBackend(t, []string{"mahasiswa"}))

	seedAttempt(t, sessions, "sid", "verifier", "state-1")

	outcome := flow.Complete(ctx, "sid", CallbackParams{Code: "code-1", State: "state-1"})
	if outcome.State != FlowRedirecting {
		t.Fatalf("state = %v, want redirecting (err=%v)", outcome.State, outcome.Err)
	}
	if outcome.Route != "/mahasiswa" {
		t.Fatalf("route = %q", outcome.Route)
	}
	if outcome.Profile == nil || outcome.Profile.Subject != "u-1" {
		t.Fatalf("profile = %+v", outcome.Profile)
	}
}

func TestFlowCompleteDisambiguates(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	flow := newTestFlow(t, sessions, flowBackend(t, []string{"dosen", "mahasiswa"}))

	seedAttempt(t, sessions, "sid", "verifier", "state-1")

	outcome := flow.Complete(ctx, "sid", CallbackParams{Code: "code-1", State: "state-1"})
	if outcome.State != FlowDisambiguating {
		t.Fatalf("state = %v, want disambiguating (err=%v)", outcome.State, outcome.Err)
	}
	if len(outcome.Modes) != 2 || outcome.Modes[0] != ModeLecturer || outcome.Modes[1] != ModeStudent {
		t.Fatalf("modes = %v", outcome.Modes)
	}
}

func TestFlowCompleteAdminShortCircuits(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	flow := newTestFlow(t, sessions, flowBackend(t, []string{"admin", "dosen", "mahasiswa"}))

	seedAttempt(t, sessions, "sid", "verifier", "state-1")

	outcome := flow.Complete(ctx, "sid", CallbackParams{Code: "code-1", State: "state-1"})
	// Admin tier never sees the mode chooser, whatever else the account holds.
	if outcome.State != FlowRedirecting {
		t.Fatalf("state = %v, want redirecting (err=%v)", outcome.State, outcome.Err)
	}
	if outcome.Route != "/admin" {
		t.Fatalf("route = %q, want /admin", outcome.Route)
	}
}

func TestFlowCompleteSSOErrorFailsWithoutNetwork(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	var calls atomic.Int32
	flow := newTestFlow(t, sessions, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	seedAttempt(t, sessions, "sid", "verifier", "state-1")

	outcome := flow.Complete(ctx, "sid", CallbackParams{
		Error:            "access_denied",
		ErrorDescription: "user cancelled",
	})
	if outcome.State != FlowFailed {
		t.Fatalf("state = %v, want failed", outcome.State)
	}
	if outcome.Route != HomeRoute {
		t.Fatalf("route = %q, want home", outcome.Route)
	}
	if outcome.Delay != 3*time.Second {
		t.Fatalf("delay = %v, want 3s", outcome.Delay)
	}
	if outcome.Err == nil {
		t.Fatal("failed outcome carries no error")
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("backend called %d times for an SSO error callback", n)
	}
}

func TestFlowCompleteMissingParamsFail(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	flow := newTestFlow(t, sessions, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend must not be called")
	})

	for _, params := range []CallbackParams{
		{Code: "", State: "state-1"},
		{Code: "code-1", State: ""},
		{},
	} {
		outcome := flow.Complete(ctx, "sid", params)
		if outcome.State != FlowFailed {
			t.Fatalf("params %+v: state = %v, want failed", params, outcome.State)
		}
	}
}

func TestFlowChoose(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	flow := newTestFlow(t, sessions, flowBackend(t, []string{"dosen", "mahasiswa"}))

	seedTokens(t, sessions, "sid", TokenSet{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})

	route, err := flow.Choose(ctx, "sid", ModeLecturer)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if route != "/dosen" {
		t.Fatalf("route = %q", route)
	}
}

func TestFlowChooseRejectsUnavailableMode(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	flow := newTestFlow(t, sessions, flowBackend(t, []string{"mahasiswa"}))

	seedTokens(t, sessions, "sid", TokenSet{AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})

	// A student-only account cannot pick the lecturer persona.
	if _, err := flow.Choose(ctx, "sid", ModeLecturer); err == nil {
		t.Fatal("expected error for unavailable mode")
	}
}

func TestFlowStateString(t *testing.T) {
	states := map[FlowState]string{
		FlowIdle:           "idle",
		FlowProcessing:     "processing",
		FlowDisambiguating: "disambiguating",
		FlowRedirecting:    "redirecting",
		FlowFailed:         "failed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
