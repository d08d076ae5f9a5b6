package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FlowState enumerates the states of one callback-processing flow.
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowProcessing
	FlowDisambiguating
	FlowRedirecting
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowIdle:
		return "idle"
	case FlowProcessing:
		return "processing"
	case FlowDisambiguating:
		return "disambiguating"
	case FlowRedirecting:
		return "redirecting"
	case FlowFailed:
		return "failed"
	}
	return "unknown"
}

// FailureDelay is the grace period before a failed flow navigates the user
// back to the portal root. It is a UX pause, not a retry.
const FailureDelay = DefaultFailureDelay

// HomeRoute is the safe default destination after failures and logouts.
const HomeRoute = "/"

// CallbackParams are the query parameters the SSO hands back on the callback
// route. They are the flow's only input.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Outcome is the terminal result of driving the flow.
type Outcome struct {
	State   FlowState
	Route   string
	Modes   []LoginMode
	Profile *Profile
	Err     error
	Delay   time.Duration
}

// LoginFlow resolves a callback into a routing decision: Redirecting to a
// role-derived landing route, Disambiguating when the account supports more
// than one login mode, or Failed.
type LoginFlow struct {
	exchanger *Exchanger
	profiles  *ProfileFetcher
	logger    *slog.Logger
}

// NewLoginFlow builds the flow driver.
func NewLoginFlow(exchanger *Exchanger, profiles *ProfileFetcher, logger *slog.Logger) *LoginFlow {
	return &LoginFlow{exchanger: exchanger, profiles: profiles, logger: logger}
}

// Complete drives Idle through Processing to a terminal state. An error
// parameter from the SSO, or missing code/state, fails the flow before any
// network call is made.
func (f *LoginFlow) Complete(ctx context.Context, sid string, params CallbackParams) Outcome {
	state := FlowProcessing
	f.logger.Debug("flow transition", "from", FlowIdle, "to", state)

	if params.Error != "" {
		return f.fail(state, fmt.Errorf("authorization denied: %s", ssoError(params)))
	}
	if params.Code == "" || params.State == "" {
		return f.fail(state, fmt.Errorf("callback missing code or state"))
	}

	if _, err := f.exchanger.Complete(ctx, sid, params.Code, params.State); err != nil {
		return f.fail(state, err)
	}

	profile, err := f.profiles.Fetch(ctx, sid)
	if err != nil {
		return f.fail(state, err)
	}

	return f.route(state, profile)
}

// Choose resolves a Disambiguating flow with the user's explicit mode choice.
// The choice is validated against the profile so a crafted request cannot
// select a persona the account does not hold.
func (f *LoginFlow) Choose(ctx context.Context, sid string, mode LoginMode) (string, error) {
	profile, err := f.profiles.Fetch(ctx, sid)
	if err != nil {
		return "", err
	}

	for _, allowed := range LoginModes(profile.Roles) {
		if allowed == mode {
			f.logger.Info("login mode chosen", "sub", profile.Subject, "mode", mode)
			return RouteForMode(mode), nil
		}
	}
	return "", fmt.Errorf("login mode %q not available for this account", mode)
}

func (f *LoginFlow) route(from FlowState, profile Profile) Outcome {
	// Admin tier short-circuits straight to the admin dashboard regardless
	// of any other role on the account.
	if IsAdminTier(profile.Roles) {
		route := RouteForRole(profile.PrimaryRole)
		f.logger.Info("flow transition", "from", from, "to", FlowRedirecting, "sub", profile.Subject, "route", route)
		return Outcome{State: FlowRedirecting, Route: route, Profile: &profile}
	}

	modes := LoginModes(profile.Roles)
	if len(modes) > 1 {
		f.logger.Info("flow transition", "from", from, "to", FlowDisambiguating, "sub", profile.Subject)
		return Outcome{State: FlowDisambiguating, Modes: modes, Profile: &profile}
	}

	route := RouteForRole(profile.PrimaryRole)
	f.logger.Info("flow transition", "from", from, "to", FlowRedirecting, "sub", profile.Subject, "route", route)
	return Outcome{State: FlowRedirecting, Route: route, Profile: &profile}
}

func (f *LoginFlow) fail(from FlowState, err error) Outcome {
	f.logger.Warn("flow transition", "from", from, "to", FlowFailed, "error", err)
	return Outcome{State: FlowFailed, Route: HomeRoute, Err: err, Delay: FailureDelay}
}

func ssoError(params CallbackParams) string {
	if params.ErrorDescription != "" {
		return params.Error + " (" + params.ErrorDescription + ")"
	}
	return params.Error
}
