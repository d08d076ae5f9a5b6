package auth

import "errors"

// Error taxonomy for the login flow. Handlers match these with errors.Is;
// everything else that bubbles out of the HTTP client is a network error.
var (
	// ErrCsrfMismatch means the state returned by the SSO does not match the
	// one stored for this session. Treated as a potential attack, never retried.
	ErrCsrfMismatch = errors.New("state mismatch")

	// ErrMissingVerifier means no PKCE verifier exists for this session, e.g.
	// a replayed callback URL or a flow completed from another session.
	ErrMissingVerifier = errors.New("pkce verifier missing")

	// ErrTokenExchange means the backend rejected the authorization code.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrNoRefreshToken means no refresh token is stored for this session.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrRefreshFailed means the refresh endpoint rejected the stored refresh
	// token. The session is unrecoverable and has been cleared.
	ErrRefreshFailed = errors.New("refresh failed")

	// ErrNotAuthenticated means no live access token was present when an
	// authenticated call was attempted.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSessionExpired means the refresh-and-retry path was exhausted.
	ErrSessionExpired = errors.New("session expired")
)
