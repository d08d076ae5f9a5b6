package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ProfileFetcher answers "who am I" against the portal backend with the
// session's bearer token, recovering from a single 401 by refreshing once.
type ProfileFetcher struct {
	backend   BackendConfig
	sessions  *Sessions
	refresher *Refresher
	client    *http.Client
	logger    *slog.Logger
}

// NewProfileFetcher builds the profile fetcher.
func NewProfileFetcher(backend BackendConfig, sessions *Sessions, refresher *Refresher, client *http.Client, logger *slog.Logger) *ProfileFetcher {
	return &ProfileFetcher{
		backend:   backend,
		sessions:  sessions,
		refresher: refresher,
		client:    client,
		logger:    logger,
	}
}

// Fetch returns the normalized profile for the session. A 401 is recovered
// through exactly one refresh-and-retry, bounded by an explicit attempt
// counter rather than recursion; a second 401 clears the session and fails
// with ErrSessionExpired.
func (pf *ProfileFetcher) Fetch(ctx context.Context, sid string) (Profile, error) {
	access, err := pf.accessToken(ctx, sid)
	if err != nil {
		return Profile{}, err
	}

	for attempt := 0; attempt <= 1; attempt++ {
		profile, status, err := pf.getProfile(ctx, access)
		if err != nil {
			return Profile{}, err
		}
		if status == http.StatusOK {
			return profile, nil
		}
		if status != http.StatusUnauthorized {
			return Profile{}, fmt.Errorf("profile endpoint returned status %d", status)
		}
		if attempt == 1 {
			break
		}

		refreshed, err := pf.refresher.Refresh(ctx, sid, access)
		if err != nil {
			return Profile{}, err
		}
		access = refreshed.AccessToken
	}

	if err := pf.sessions.Clear(ctx, sid); err != nil {
		pf.logger.Warn("clear session after retry exhaustion", "error", err)
	}
	return Profile{}, ErrSessionExpired
}

// accessToken resolves a live access token for the session, refreshing when
// the stored one has already lapsed but a refresh token survives.
func (pf *ProfileFetcher) accessToken(ctx context.Context, sid string) (string, error) {
	ts, ok, err := pf.sessions.Tokens(ctx, sid)
	if err != nil {
		return "", fmt.Errorf("read tokens: %w", err)
	}
	if ok {
		return ts.AccessToken, nil
	}

	if _, hasRefresh, err := pf.sessions.RefreshToken(ctx, sid); err != nil || !hasRefresh {
		return "", ErrNotAuthenticated
	}
	refreshed, err := pf.refresher.Refresh(ctx, sid, "")
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

func (pf *ProfileFetcher) getProfile(ctx context.Context, accessToken string) (Profile, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pf.backend.ProfileURL(), nil)
	if err != nil {
		return Profile{}, 0, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := pf.client.Do(req)
	if err != nil {
		return Profile{}, 0, fmt.Errorf("call profile endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Profile{}, 0, fmt.Errorf("read profile response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Profile{}, resp.StatusCode, nil
	}

	profile, err := normalizeProfile(raw)
	if err != nil {
		return Profile{}, 0, err
	}
	return profile, http.StatusOK, nil
}

// profilePayload is the backend's canonical profile shape.
type profilePayload struct {
	Sub      string          `json:"sub"`
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Roles    []string        `json:"roles"`
	Student  *StudentRecord  `json:"student"`
	Lecturer *LecturerRecord `json:"lecturer"`
	Admin    *AdminRecord    `json:"admin"`
}

// normalizeProfile accepts both response shapes the backend is known to emit:
// a bare profile object, or an envelope with success/message/data.
func normalizeProfile(raw []byte) (Profile, error) {
	var envelope struct {
		Success *bool           `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}

	body := raw
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if envelope.Success != nil && !*envelope.Success {
			return Profile{}, fmt.Errorf("profile request rejected: %s", envelope.Message)
		}
		body = envelope.Data
	}

	var payload profilePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	subject := payload.Sub
	if subject == "" {
		subject = payload.ID
	}

	profile := Profile{
		Subject:  subject,
		Email:    payload.Email,
		Name:     payload.Name,
		Roles:    payload.Roles,
		Student:  payload.Student,
		Lecturer: payload.Lecturer,
		Admin:    payload.Admin,
	}
	profile.PrimaryRole = PrimaryRole(profile.Roles)
	return profile, nil
}
