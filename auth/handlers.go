package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const sessionCookieName = "magang_session"

// App bundles the runtime dependencies of the auth gateway.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Sessions *Sessions

	Redirector *Redirector
	Exchanger  *Exchanger
	Refresher  *Refresher
	Profiles   *ProfileFetcher
	Flow       *LoginFlow

	store   SessionStore
	closers []func()
}

// NewApp wires the gateway from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	switch cfg.Sessions.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.Redis.Addr,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
		})
		app.store = NewRedisStore(client, cfg.Sessions.Redis.KeyPrefix, cfg.Sessions.TTL.Std())
		app.closers = append(app.closers, func() { _ = client.Close() })
	default:
		store := NewMemoryStore(cfg.Sessions.TTL.Std())
		app.store = store
		app.closers = append(app.closers, store.Close)
	}

	app.Sessions = NewSessions(app.store)
	httpClient := &http.Client{Timeout: cfg.Backend.Timeout.Std()}

	app.Redirector = NewRedirector(cfg.SSO, app.Sessions, CryptoSource{}, logger)
	app.Exchanger = NewExchanger(cfg.Backend, cfg.SSO, app.Sessions, httpClient, logger)
	app.Refresher = NewRefresher(cfg.Backend, app.Sessions, httpClient, logger)
	app.Profiles = NewProfileFetcher(cfg.Backend, app.Sessions, app.Refresher, httpClient, logger)
	app.Flow = NewLoginFlow(app.Exchanger, app.Profiles, logger)

	return app, nil
}

// Close releases the session backend.
func (a *App) Close() {
	for _, fn := range a.closers {
		fn()
	}
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	sid, err := a.ensureSession(w, r)
	if err != nil {
		a.Logger.Error("establish session", "error", err)
		http.Error(w, "login unavailable", http.StatusInternalServerError)
		return
	}

	if err := a.Redirector.Start(w, r, sid); err != nil {
		a.Logger.Error("start login", "error", err)
		http.Error(w, "login unavailable", http.StatusInternalServerError)
	}
}

func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	sid := a.currentSession(r)
	if sid == "" {
		a.renderFailure(w, "Sesi login tidak ditemukan. Silakan coba lagi.")
		return
	}

	q := r.URL.Query()
	params := CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	outcome := a.Flow.Complete(r.Context(), sid, params)
	switch outcome.State {
	case FlowRedirecting:
		http.Redirect(w, r, outcome.Route, http.StatusFound)
	case FlowDisambiguating:
		a.renderModeChoice(w, outcome.Modes)
	default:
		a.renderFailure(w, userFacingError(outcome.Err))
	}
}

func (a *App) handleMode(w http.ResponseWriter, r *http.Request) {
	sid := a.currentSession(r)
	if sid == "" {
		http.Redirect(w, r, HomeRoute, http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	mode := LoginMode(r.FormValue("mode"))
	route, err := a.Flow.Choose(r.Context(), sid, mode)
	if err != nil {
		a.Logger.Warn("mode choice rejected", "mode", mode, "error", err)
		a.renderFailure(w, userFacingError(err))
		return
	}
	http.Redirect(w, r, route, http.StatusFound)
}

func (a *App) handleWhoami(w http.ResponseWriter, r *http.Request) {
	sid := a.currentSession(r)
	if sid == "" {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	profile, err := a.Profiles.Fetch(r.Context(), sid)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotAuthenticated),
			errors.Is(err, ErrSessionExpired),
			errors.Is(err, ErrNoRefreshToken),
			errors.Is(err, ErrRefreshFailed):
			writeJSONError(w, http.StatusUnauthorized, userFacingError(err))
		default:
			a.Logger.Error("profile fetch", "error", err)
			writeJSONError(w, http.StatusBadGateway, "profile unavailable")
		}
		return
	}

	writeJSON(w, map[string]any{
		"profile": profile,
		"route":   RouteForRole(profile.PrimaryRole),
		"modes":   LoginModes(profile.Roles),
	})
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sid := a.currentSession(r); sid != "" {
		if err := a.Sessions.Clear(r.Context(), sid); err != nil {
			a.Logger.Warn("clear session on logout", "error", err)
		}
	}
	a.expireSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// ensureSession returns the browser's session ID, minting one and setting
// the cookie when absent.
func (a *App) ensureSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if sid := a.currentSession(r); sid != "" {
		return sid, nil
	}

	sid, err := a.Sessions.NewID()
	if err != nil {
		return "", fmt.Errorf("mint session id: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.Config.Sessions.TTL.Std().Seconds()),
	})
	return sid, nil
}

func (a *App) currentSession(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (a *App) expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   a.Config.Server.CookieDomain,
		HttpOnly: true,
		Secure:   !a.Config.Server.DevMode,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

var modeChoiceTmpl = template.Must(template.New("mode").Parse(`<!DOCTYPE html>
<html lang="id">
<head><meta charset="utf-8"><title>Pilih Mode Login</title></head>
<body>
  <h1>Masuk sebagai</h1>
  <p>Akun Anda terdaftar dengan lebih dari satu peran. Pilih mode login:</p>
  {{range .Modes}}
  <form method="post" action="/auth/mode">
    <button type="submit" name="mode" value="{{.}}">{{.}}</button>
  </form>
  {{end}}
</body>
</html>`))

func (a *App) renderModeChoice(w http.ResponseWriter, modes []LoginMode) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := modeChoiceTmpl.Execute(w, struct{ Modes []LoginMode }{modes}); err != nil {
		a.Logger.Error("render mode choice", "error", err)
	}
}

var failureTmpl = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html lang="id">
<head>
  <meta charset="utf-8">
  <meta http-equiv="refresh" content="{{.Delay}};url={{.Home}}">
  <title>Login Gagal</title>
</head>
<body>
  <h1>Login gagal</h1>
  <p>{{.Message}}</p>
  <p>Anda akan diarahkan kembali ke beranda.</p>
</body>
</html>`))

func (a *App) renderFailure(w http.ResponseWriter, message string) {
	delay := int(FailureDelay.Seconds())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Refresh", fmt.Sprintf("%d; url=%s", delay, HomeRoute))
	w.WriteHeader(http.StatusUnauthorized)
	err := failureTmpl.Execute(w, struct {
		Delay   int
		Home    string
		Message string
	}{delay, HomeRoute, message})
	if err != nil {
		a.Logger.Error("render failure page", "error", err)
	}
}

func userFacingError(err error) string {
	if err == nil {
		return "login failed"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
