package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router for the auth gateway.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(a.Config.RateLimit, a.Logger))
		r.Get("/auth/login", a.handleLogin)
		r.Get("/auth/callback", a.handleCallback)
	})

	r.Post("/auth/mode", a.handleMode)
	r.Get("/auth/whoami", a.handleWhoami)
	r.Post("/auth/logout", a.handleLogout)
	r.Get("/healthz", a.handleHealthz)

	return r
}
