package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	jsonwriter "github.com/otwarte/ops-oauth2/internal/json"
	"github.com/otwarte/ops-oauth2/internal/metrics"
)

// NewRouter builds the full HTTP surface of the gateway.
func NewRouter(h *Handlers, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(NewMetricsMiddleware(m))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonwriter.WriteNotFound(w, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonwriter.WriteMethodNotAllowed(w, "Method not allowed")
	})

	r.Method(http.MethodGet, "/health", NewHealthHandler())
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/oauth2", func(r chi.Router) {
		r.Get("/verify", h.Verify)

		r.Get("/email/generate", h.EmailForm)
		r.Post("/email/generate", h.EmailGenerate)

		r.Get("/{provider}/sign_in", h.SignIn)
		r.Get("/{provider}/authorize", h.Authorize)
		r.Post("/{provider}/authorize", h.Authorize)
	})

	return ChainMiddleware(r,
		NewLoggerMiddleware("http"),
		NewRecoverMiddleware("http"),
		NewRequestIDMiddleware(),
	)
}
