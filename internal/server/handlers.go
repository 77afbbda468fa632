package server

import (
	"context"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/gate"
	"github.com/otwarte/ops-oauth2/internal/idp"
	jsonwriter "github.com/otwarte/ops-oauth2/internal/json"
	"github.com/otwarte/ops-oauth2/internal/log"
)

const emailGeneratePath = "/oauth2/email/generate"

// MagicLinkIssuer mails sign-in links.
type MagicLinkIssuer interface {
	Generate(ctx context.Context, address, userAgent string) error
}

// Handlers serves the gateway endpoints.
type Handlers struct {
	gate  *gate.Gate
	links MagicLinkIssuer
	csrf  *crypto.CSRFProtection
}

// NewHandlers creates the handlers. links is nil when email sign in is
// disabled.
func NewHandlers(g *gate.Gate, links MagicLinkIssuer, csrf *crypto.CSRFProtection) *Handlers {
	return &Handlers{gate: g, links: links, csrf: csrf}
}

// Verify answers the reverse proxy's auth subrequest with a bare status.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	decision := h.gate.Verify(w, r)
	w.WriteHeader(decision.Status())
}

// SignIn redirects to the provider named in the route.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	h.gate.SignIn(w, r, provider)
}

// Authorize is the provider callback.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	h.gate.Complete(w, r, provider)
}

func (h *Handlers) provider(w http.ResponseWriter, r *http.Request) (idp.Provider, bool) {
	name := chi.URLParam(r, "provider")
	provider, ok := h.gate.Provider(name)
	if !ok {
		jsonwriter.WriteNotFound(w, "Unknown provider")
		return nil, false
	}
	return provider, true
}

// EmailForm renders the page asking for an address.
func (h *Handlers) EmailForm(w http.ResponseWriter, r *http.Request) {
	if h.links == nil {
		jsonwriter.WriteNotFound(w, "Email sign in is disabled")
		return
	}
	h.renderEmailForm(w, http.StatusOK, "", "")
}

// EmailGenerate mails a link to the submitted address.
func (h *Handlers) EmailGenerate(w http.ResponseWriter, r *http.Request) {
	if h.links == nil {
		jsonwriter.WriteNotFound(w, "Email sign in is disabled")
		return
	}

	if !h.csrf.Validate(r.PostFormValue("csrf_token")) {
		log.LogWarnWithFields("server", "Rejected email form with invalid CSRF token", map[string]any{
			"remote_addr": r.RemoteAddr,
		})
		h.renderEmailForm(w, http.StatusForbidden, "", "The form expired. Please try again.")
		return
	}

	address := r.PostFormValue("email")
	if address == "" {
		h.renderEmailForm(w, http.StatusBadRequest, "", "Enter an email address.")
		return
	}

	err := h.links.Generate(r.Context(), address, r.UserAgent())
	if err != nil {
		var failure *idp.ExchangeFailure
		if errors.As(err, &failure) {
			log.LogInfoWithFields("server", "Magic link refused", map[string]any{"email": address})
			h.renderEmailForm(w, http.StatusForbidden, address, "This address is not allowed to sign in.")
			return
		}

		log.LogErrorWithFields("server", "Failed to send magic link", map[string]any{
			"email": address,
			"error": err.Error(),
		})
		h.renderEmailForm(w, http.StatusBadGateway, address, "The sign-in link could not be sent. Try again later.")
		return
	}

	renderHTML(w, http.StatusOK, emailSentTemplate, EmailSentData{Email: address})
}

func (h *Handlers) renderEmailForm(w http.ResponseWriter, status int, address, message string) {
	token, err := h.csrf.Generate()
	if err != nil {
		log.LogErrorWithFields("server", "Failed to generate CSRF token", map[string]any{"error": err.Error()})
		jsonwriter.WriteInternalServerError(w, "Internal Server Error")
		return
	}
	renderHTML(w, status, emailFormTemplate, EmailFormData{
		Action:    emailGeneratePath,
		Email:     address,
		Message:   message,
		CSRFToken: token,
	})
}

func renderHTML(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		log.LogErrorWithFields("server", "Failed to render template", map[string]any{
			"template": tmpl.Name(),
			"error":    err.Error(),
		})
	}
}
