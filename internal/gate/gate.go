// Package gate decides whether a proxied request may proceed and finishes
// provider sign-in by issuing the session cookies.
package gate

import (
	"net/http"

	"github.com/otwarte/ops-oauth2/internal/cookie"
	"github.com/otwarte/ops-oauth2/internal/idp"
	"github.com/otwarte/ops-oauth2/internal/log"
	"github.com/otwarte/ops-oauth2/internal/metrics"
	"github.com/otwarte/ops-oauth2/internal/policy"
	"github.com/otwarte/ops-oauth2/internal/session"
	"github.com/otwarte/ops-oauth2/internal/urlutil"
)

// Headers set by the reverse proxy on the verify subrequest.
const (
	HeaderOriginalURI    = "X-Original-URI"
	HeaderOriginalMethod = "X-Original-Method"
	HeaderRedirect       = "X-Auth-Request-Redirect"
)

// Decision is the outcome of Verify.
type Decision int

const (
	Whitelisted Decision = iota + 1
	Allowed
	MissingCredential
	SignatureInvalid
)

func (d Decision) String() string {
	switch d {
	case Whitelisted:
		return "whitelisted"
	case Allowed:
		return "allowed"
	case MissingCredential:
		return "missing_credential"
	case SignatureInvalid:
		return "signature_invalid"
	default:
		return "unknown"
	}
}

// Status is the HTTP status the verify endpoint answers with.
func (d Decision) Status() int {
	switch d {
	case Whitelisted, Allowed:
		return http.StatusOK
	default:
		return http.StatusUnauthorized
	}
}

// Gate holds no per-request state and is safe for concurrent use.
type Gate struct {
	codec           *session.Codec
	policy          *policy.Policy
	jar             *cookie.Jar
	providers       map[string]idp.Provider
	defaultRedirect string
	redirects       urlutil.RedirectPolicy
	metrics         *metrics.Metrics
}

// New wires a gate. m may be nil.
func New(
	codec *session.Codec,
	p *policy.Policy,
	jar *cookie.Jar,
	providers map[string]idp.Provider,
	defaultRedirect string,
	redirects urlutil.RedirectPolicy,
	m *metrics.Metrics,
) *Gate {
	return &Gate{
		codec:           codec,
		policy:          p,
		jar:             jar,
		providers:       providers,
		defaultRedirect: defaultRedirect,
		redirects:       redirects,
		metrics:         m,
	}
}

// Provider returns the enabled provider registered under name.
func (g *Gate) Provider(name string) (idp.Provider, bool) {
	p, ok := g.providers[name]
	return p, ok
}

// Verify inspects a verify subrequest. Cookies may be written to w; the
// status is left to the caller.
func (g *Gate) Verify(w http.ResponseWriter, r *http.Request) Decision {
	decision := g.verify(w, r)
	g.metrics.Decision(decision.String())
	log.LogTraceWithFields("gate", "Verify decision", map[string]any{
		"decision": decision.String(),
		"uri":      r.Header.Get(HeaderOriginalURI),
		"method":   r.Header.Get(HeaderOriginalMethod),
	})
	return decision
}

func (g *Gate) verify(w http.ResponseWriter, r *http.Request) Decision {
	if g.policy.IsWhitelisted(r.Header.Get(HeaderOriginalURI), r.Header.Get(HeaderOriginalMethod)) {
		return Whitelisted
	}

	permissions, signature := g.jar.Session(r)
	if permissions == "" || signature == "" {
		g.captureRedirect(w, r)
		return MissingCredential
	}

	if !g.codec.Verify(permissions, signature, r.UserAgent()) {
		g.jar.ClearSession(w)
		g.captureRedirect(w, r)
		return SignatureInvalid
	}

	if identity, err := g.codec.Decode(permissions); err == nil {
		log.LogDebugWithFields("gate", "Session verified", map[string]any{
			"email":    identity.Email,
			"provider": identity.Provider,
		})
	}
	return Allowed
}

func (g *Gate) captureRedirect(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get(HeaderRedirect)
	if target == "" {
		return
	}
	if !g.redirects.Allows(target) {
		log.LogWarnWithFields("gate", "Ignoring redirect target", map[string]any{"target": target})
		return
	}
	g.jar.SetRedirect(w, target)
}

// SignIn sends the browser to the provider's authorization page.
func (g *Gate) SignIn(w http.ResponseWriter, r *http.Request, provider idp.Provider) {
	http.Redirect(w, r, provider.AuthURL(), http.StatusFound)
}

// Complete handles a provider callback: exchange the credential, then
// establish the session and replay the remembered redirect.
func (g *Gate) Complete(w http.ResponseWriter, r *http.Request, provider idp.Provider) {
	cred := idp.Credential{
		Code:      r.FormValue("code"),
		Payload:   r.FormValue("payload"),
		Signature: r.FormValue("signature"),
		UserAgent: r.UserAgent(),
	}

	identity, err := provider.Exchange(r.Context(), cred)
	if err != nil {
		reason := idp.ReasonOf(err)
		g.metrics.Callback(provider.Type(), reason.String())
		log.LogInfoWithFields("gate", "Provider exchange failed", map[string]any{
			"provider": provider.Type(),
			"reason":   reason.String(),
			"error":    err.Error(),
		})

		if reason == idp.RetryAuth {
			http.Redirect(w, r, provider.AuthURL(), http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusForbidden)
		return
	}

	sess, err := g.codec.Issue(*identity, r.UserAgent())
	if err != nil {
		g.metrics.Callback(provider.Type(), "error")
		log.LogErrorWithFields("gate", "Failed to issue session", map[string]any{
			"provider": provider.Type(),
			"error":    err.Error(),
		})
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	g.jar.SetSession(w, sess.Permissions, sess.Signature)

	target := g.defaultRedirect
	if remembered := g.jar.PopRedirect(w, r); remembered != "" && g.redirects.Allows(remembered) {
		target = remembered
	}

	g.metrics.Callback(provider.Type(), "success")
	log.LogInfoWithFields("gate", "Signed in", map[string]any{
		"provider": provider.Type(),
		"email":    identity.Email,
		"redirect": target,
	})
	http.Redirect(w, r, target, http.StatusFound)
}
