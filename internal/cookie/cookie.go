package cookie

import (
	"net/http"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/log"
)

// Jar reads and writes the gateway's three cookies with the configured
// names and attributes.
type Jar struct {
	permissions string
	signature   string
	redirect    string
	domain      string
	maxAge      int
	secure      bool
}

// NewJar builds a jar from the cookie section. Cookies are Secure unless
// development is set.
func NewJar(cfg config.CookieConfig, development bool) *Jar {
	return &Jar{
		permissions: cfg.PermissionsName,
		signature:   cfg.SignatureName,
		redirect:    cfg.RedirectName,
		domain:      cfg.Domain,
		maxAge:      cfg.TTL,
		secure:      !development,
	}
}

func (j *Jar) set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   j.domain,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.secure,
		MaxAge:   maxAge,
	})
}

// Clear removes a cookie by setting MaxAge to -1
func (j *Jar) Clear(w http.ResponseWriter, name string) {
	j.set(w, name, "", -1)
}

// SetSession writes the permissions and signature cookies.
func (j *Jar) SetSession(w http.ResponseWriter, permissions, signature string) {
	j.set(w, j.permissions, permissions, j.maxAge)
	j.set(w, j.signature, signature, j.maxAge)

	log.LogTraceWithFields("cookie", "Session cookies set", map[string]any{
		"maxAge": j.maxAge,
		"secure": j.secure,
		"domain": j.domain,
	})
}

// Session returns the permissions and signature values, empty when absent.
func (j *Jar) Session(r *http.Request) (permissions, signature string) {
	permissions, _ = Get(r, j.permissions)
	signature, _ = Get(r, j.signature)
	return permissions, signature
}

// ClearSession removes both session cookies.
func (j *Jar) ClearSession(w http.ResponseWriter) {
	j.Clear(w, j.permissions)
	j.Clear(w, j.signature)
	log.LogTraceWithFields("cookie", "Session cookies cleared", nil)
}

// SetRedirect remembers where to send the browser after sign in. It is a
// session cookie.
func (j *Jar) SetRedirect(w http.ResponseWriter, target string) {
	j.set(w, j.redirect, target, 0)
}

// PopRedirect returns the remembered redirect target and deletes it.
func (j *Jar) PopRedirect(w http.ResponseWriter, r *http.Request) string {
	target, err := Get(r, j.redirect)
	if err != nil || target == "" {
		return ""
	}
	j.Clear(w, j.redirect)
	return target
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}
