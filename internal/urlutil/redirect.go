package urlutil

import (
	"net/url"
	"strings"
)

// RedirectPolicy decides whether a redirect target supplied by the reverse
// proxy may be stored and later replayed to the browser.
//
// Relative paths are always accepted. Absolute targets must use http(s) and
// point at Domain or one of its subdomains, unless AllowForeign is set.
type RedirectPolicy struct {
	Domain       string
	AllowForeign bool
}

// Allows reports whether target is an acceptable redirect.
func (p RedirectPolicy) Allows(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	if p.AllowForeign {
		return true
	}

	// "//host/path" and "/\host" are treated as absolute by browsers.
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return false
	}

	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if !u.IsAbs() && u.Host == "" {
		return strings.HasPrefix(u.Path, "/")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return hostWithin(u.Hostname(), p.Domain)
}

func hostWithin(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
