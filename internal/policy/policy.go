// Package policy holds the admission rules of the gateway: which raw
// requests bypass authentication entirely, and which identities each
// provider may admit.
package policy

import (
	"slices"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/emailutil"
)

// Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	urls          config.URLWhitelist
	googleDomains []string
	googleEmails  []string
	slackDomains  []string
	emailUsers    []string
}

// New builds the policy from the loaded configuration.
func New(cfg config.Config) *Policy {
	return &Policy{
		urls:          cfg.WhitelistedURLs,
		googleDomains: normalizeAll(cfg.Google.WhitelistedDomains),
		googleEmails:  normalizeAll(cfg.Google.WhitelistedEmails),
		slackDomains:  normalizeAll(cfg.Slack.WhitelistedDomains),
		emailUsers:    normalizeAll(cfg.Email.UsersList),
	}
}

// IsWhitelisted reports whether a request for originalURL with
// originalMethod is admitted without any credential.
func (p *Policy) IsWhitelisted(originalURL, originalMethod string) bool {
	return p.urls.Allows(originalURL, originalMethod)
}

// PermitsGoogle admits an address listed explicitly or whose domain is
// whitelisted. An explicit address wins over a domain mismatch.
func (p *Policy) PermitsGoogle(email string) bool {
	domain := emailutil.ExtractDomain(email)
	if domain == "" {
		return false
	}
	if emailutil.Contains(p.googleEmails, email) {
		return true
	}
	return slices.Contains(p.googleDomains, domain)
}

// PermitsSlackTeam admits members of whitelisted Slack workspaces, keyed by
// the team domain in the OAuth response.
func (p *Policy) PermitsSlackTeam(teamDomain string) bool {
	teamDomain = emailutil.Normalize(teamDomain)
	if teamDomain == "" {
		return false
	}
	return slices.Contains(p.slackDomains, teamDomain)
}

// PermitsEmailUser admits only addresses on the configured users list.
func (p *Policy) PermitsEmailUser(email string) bool {
	if emailutil.ExtractDomain(email) == "" {
		return false
	}
	return emailutil.Contains(p.emailUsers, email)
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := emailutil.Normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}
