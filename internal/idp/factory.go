package idp

import (
	"errors"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/mailer"
	"github.com/otwarte/ops-oauth2/internal/policy"
)

// NewProviders creates every provider enabled in cfg, keyed by Type().
// sender is only used by the email provider and may be nil when it is
// disabled.
func NewProviders(cfg config.Config, p *policy.Policy, sender mailer.Sender) (map[string]Provider, error) {
	providers := make(map[string]Provider)

	if cfg.GoogleEnabled() {
		providers[ProviderGoogle] = NewGoogleProvider(cfg.Google, cfg.ServerURL, p)
	}

	if cfg.SlackEnabled() {
		providers[ProviderSlack] = NewSlackProvider(cfg.Slack, p)
	}

	if cfg.EmailEnabled() {
		if sender == nil {
			return nil, errors.New("email provider requires a mail sender")
		}
		signer := crypto.NewSigner(crypto.DeriveKey([]byte(cfg.SharedSecret), "email-link"))
		providers[ProviderEmail] = NewEmailProvider(signer, cfg.ServerURL, p, sender)
	}

	if len(providers) == 0 {
		return nil, errors.New("no identity provider is configured")
	}
	return providers, nil
}
