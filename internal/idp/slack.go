package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/log"
	"github.com/otwarte/ops-oauth2/internal/policy"
)

// slackEndpoint is Slack's "Sign in with Slack" OAuth endpoint.
var slackEndpoint = oauth2.Endpoint{
	AuthURL:   "https://slack.com/oauth/authorize",
	TokenURL:  "https://slack.com/api/oauth.access",
	AuthStyle: oauth2.AuthStyleInParams,
}

// SlackProvider implements the Provider interface for Sign in with Slack.
// The token response itself carries the user and team, so no further
// API call is made.
type SlackProvider struct {
	config     oauth2.Config
	policy     *policy.Policy
	webhookURL string
	httpClient *http.Client
}

// NewSlackProvider creates a new Slack OAuth provider.
func NewSlackProvider(cfg config.SlackConfig, p *policy.Policy) *SlackProvider {
	return &SlackProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"identity.basic", "identity.email", "identity.team"},
			Endpoint:     slackEndpoint,
		},
		policy:     p,
		webhookURL: string(cfg.NotificationWebhook),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Type returns the provider type.
func (p *SlackProvider) Type() string {
	return ProviderSlack
}

// AuthURL generates the authorization URL. Slack sign in carries no state.
func (p *SlackProvider) AuthURL() string {
	return p.config.AuthCodeURL("")
}

// Exchange trades the code for a token and admits the user by team domain.
func (p *SlackProvider) Exchange(ctx context.Context, cred Credential) (*Identity, error) {
	if cred.Code == "" {
		return nil, failure(Forbidden, "missing authorization code")
	}

	token, err := p.config.Exchange(ctx, cred.Code)
	if err != nil {
		// {"ok": false} and a missing access token both mean Slack refused
		// the code. Only a failed round trip is worth another attempt.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, failure(RetryAuth, "failed to exchange code: %w", err)
		}
		return nil, failure(Forbidden, "slack rejected the code: %w", err)
	}

	team, _ := token.Extra("team").(map[string]any)
	user, _ := token.Extra("user").(map[string]any)

	teamDomain, _ := team["domain"].(string)
	if !p.policy.PermitsSlackTeam(teamDomain) {
		return nil, failure(Forbidden, "team %q is not allowed", teamDomain)
	}

	email, _ := user["email"].(string)
	if email == "" {
		return nil, failure(Forbidden, "slack response has no user email")
	}
	name, _ := user["name"].(string)

	p.notify(ctx, fmt.Sprintf("%s (%s) just signed in from %s", name, email, teamDomain))

	return &Identity{
		Email:    email,
		Name:     name,
		Provider: ProviderSlack,
		Attributes: map[string]any{
			"user": user,
			"team": team,
		},
	}, nil
}

// notify posts to the configured incoming webhook. Delivery failures are
// logged and otherwise ignored.
func (p *SlackProvider) notify(ctx context.Context, text string) {
	if p.webhookURL == "" {
		return
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		log.LogWarnWithFields("idp", "Failed to build Slack notification", map[string]any{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.LogWarnWithFields("idp", "Slack notification failed", map[string]any{"error": err.Error()})
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.LogWarnWithFields("idp", "Slack notification rejected", map[string]any{"status": resp.StatusCode})
	}
}
