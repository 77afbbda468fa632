package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/policy"
)

// GoogleProvider implements the Provider interface for Google OAuth.
type GoogleProvider struct {
	config      oauth2.Config
	userInfoURL string
	state       string
	policy      *policy.Policy
}

// NewGoogleProvider creates a new Google OAuth provider. state is sent as
// the OAuth state parameter and is the gateway's own base URL.
func NewGoogleProvider(cfg config.GoogleConfig, state string, p *policy.Policy) *GoogleProvider {
	return &GoogleProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		state:       state,
		policy:      p,
	}
}

// Type returns the provider type.
func (p *GoogleProvider) Type() string {
	return ProviderGoogle
}

// AuthURL generates the authorization URL.
func (p *GoogleProvider) AuthURL() string {
	return p.config.AuthCodeURL(p.state, oauth2.SetAuthURLParam("login_hint", ""))
}

// Exchange trades the authorization code for a token, fetches the user's
// profile and applies the Google allow lists.
func (p *GoogleProvider) Exchange(ctx context.Context, cred Credential) (*Identity, error) {
	if cred.Code == "" {
		return nil, failure(RetryAuth, "missing authorization code")
	}

	token, err := p.config.Exchange(ctx, cred.Code)
	if err != nil {
		return nil, failure(RetryAuth, "failed to exchange code: %w", err)
	}

	profile, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, failure(RetryAuth, "%w", err)
	}

	email, _ := profile["email"].(string)
	if email == "" {
		return nil, failure(RetryAuth, "user info has no email")
	}
	if !p.policy.PermitsGoogle(email) {
		return nil, failure(Forbidden, "email %q is not allowed", email)
	}

	name, _ := profile["name"].(string)
	return &Identity{
		Email:      email,
		Name:       name,
		Provider:   ProviderGoogle,
		Attributes: profile,
	}, nil
}

func (p *GoogleProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	client := p.config.Client(ctx, token)

	resp, err := client.Get(p.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user info: status %d", resp.StatusCode)
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	return profile, nil
}
