package idp

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/emailutil"
	"github.com/otwarte/ops-oauth2/internal/log"
	"github.com/otwarte/ops-oauth2/internal/mailer"
	"github.com/otwarte/ops-oauth2/internal/policy"
	"github.com/otwarte/ops-oauth2/internal/urlutil"
)

// EmailTokenTTL is how long a magic link stays valid.
const EmailTokenTTL = time.Hour

// EmailSubject is the subject line of magic-link mails.
const EmailSubject = "[OK][Access] Granted."

//go:embed templates/email_token.html
var emailTemplateSource string

var emailTemplate = template.Must(template.New("email_token").Parse(emailTemplateSource))

// EmailToken is the payload of a magic link.
type EmailToken struct {
	Expire int64  `json:"expire"`
	Email  string `json:"email"`
}

// EmailProvider signs users in with a link mailed to an allow-listed
// address. The link is bound to the User-Agent that requested it.
type EmailProvider struct {
	signer    crypto.Signer
	policy    *policy.Policy
	sender    mailer.Sender
	serverURL string
	now       func() time.Time
}

// NewEmailProvider creates a magic-link provider. serverURL is the
// externally visible base URL of the gateway.
func NewEmailProvider(signer crypto.Signer, serverURL string, p *policy.Policy, sender mailer.Sender) *EmailProvider {
	return &EmailProvider{
		signer:    signer,
		policy:    p,
		sender:    sender,
		serverURL: serverURL,
		now:       time.Now,
	}
}

// Type returns the provider type.
func (p *EmailProvider) Type() string {
	return ProviderEmail
}

// AuthURL is the page where the user asks for a link.
func (p *EmailProvider) AuthURL() string {
	return urlutil.MustJoinPath(p.serverURL, "oauth2", "email", "generate")
}

// Generate mails a fresh link to address. Addresses outside the users list
// get a Forbidden failure and no mail.
func (p *EmailProvider) Generate(ctx context.Context, address, userAgent string) error {
	address = emailutil.Normalize(address)
	if !p.policy.PermitsEmailUser(address) {
		return failure(Forbidden, "email %q is not allowed", address)
	}

	expires := p.now().Add(EmailTokenTTL)
	raw, err := json.Marshal(EmailToken{Expire: expires.Unix(), Email: address})
	if err != nil {
		return fmt.Errorf("failed to encode email token: %w", err)
	}
	payload := base64.URLEncoding.EncodeToString(raw)
	signature := p.signer.Sign(payload, userAgent)

	link, err := urlutil.WithQuery(
		urlutil.MustJoinPath(p.serverURL, "oauth2", "email", "authorize"),
		url.Values{"payload": {payload}, "signature": {signature}},
	)
	if err != nil {
		return fmt.Errorf("failed to build sign-in link: %w", err)
	}

	var html bytes.Buffer
	err = emailTemplate.Execute(&html, map[string]string{
		"Email":   address,
		"Link":    link,
		"Expires": expires.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}
	text := fmt.Sprintf("Access has been granted. Sign in from the same browser: %s\n", link)

	if err := p.sender.Send(ctx, address, EmailSubject, html.String(), text); err != nil {
		return fmt.Errorf("failed to send sign-in link: %w", err)
	}

	log.LogInfoWithFields("idp", "Magic link sent", map[string]any{"email": address})
	return nil
}

// Exchange verifies a magic link against the requesting User-Agent and its
// embedded expiry.
func (p *EmailProvider) Exchange(_ context.Context, cred Credential) (*Identity, error) {
	if cred.Payload == "" || cred.Signature == "" {
		return nil, failure(Forbidden, "missing payload or signature")
	}
	if !p.signer.Verify(cred.Signature, cred.Payload, cred.UserAgent) {
		return nil, failure(Forbidden, "invalid link signature")
	}

	raw, err := base64.URLEncoding.DecodeString(cred.Payload)
	if err != nil {
		return nil, failure(Forbidden, "failed to decode payload: %w", err)
	}
	var token EmailToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, failure(Forbidden, "failed to decode payload: %w", err)
	}
	if token.Email == "" {
		return nil, failure(Forbidden, "payload has no email")
	}

	if p.now().Unix() > token.Expire {
		return nil, failure(Expired, "link for %q expired", token.Email)
	}

	return &Identity{
		Email:      token.Email,
		Provider:   ProviderEmail,
		Attributes: map[string]any{"expire": token.Expire},
	}, nil
}
