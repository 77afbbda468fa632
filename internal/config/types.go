package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// URLWhitelist maps an original request URL to the HTTP methods that may
// reach it without credentials. A nil or empty method list admits any method.
type URLWhitelist map[string][]string

// UnmarshalJSON decodes the whitelist from a JSON object.
func (w *URLWhitelist) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("whitelisted urls must map url to a list of methods: %w", err)
	}
	*w = raw
	return nil
}

// UnmarshalText lets the whitelist be supplied as a JSON document in an
// environment variable.
func (w *URLWhitelist) UnmarshalText(text []byte) error {
	return w.UnmarshalJSON(text)
}

// Allows reports whether url/method is whitelisted.
func (w URLWhitelist) Allows(url, method string) bool {
	methods, ok := w[url]
	if !ok {
		return false
	}
	if len(methods) == 0 {
		return true
	}
	return slices.ContainsFunc(methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

// CookieConfig names and scopes the cookies the gateway writes.
type CookieConfig struct {
	PermissionsName string `env:"OAUTH_COOKIE_NAME_PERMISSIONS"`
	SignatureName   string `env:"OAUTH_COOKIE_NAME_SIGNATURE"`
	RedirectName    string `env:"OAUTH_COOKIE_NAME_REDIRECT"`
	Domain          string `env:"OAUTH_COOKIE_DOMAIN"`
	// TTL in seconds, used as Max-Age of the session cookies.
	TTL int `env:"OAUTH_COOKIE_TTL"`
}

// GoogleConfig configures the Google identity provider.
type GoogleConfig struct {
	ClientID           string   `env:"GOOGLE_OAUTH_CLIENT_ID"`
	ClientSecret       Secret   `env:"GOOGLE_OAUTH_CLIENT_SECRET"`
	RedirectURL        string   `env:"GOOGLE_OAUTH_REDIRECT_URL"`
	WhitelistedDomains []string `env:"GOOGLE_WHITELISTED_DOMAINS" envSeparator:","`
	WhitelistedEmails  []string `env:"GOOGLE_WHITELISTED_EMAILS" envSeparator:","`
}

// SlackConfig configures the Slack identity provider.
type SlackConfig struct {
	ClientID            string   `env:"SLACK_OAUTH_CLIENT_ID"`
	ClientSecret        Secret   `env:"SLACK_OAUTH_CLIENT_SECRET"`
	RedirectURL         string   `env:"SLACK_OAUTH_REDIRECT_URL"`
	WhitelistedDomains  []string `env:"SLACK_WHITELISTED_DOMAINS" envSeparator:","`
	NotificationWebhook Secret   `env:"SLACK_NOTIFICATION_WEBHOOK"`
}

// SMTPConfig configures outbound mail for magic links.
type SMTPConfig struct {
	Host     string `json:"host" env:"EMAIL_SMTP_HOST"`
	Port     int    `json:"port" env:"EMAIL_SMTP_PORT"`
	Domain   string `json:"domain" env:"EMAIL_SMTP_DOMAIN"`
	User     string `json:"user" env:"EMAIL_SMTP_USER"`
	Password Secret `json:"password" env:"EMAIL_SMTP_PASSWORD"`
	MailFrom string `json:"mail_from" env:"EMAIL_SMTP_MAIL_FROM"`
}

// EmailConfig configures the magic-link provider.
type EmailConfig struct {
	UsersList []string   `json:"users_list" env:"EMAIL_USERS_LIST" envSeparator:","`
	SMTP      SMTPConfig `json:"smtp"`
}

// Config is the gateway configuration after file and environment have been
// merged. It is built once at startup and never mutated afterwards.
type Config struct {
	Environment           string       `env:"OAUTH_ENVIRONMENT"`
	Addr                  string       `env:"OAUTH_ADDR"`
	ServerURL             string       `env:"OAUTH_SERVER_URL"`
	SharedSecret          Secret       `env:"OAUTH_SHARED_SECRET"`
	DefaultRedirectPage   string       `env:"DEFAULT_REDIRECT_PAGE"`
	AllowForeignRedirects bool         `env:"OAUTH_ALLOW_FOREIGN_REDIRECTS"`
	WhitelistedURLs       URLWhitelist `env:"OAUTH_WHITELISTED_URLS"`

	Cookie CookieConfig
	Google GoogleConfig
	Slack  SlackConfig
	Email  EmailConfig
}

// IsDevelopment reports whether the gateway runs in development mode, where
// cookies are not marked Secure so plain-http setups work.
func (c Config) IsDevelopment() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "dev"
}

// GoogleEnabled reports whether the Google provider is configured.
func (c Config) GoogleEnabled() bool { return c.Google.ClientID != "" }

// SlackEnabled reports whether the Slack provider is configured.
func (c Config) SlackEnabled() bool { return c.Slack.ClientID != "" }

// EmailEnabled reports whether the magic-link provider is configured.
func (c Config) EmailEnabled() bool { return len(c.Email.UsersList) > 0 }

// UnmarshalJSON reads the flat key layout of oauth2.conf into the grouped
// Config structure.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Environment           *string       `json:"running_environment"`
		Addr                  *string       `json:"addr"`
		ServerURL             *string       `json:"oauth_server_url"`
		SharedSecret          *Secret       `json:"oauth_shared_secret"`
		DefaultRedirectPage   *string       `json:"default_redirect_page"`
		AllowForeignRedirects *bool         `json:"allow_foreign_redirects"`
		WhitelistedURLs       URLWhitelist  `json:"whitelisted_urls"`
		CookieNamePermissions *string       `json:"cookie_name_permissions"`
		CookieNameSignature   *string       `json:"cookie_name_signature"`
		CookieNameRedirect    *string       `json:"cookie_name_redirect"`
		CookieDomain          *string       `json:"cookie_domain"`
		CookieTTL             *json.Number  `json:"cookie_ttl"`
		GoogleClientID        *string       `json:"google_oauth_client_id"`
		GoogleClientSecret    *Secret       `json:"google_oauth_client_secret"`
		GoogleRedirectURL     *string       `json:"google_oauth_redirect_url"`
		GoogleDomains         []string      `json:"google_whitelisted_domains"`
		GoogleEmails          []string      `json:"google_whitelisted_emails"`
		SlackClientID         *string       `json:"slack_oauth_client_id"`
		SlackClientSecret     *Secret       `json:"slack_oauth_client_secret"`
		SlackRedirectURL      *string       `json:"slack_oauth_redirect_url"`
		SlackDomains          []string      `json:"slack_whitelisted_domains"`
		SlackWebhook          *Secret       `json:"slack_notification_webhook"`
		Email                 *EmailConfig  `json:"email"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	setString(&c.Environment, raw.Environment)
	setString(&c.Addr, raw.Addr)
	setString(&c.ServerURL, raw.ServerURL)
	setString(&c.SharedSecret, raw.SharedSecret)
	setString(&c.DefaultRedirectPage, raw.DefaultRedirectPage)
	if raw.AllowForeignRedirects != nil {
		c.AllowForeignRedirects = *raw.AllowForeignRedirects
	}
	if raw.WhitelistedURLs != nil {
		c.WhitelistedURLs = raw.WhitelistedURLs
	}

	setString(&c.Cookie.PermissionsName, raw.CookieNamePermissions)
	setString(&c.Cookie.SignatureName, raw.CookieNameSignature)
	setString(&c.Cookie.RedirectName, raw.CookieNameRedirect)
	setString(&c.Cookie.Domain, raw.CookieDomain)
	if raw.CookieTTL != nil {
		ttl, err := raw.CookieTTL.Int64()
		if err != nil {
			return fmt.Errorf("parsing cookie_ttl: %w", err)
		}
		c.Cookie.TTL = int(ttl)
	}

	setString(&c.Google.ClientID, raw.GoogleClientID)
	setString(&c.Google.ClientSecret, raw.GoogleClientSecret)
	setString(&c.Google.RedirectURL, raw.GoogleRedirectURL)
	if raw.GoogleDomains != nil {
		c.Google.WhitelistedDomains = raw.GoogleDomains
	}
	if raw.GoogleEmails != nil {
		c.Google.WhitelistedEmails = raw.GoogleEmails
	}

	setString(&c.Slack.ClientID, raw.SlackClientID)
	setString(&c.Slack.ClientSecret, raw.SlackClientSecret)
	setString(&c.Slack.RedirectURL, raw.SlackRedirectURL)
	setString(&c.Slack.NotificationWebhook, raw.SlackWebhook)
	if raw.SlackDomains != nil {
		c.Slack.WhitelistedDomains = raw.SlackDomains
	}

	if raw.Email != nil {
		if raw.Email.UsersList != nil {
			c.Email.UsersList = raw.Email.UsersList
		}
		smtp := raw.Email.SMTP
		if smtp.Host != "" {
			c.Email.SMTP.Host = smtp.Host
		}
		if smtp.Port != 0 {
			c.Email.SMTP.Port = smtp.Port
		}
		if smtp.Domain != "" {
			c.Email.SMTP.Domain = smtp.Domain
		}
		if smtp.User != "" {
			c.Email.SMTP.User = smtp.User
		}
		if smtp.Password != "" {
			c.Email.SMTP.Password = smtp.Password
		}
		if smtp.MailFrom != "" {
			c.Email.SMTP.MailFrom = smtp.MailFrom
		}
	}

	return nil
}

func setString[T ~string](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
