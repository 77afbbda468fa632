package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/otwarte/ops-oauth2/internal/log"
)

// DefaultPath is where the configuration file is looked up when no path is given.
const DefaultPath = "/etc/oauth2/oauth2.conf"

// Default returns the configuration defaults applied before the file and
// environment are read.
func Default() Config {
	return Config{
		Addr: ":3000",
		Email: EmailConfig{
			SMTP: SMTPConfig{Port: 587},
		},
	}
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. Environment variables take precedence over file
// values. A missing file is not an error; every required key may come from
// the environment instead.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.LogInfoWithFields("config", "Config file not found, using environment only", map[string]any{
			"path": path,
		})
	case err != nil:
		return Config{}, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decodeFile(path, data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile parses data as JSON, or as YAML for .yaml/.yml files. YAML is
// converted to JSON first so both formats share Config.UnmarshalJSON.
func decodeFile(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config YAML: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("converting config YAML: %w", err)
		}
		data = converted
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config JSON: %w", err)
	}
	return nil
}

// ValidationError lists every configuration problem found at startup.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config validation failed: " + strings.Join(e.Problems, "; ")
}

// ValidateConfig checks that every required key is present. Keys of a
// provider only become required once the provider is enabled.
func ValidateConfig(cfg *Config) error {
	v := &validator{}

	v.require(cfg.ServerURL, "oauth_server_url", "OAUTH_SERVER_URL")
	v.require(string(cfg.SharedSecret), "oauth_shared_secret", "OAUTH_SHARED_SECRET")
	v.require(cfg.DefaultRedirectPage, "default_redirect_page", "DEFAULT_REDIRECT_PAGE")
	v.require(cfg.Cookie.PermissionsName, "cookie_name_permissions", "OAUTH_COOKIE_NAME_PERMISSIONS")
	v.require(cfg.Cookie.SignatureName, "cookie_name_signature", "OAUTH_COOKIE_NAME_SIGNATURE")
	v.require(cfg.Cookie.RedirectName, "cookie_name_redirect", "OAUTH_COOKIE_NAME_REDIRECT")
	v.require(cfg.Cookie.Domain, "cookie_domain", "OAUTH_COOKIE_DOMAIN")
	if cfg.Cookie.TTL <= 0 {
		v.problem("cookie_ttl must be a positive number of seconds (OAUTH_COOKIE_TTL)")
	}
	if cfg.Addr == "" {
		v.problem("addr cannot be empty (OAUTH_ADDR)")
	}

	if cfg.ServerURL != "" {
		if u, err := url.Parse(cfg.ServerURL); err != nil || !u.IsAbs() || u.Host == "" {
			v.problem(fmt.Sprintf("oauth_server_url must be an absolute URL, got %q", cfg.ServerURL))
		}
	}

	names := map[string]bool{}
	for _, name := range []string{cfg.Cookie.PermissionsName, cfg.Cookie.SignatureName, cfg.Cookie.RedirectName} {
		if name != "" && names[name] {
			v.problem(fmt.Sprintf("cookie name %q is used more than once", name))
		}
		names[name] = true
	}

	if cfg.GoogleEnabled() {
		v.require(string(cfg.Google.ClientSecret), "google_oauth_client_secret", "GOOGLE_OAUTH_CLIENT_SECRET")
		v.require(cfg.Google.RedirectURL, "google_oauth_redirect_url", "GOOGLE_OAUTH_REDIRECT_URL")
		if len(cfg.Google.WhitelistedDomains) == 0 && len(cfg.Google.WhitelistedEmails) == 0 {
			v.problem("google requires google_whitelisted_domains or google_whitelisted_emails (GOOGLE_WHITELISTED_DOMAINS, GOOGLE_WHITELISTED_EMAILS)")
		}
	}

	if cfg.SlackEnabled() {
		v.require(string(cfg.Slack.ClientSecret), "slack_oauth_client_secret", "SLACK_OAUTH_CLIENT_SECRET")
		v.require(cfg.Slack.RedirectURL, "slack_oauth_redirect_url", "SLACK_OAUTH_REDIRECT_URL")
		if len(cfg.Slack.WhitelistedDomains) == 0 {
			v.problem("missing slack_whitelisted_domains (SLACK_WHITELISTED_DOMAINS)")
		}
	}

	if cfg.EmailEnabled() {
		v.require(cfg.Email.SMTP.Host, "email.smtp.host", "EMAIL_SMTP_HOST")
		v.require(cfg.Email.SMTP.MailFrom, "email.smtp.mail_from", "EMAIL_SMTP_MAIL_FROM")
		if cfg.Email.SMTP.Port <= 0 {
			v.problem("email.smtp.port must be positive (EMAIL_SMTP_PORT)")
		}
	}

	if !cfg.GoogleEnabled() && !cfg.SlackEnabled() && !cfg.EmailEnabled() {
		v.problem("no identity provider configured: set google_oauth_client_id, slack_oauth_client_id or email.users_list")
	}

	if len(v.problems) > 0 {
		return &ValidationError{Problems: v.problems}
	}

	for target, methods := range cfg.WhitelistedURLs {
		if len(methods) == 0 {
			log.LogWarnWithFields("config", "Whitelisted URL admits every method", map[string]any{
				"url": target,
			})
		}
	}
	return nil
}

type validator struct {
	problems []string
}

func (v *validator) require(value, key, envVar string) {
	if strings.TrimSpace(value) == "" {
		v.problem(fmt.Sprintf("missing %s (%s)", key, envVar))
	}
}

func (v *validator) problem(msg string) {
	v.problems = append(v.problems, msg)
}
