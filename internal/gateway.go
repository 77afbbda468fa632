package internal

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/cookie"
	"github.com/otwarte/ops-oauth2/internal/crypto"
	"github.com/otwarte/ops-oauth2/internal/gate"
	"github.com/otwarte/ops-oauth2/internal/idp"
	"github.com/otwarte/ops-oauth2/internal/log"
	"github.com/otwarte/ops-oauth2/internal/mailer"
	"github.com/otwarte/ops-oauth2/internal/metrics"
	"github.com/otwarte/ops-oauth2/internal/policy"
	"github.com/otwarte/ops-oauth2/internal/server"
	"github.com/otwarte/ops-oauth2/internal/session"
	"github.com/otwarte/ops-oauth2/internal/urlutil"
)

const (
	shutdownTimeout = 30 * time.Second
	csrfTokenTTL    = 15 * time.Minute
)

// Gateway is the assembled auth gateway.
type Gateway struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
}

// Option customises gateway construction.
type Option func(*options)

type options struct {
	sender mailer.Sender
}

// WithSender replaces the SMTP sender used for magic links.
func WithSender(s mailer.Sender) Option {
	return func(o *options) { o.sender = s }
}

// NewGateway builds every component from a validated config.
func NewGateway(cfg config.Config, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.sender == nil && cfg.EmailEnabled() {
		o.sender = mailer.NewSMTPSender(cfg.Email.SMTP)
	}

	log.LogInfoWithFields("gateway", "Building auth gateway", map[string]any{
		"serverURL":   cfg.ServerURL,
		"environment": cfg.Environment,
		"google":      cfg.GoogleEnabled(),
		"slack":       cfg.SlackEnabled(),
		"email":       cfg.EmailEnabled(),
	})

	admission := policy.New(cfg)
	providers, err := idp.NewProviders(cfg, admission, o.sender)
	if err != nil {
		return nil, fmt.Errorf("failed to set up providers: %w", err)
	}

	m := metrics.New()
	g := gate.New(
		session.NewCodec([]byte(cfg.SharedSecret)),
		admission,
		cookie.NewJar(cfg.Cookie, cfg.IsDevelopment()),
		providers,
		cfg.DefaultRedirectPage,
		urlutil.RedirectPolicy{Domain: cfg.Cookie.Domain, AllowForeign: cfg.AllowForeignRedirects},
		m,
	)

	var links server.MagicLinkIssuer
	if email, ok := providers[idp.ProviderEmail].(*idp.EmailProvider); ok {
		links = email
	}

	csrf := crypto.NewCSRFProtection(crypto.DeriveKey([]byte(cfg.SharedSecret), "csrf"), csrfTokenTTL)
	handler := server.NewRouter(server.NewHandlers(g, links, csrf), m)
	return &Gateway{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Addr),
	}, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Run serves until ctx is cancelled, SIGINT/SIGTERM arrives or the server
// fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	log.LogInfoWithFields("gateway", "Starting auth gateway", map[string]any{
		"addr": g.config.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := g.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()

		log.LogInfoWithFields("gateway", "Starting graceful shutdown", map[string]any{
			"reason":  context.Cause(egCtx).Error(),
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return g.httpServer.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		log.LogErrorWithFields("gateway", "Gateway stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("gateway", "Auth gateway shutdown complete", nil)
	return nil
}
