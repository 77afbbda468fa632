// Package mailer delivers outbound mail for magic-link sign in.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	mail "github.com/go-mail/mail"

	"github.com/otwarte/ops-oauth2/internal/config"
	"github.com/otwarte/ops-oauth2/internal/log"
)

// Sender sends a single message with an HTML body and a plain text
// alternative.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	from   string
	dialer *mail.Dialer
	send   func(*mail.Message) error
}

// NewSMTPSender builds a sender from the SMTP section of the config.
// Port 465 uses implicit TLS, any other port negotiates STARTTLS when the
// server offers it.
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, string(cfg.Password))
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	d.Timeout = 10 * time.Second
	if cfg.Domain != "" {
		d.LocalName = cfg.Domain
	}

	s := &SMTPSender{from: cfg.MailFrom, dialer: d}
	s.send = func(m *mail.Message) error { return d.DialAndSend(m) }
	return s
}

// Send implements Sender.
func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	log.LogDebugWithFields("mailer", "Sending mail", map[string]any{
		"host":    s.dialer.Host,
		"port":    s.dialer.Port,
		"to":      to,
		"subject": subject,
	})

	if err := s.send(s.message(to, subject, htmlBody, textBody)); err != nil {
		log.LogErrorWithFields("mailer", "SMTP delivery failed", map[string]any{
			"to":    to,
			"error": err.Error(),
		})
		return fmt.Errorf("smtp send: %w", err)
	}

	log.LogInfoWithFields("mailer", "Mail delivered", map[string]any{"to": to})
	return nil
}

func (s *SMTPSender) message(to, subject, htmlBody, textBody string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	switch {
	case textBody != "" && htmlBody != "":
		m.SetBody("text/plain", textBody)
		m.AddAlternative("text/html", htmlBody)
	case htmlBody != "":
		m.SetBody("text/html", htmlBody)
	default:
		m.SetBody("text/plain", textBody)
	}
	return m
}
