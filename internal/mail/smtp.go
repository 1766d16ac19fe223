// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

// Package mail delivers single-use token emails over SMTP.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"gopkg.in/gomail.v2"

	"github.com/plateful/identity/internal/auth"
	"github.com/plateful/identity/internal/observability"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the sender address on outgoing mail.
	From string
	// SendRetries is how many times a failed send is retried with
	// constant backoff. Zero disables retrying.
	SendRetries uint64
	// RetryBackoff is the delay between send attempts.
	RetryBackoff time.Duration
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Host == "" {
		return oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp port must be in 1-65535, got %d", c.Port)
	}
	if c.From == "" {
		return oops.Code("MAIL_CONFIG_INVALID").Errorf("from address is required")
	}
	return nil
}

// sender abstracts gomail's dialer so tests can run without an SMTP server.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer implements auth.Mailer over SMTP using gomail.
type SMTPMailer struct {
	sender  sender
	from    string
	retries uint64
	backoff time.Duration
	tmpl    *template.Template
	logger  *slog.Logger
}

// NewSMTPMailer creates a mailer that connects to the configured SMTP server.
func NewSMTPMailer(cfg Config, logger *slog.Logger) (*SMTPMailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := template.ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_FAILED").
			With("operation", "parse mail templates").
			Wrap(err)
	}

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &SMTPMailer{
		sender:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		retries: cfg.SendRetries,
		backoff: backoff,
		tmpl:    tmpl,
		logger:  logger,
	}, nil
}

// bodyData is the template context for token emails.
type bodyData struct {
	Name  string
	Token string
	TTL   string
}

// SendPasswordReset delivers a password reset token to the address.
func (m *SMTPMailer) SendPasswordReset(ctx context.Context, email, name, token string) error {
	return m.send(ctx, "password_reset", email, "Reset your Plateful password",
		"password_reset.html.tmpl", bodyData{
			Name:  name,
			Token: token,
			TTL:   formatTTL(auth.PurposePasswordReset.TTL()),
		})
}

// SendEmailVerification delivers an email verification token to the address.
func (m *SMTPMailer) SendEmailVerification(ctx context.Context, email, name, token string) error {
	return m.send(ctx, "email_verification", email, "Verify your Plateful email address",
		"email_verification.html.tmpl", bodyData{
			Name:  name,
			Token: token,
			TTL:   formatTTL(auth.PurposeEmailVerification.TTL()),
		})
}

// send renders one template and dispatches the message, retrying transient
// SMTP failures. The token itself is never logged.
func (m *SMTPMailer) send(ctx context.Context, kind, to, subject, templateName string, data bodyData) error {
	var body bytes.Buffer
	if err := m.tmpl.ExecuteTemplate(&body, templateName, data); err != nil {
		return oops.Code("MAIL_TEMPLATE_FAILED").
			With("operation", "render mail body").
			With("template", templateName).
			Wrap(err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())

	attempt := 0
	b := retry.WithMaxRetries(m.retries, retry.NewConstant(m.backoff))
	err := retry.Do(ctx, b, func(_ context.Context) error {
		attempt++
		if sendErr := m.sender.DialAndSend(msg); sendErr != nil {
			m.logger.Warn("mail send attempt failed",
				"kind", kind,
				"attempt", attempt,
				"error", sendErr)
			return retry.RetryableError(sendErr)
		}
		return nil
	})
	if err != nil {
		observability.RecordMailDispatch(kind, "failure")
		return oops.Code("MAIL_SEND_FAILED").
			With("kind", kind).
			With("attempts", attempt).
			Wrap(err)
	}
	observability.RecordMailDispatch(kind, "success")
	return nil
}

// formatTTL renders a token lifetime for email copy ("1 hour", "24 hours").
func formatTTL(d time.Duration) string {
	hours := int(d.Hours())
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
