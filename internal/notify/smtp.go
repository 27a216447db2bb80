// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package notify

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/wneessen/go-mail"
)

// TLS modes for SMTPConfig.TLS.
const (
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "tls"
	TLSModeNone     = "none"
)

// SMTPConfig configures the SMTP mailer.
type SMTPConfig struct {
	Host     string        `koanf:"host"`
	Port     int           `koanf:"port"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
	From     string        `koanf:"from"`
	FromName string        `koanf:"from_name"`
	TLS      string        `koanf:"tls"`
	Timeout  time.Duration `koanf:"timeout"`

	// Attempts bounds delivery tries for transient failures.
	Attempts uint64 `koanf:"attempts"`
}

// SMTPMailer sends mail over SMTP with go-mail.
type SMTPMailer struct {
	cfg    SMTPConfig
	client *mail.Client
}

// NewSMTPMailer validates cfg and builds a client. No connection is made
// until the first Send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, oops.Code("SMTP_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, oops.Code("SMTP_CONFIG_INVALID").Errorf("from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}

	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTimeout(cfg.Timeout)}
	switch cfg.TLS {
	case "", TLSModeStartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	case TLSModeNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		return nil, oops.Code("SMTP_CONFIG_INVALID").With("tls", cfg.TLS).Errorf("tls must be starttls, tls or none")
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("SMTP_CONFIG_INVALID").With("host", cfg.Host).Wrap(err)
	}
	return &SMTPMailer{cfg: cfg, client: client}, nil
}

// Send delivers msg, retrying temporary SMTP failures with backoff.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	mm, err := m.build(msg)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(m.cfg.Attempts-1, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		sendErr := m.client.DialAndSendWithContext(ctx, mm)
		if sendErr == nil {
			return nil
		}
		var se *mail.SendError
		if errors.As(sendErr, &se) && !se.IsTemp() {
			return sendErr
		}
		return retry.RetryableError(sendErr)
	})
	if err != nil {
		return oops.Code("SMTP_SEND_FAILED").
			With("host", m.cfg.Host).
			With("subject", msg.Subject).
			Wrap(err)
	}
	return nil
}

// build assembles the MIME message: plain text body with an HTML
// alternative.
func (m *SMTPMailer) build(msg Message) (*mail.Msg, error) {
	mm := mail.NewMsg()
	if err := mm.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return nil, oops.Code("SMTP_MESSAGE_INVALID").With("field", "from").Wrap(err)
	}
	if err := mm.To(msg.To); err != nil {
		return nil, oops.Code("SMTP_MESSAGE_INVALID").With("field", "to").Wrap(err)
	}
	mm.Subject(msg.Subject)
	mm.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		mm.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return mm, nil
}
