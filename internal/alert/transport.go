// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"github.com/ManuGH/firewatch/internal/log"
)

// Transport delivers a notification. Implementations must honour ctx and
// must not retry.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// SMTPConfig configures SMTPTransport.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLSPolicy   string // mandatory, opportunistic, none
	ImplicitTLS bool
	Timeout     time.Duration
}

// SMTPTransport sends mail through go-mail.
type SMTPTransport struct {
	cfg SMTPConfig
}

// NewSMTPTransport validates cfg.
func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if _, err := tlsPolicy(cfg.TLSPolicy); err != nil {
		return nil, err
	}
	return &SMTPTransport{cfg: cfg}, nil
}

func (t *SMTPTransport) Name() string { return "smtp" }

func tlsPolicy(p string) (mail.TLSPolicy, error) {
	switch p {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	default:
		return mail.NoTLS, fmt.Errorf("unknown smtp tls policy %q", p)
	}
}

// Message builds the go-mail message for n.
func (t *SMTPTransport) Message(n Notification) (*mail.Msg, error) {
	m := mail.NewMsg()
	if n.FromName != "" {
		if err := m.FromFormat(n.FromName, n.From); err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
	} else if err := m.From(n.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(n.Recipients...); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject(n.Subject)
	m.SetBodyString(mail.TypeTextPlain, n.Body)
	if n.Attachment != "" {
		m.AttachFile(n.Attachment, mail.WithFileName(n.AttachmentName))
	}
	return m, nil
}

// Deliver dials, authenticates and sends one message.
func (t *SMTPTransport) Deliver(ctx context.Context, n Notification) error {
	msg, err := t.Message(n)
	if err != nil {
		return err
	}
	policy, _ := tlsPolicy(t.cfg.TLSPolicy)
	opts := []mail.Option{
		mail.WithPort(t.cfg.Port),
		mail.WithTLSPolicy(policy),
	}
	if t.cfg.ImplicitTLS {
		opts = append(opts, mail.WithSSL())
	}
	if t.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.cfg.Timeout))
	}
	if t.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.cfg.Username),
			mail.WithPassword(t.cfg.Password),
		)
	}
	client, err := mail.NewClient(t.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogTransport writes alerts to the log. It is the fallback when no mail
// server is configured.
type LogTransport struct {
	logger zerolog.Logger
}

// NewLogTransport creates a LogTransport.
func NewLogTransport() *LogTransport {
	return &LogTransport{logger: log.WithComponent("alert")}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Warn().
		Str(log.FieldEvent, "alert.logged").
		Str(log.FieldRequestID, n.RequestID).
		Str(log.FieldSource, n.Source).
		Strs("recipients", n.Recipients).
		Str("subject", n.Subject).
		Str("attachment", n.Attachment).
		Msg("fire alert")
	return nil
}

// FuncTransport adapts a function, mainly for tests and embedding.
type FuncTransport struct {
	ID string
	Fn func(ctx context.Context, n Notification) error
}

func (t FuncTransport) Name() string { return t.ID }

func (t FuncTransport) Deliver(ctx context.Context, n Notification) error { return t.Fn(ctx, n) }
