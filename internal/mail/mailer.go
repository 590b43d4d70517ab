// Package mail delivers contact submissions over SMTP.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	gomail "github.com/wneessen/go-mail"

	"github.com/serroba/proto-clique/internal/contact"
)

// TLS modes.
const (
	TLSModeSSL      = "ssl"
	TLSModeStartTLS = "starttls"
	TLSModeNone     = "none"
)

// Config describes the SMTP relay and the envelope of outgoing messages.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLSMode  string
	Timeout  time.Duration

	From string
	// FromName overrides the display name of the sender. When empty the
	// submitter's name is used.
	FromName string
	To       []string
	Subject  string
}

// DefaultConfig mirrors the provider the site was set up with.
func DefaultConfig() Config {
	return Config{
		Host:    "smtps.aruba.it",
		Port:    465,
		TLSMode: TLSModeSSL,
		Timeout: 15 * time.Second,
		From:    "prototipazione@cliquesrl.it",
		Subject: "Nuovo progetto dal sito",
	}
}

// Validate checks that the configuration can be used to send mail.
func (c Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("smtp host is required"))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid smtp port: %d", c.Port))
	}

	switch c.TLSMode {
	case TLSModeSSL, TLSModeStartTLS, TLSModeNone:
	default:
		errs = append(errs, fmt.Errorf("invalid tls mode %q, must be %q, %q or %q",
			c.TLSMode, TLSModeSSL, TLSModeStartTLS, TLSModeNone))
	}

	if c.From == "" {
		errs = append(errs, errors.New("sender address is required"))
	}

	if len(c.To) == 0 {
		errs = append(errs, errors.New("at least one recipient is required"))
	}

	return errors.Join(errs...)
}

// SMTPMailer implements contact.Mailer using go-mail.
type SMTPMailer struct {
	cfg Config
}

// NewSMTPMailer creates a mailer after validating cfg.
func NewSMTPMailer(cfg Config) (*SMTPMailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &SMTPMailer{cfg: cfg}, nil
}

// Compose builds the message for a submission: plain text body with the
// submitted fields and one attachment per uploaded file.
func Compose(cfg Config, sub *contact.Submission) (*gomail.Msg, error) {
	msg := gomail.NewMsg()

	name := cfg.FromName
	if name == "" {
		name = sub.Name
	}

	if err := msg.FromFormat(name, cfg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}

	if err := msg.To(cfg.To...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}

	if sub.Email != "" {
		if err := msg.ReplyTo(sub.Email); err != nil {
			return nil, fmt.Errorf("set reply-to: %w", err)
		}
	}

	msg.Subject(cfg.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, Body(sub))
	msg.AddAlternativeString(gomail.TypeTextHTML, HTMLBody(sub))

	for _, a := range sub.Attachments {
		var opts []gomail.FileOption
		if a.ContentType != "" {
			opts = append(opts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}

		if err := msg.AttachReader(a.Filename, bytes.NewReader(a.Content), opts...); err != nil {
			return nil, fmt.Errorf("attach %s: %w", a.Filename, err)
		}
	}

	return msg, nil
}

// Body renders the plain text body.
func Body(sub *contact.Submission) string {
	return fmt.Sprintf("Nome: %s\nEmail: %s\nTelefono: %s\nMessaggio: %s",
		sub.Name, sub.Email, sub.Phone, sub.Message)
}

var htmlPolicy = bluemonday.UGCPolicy()

// HTMLBody renders the same fields as Body for mail clients preferring HTML.
// Field values are escaped, so they always show up as text.
func HTMLBody(sub *contact.Submission) string {
	var b strings.Builder

	b.WriteString("<div>\n")

	for _, f := range []struct{ label, value string }{
		{"Nome", sub.Name},
		{"Email", sub.Email},
		{"Telefono", sub.Phone},
		{"Messaggio", sub.Message},
	} {
		value := strings.ReplaceAll(html.EscapeString(f.value), "\n", "<br>\n")
		fmt.Fprintf(&b, "<p><strong>%s:</strong>\n%s</p>\n", f.label, value)
	}

	b.WriteString("</div>")

	return htmlPolicy.Sanitize(b.String())
}

// Send composes the message and hands it to the SMTP relay.
func (m *SMTPMailer) Send(ctx context.Context, sub *contact.Submission) error {
	msg, err := Compose(m.cfg, sub)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(m.cfg.Host, m.clientOptions()...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}

	return client.DialAndSendWithContext(ctx, msg)
}

func (m *SMTPMailer) clientOptions() []gomail.Option {
	opts := []gomail.Option{
		gomail.WithPort(m.cfg.Port),
	}

	if m.cfg.Timeout > 0 {
		opts = append(opts, gomail.WithTimeout(m.cfg.Timeout))
	}

	switch m.cfg.TLSMode {
	case TLSModeSSL:
		opts = append(opts, gomail.WithSSL())
	case TLSModeStartTLS:
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	case TLSModeNone:
		opts = append(opts, gomail.WithTLSPolicy(gomail.NoTLS))
	}

	if m.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.cfg.Username),
			gomail.WithPassword(m.cfg.Password),
		)
	}

	return opts
}

// Compile-time check.
var _ contact.Mailer = (*SMTPMailer)(nil)
