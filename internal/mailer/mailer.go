package mailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wneessen/go-mail"

	"calnews/internal/config"
	appLog "calnews/internal/log"
)

// Message is one outbound newsletter.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	// Text is the plain-text alternative; optional.
	Text string
}

// Sender abstracts email delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

// NewSMTPSender creates a sender for the given relay. timeout bounds the
// dial and every SMTP command.
func NewSMTPSender(cfg config.SMTPConfig, timeout time.Duration) *SMTPSender {
	return &SMTPSender{cfg: cfg, timeout: timeout}
}

// Send dials the relay, delivers msg and closes the connection.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := BuildMessage(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("mailer: client for %s: %w", s.cfg.Host, err)
	}

	appLog.Info("smtp send start", "host", s.cfg.Host, "port", s.cfg.Port, "tls", s.cfg.TLS, "recipients", len(msg.To))
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("mailer: sending via %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	appLog.Info("smtp send success", "host", s.cfg.Host, "subject", msg.Subject)
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithTLSPolicy(tlsPolicy(s.cfg.TLS)),
		mail.WithPort(s.cfg.Port),
	}
	if s.timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.timeout))
	}
	// The relay in the stock config accepts unauthenticated mail on port 25;
	// AUTH is only attempted once a password is configured.
	if s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(authType(s.cfg.TLS)),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// authType picks PLAIN for TLS relays. go-mail refuses PLAIN on a cleartext
// connection, so a relay configured with tls "none" gets the unencrypted
// variant the operator asked for.
func authType(tls string) mail.SMTPAuthType {
	if tlsPolicy(tls) == mail.NoTLS {
		return mail.SMTPAuthPlainNoEnc
	}
	return mail.SMTPAuthPlain
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch name {
	case "mandatory":
		return mail.TLSMandatory
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}

// BuildMessage converts msg into a MIME message with the HTML body as the
// preferred alternative.
func BuildMessage(msg Message) (*mail.Msg, error) {
	if msg.HTML == "" {
		return nil, errors.New("mailer: empty HTML body")
	}
	if len(msg.To) == 0 {
		return nil, errors.New("mailer: no recipients")
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("mailer: from %q: %w", msg.From, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("mailer: to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()

	if msg.Text != "" {
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	} else {
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// FileSender writes the HTML body to Path instead of sending it. It backs
// dry runs and previews.
type FileSender struct {
	Path string
}

func (f FileSender) Send(_ context.Context, msg Message) error {
	if f.Path == "" {
		return errors.New("mailer: output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(f.Path, []byte(msg.HTML), 0o644); err != nil {
		return fmt.Errorf("mailer: writing %s: %w", f.Path, err)
	}
	appLog.Info("newsletter written", "path", f.Path, "subject", msg.Subject, "recipients", len(msg.To))
	return nil
}
