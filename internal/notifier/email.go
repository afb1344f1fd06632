package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 10 * time.Second

// EmailSender delivers reminders over SMTP. STARTTLS is used when the server
// offers it; port 465 means implicit TLS.
type EmailSender struct {
	cfg      EmailConfig
	loc      *time.Location
	lowStock int
}

func NewEmailSender(cfg EmailConfig, loc *time.Location, lowStock int) (*EmailSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is empty")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	if strings.TrimSpace(cfg.From) == "" {
		cfg.From = cfg.Username
	}
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	return &EmailSender{cfg: cfg, loc: loc, lowStock: lowStock}, nil
}

func (s *EmailSender) Send(ctx context.Context, target string, r Reminder) error {
	m, err := s.message(strings.TrimSpace(target), r)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

// message renders r as a multipart/alternative mail with text and HTML parts.
func (s *EmailSender) message(to string, r Reminder) (*mail.Msg, error) {
	msg, err := Render(r, s.loc, s.lowStock)
	if err != nil {
		return nil, err
	}
	m := mail.NewMsg(mail.WithCharset(mail.CharsetUTF8), mail.WithEncoding(mail.EncodingQP))
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("smtp from address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTarget, to)
	}
	at := r.SentAt
	if at.IsZero() {
		at = time.Now()
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(at)
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}

// client builds a fresh SMTP client per send so parallel workers never
// share a connection.
func (s *EmailSender) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.cfg.Timeout),
		mail.WithTLSConfig(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}),
	}
	if s.cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}
