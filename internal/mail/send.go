package mail

import (
	"context"
	"fmt"
	"log/slog"

	gomail "github.com/wneessen/go-mail"

	"github.com/iliyamo/auth-service/internal/config"
)

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends through an SMTP relay.  Each message gets its own client
// and connection, so concurrent deliveries share no connection state.
// Account emails are rare enough that pooling buys nothing.
type SMTPSender struct {
	cfg  config.MailConfig
	opts []gomail.Option
	log  *slog.Logger
}

func NewSMTPSender(cfg config.MailConfig, log *slog.Logger) (*SMTPSender, error) {
	opts := []gomail.Option{gomail.WithPort(cfg.SMTPPort)}
	if cfg.SMTPSecure {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSOpportunistic))
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTPUser),
			gomail.WithPassword(cfg.SMTPPassword),
		)
	}
	s := &SMTPSender{cfg: cfg, opts: opts, log: log}
	// Fail at startup on a bad host or port rather than on the first email.
	if _, err := s.client(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SMTPSender) client() (*gomail.Client, error) {
	c, err := gomail.NewClient(s.cfg.SMTPHost, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := buildMsg(s.cfg, msg)
	if err != nil {
		return err
	}
	c, err := s.client()
	if err != nil {
		return err
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		s.log.Error("smtp send failed", "to", msg.To, "subject", msg.Subject, "err", err)
		return fmt.Errorf("smtp send: %w", err)
	}
	s.log.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

func buildMsg(cfg config.MailConfig, msg Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.FromFormat(cfg.FromName, cfg.FromAddress); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	m.Subject(msg.Subject)
	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	m.SetBodyString(gomail.TypeTextPlain, text)
	if msg.HTML != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}

// LogSender only logs that a message would have been sent.  Development and
// test runs without an SMTP host use it.  Bodies carry single-use links, so
// only the envelope is logged.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender { return &LogSender{log: log} }

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("email (not sent, no SMTP host)", "to", msg.To, "subject", msg.Subject)
	return nil
}

// NewSender picks the SMTP sender when a host is configured.
func NewSender(cfg config.MailConfig, log *slog.Logger) (Sender, error) {
	if cfg.SMTPHost == "" {
		return NewLogSender(log), nil
	}
	return NewSMTPSender(cfg, log)
}
