package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/mohammad-safakhou/newsletter-agent/config"
)

// SMTP delivers through a mail relay.
type SMTP struct {
	cfg  config.SMTPConfig
	from string
}

func NewSMTP(cfg config.SMTPConfig) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply"
	}
	if !strings.Contains(from, "@") {
		from += "@" + cfg.Host
	}
	return &SMTP{cfg: cfg, from: from}, nil
}

func (*SMTP) Name() string { return "smtp" }

func (s *SMTP) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.User),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

func (s *SMTP) message(m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextHTML, m.HTML)
	return msg, nil
}

func (s *SMTP) Send(ctx context.Context, m Message) (Receipt, error) {
	if err := m.validate(); err != nil {
		return Receipt{}, err
	}
	msg, err := s.message(m)
	if err != nil {
		return Receipt{}, err
	}
	c, err := s.client()
	if err != nil {
		return Receipt{}, fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return Receipt{}, fmt.Errorf("smtp send: %w", err)
	}
	r := Receipt{OK: true, Provider: "smtp", To: m.To, Subject: m.Subject}
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		r.MessageID = ids[0]
	}
	return r, nil
}
