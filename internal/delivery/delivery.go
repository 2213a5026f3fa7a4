// Package delivery sends finished newsletters by email.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/asaskevich/govalidator"

	"github.com/mohammad-safakhou/newsletter-agent/config"
)

var ErrInvalidRecipient = errors.New("invalid recipient address")

// Message is one outgoing newsletter.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m Message) validate() error {
	if !govalidator.IsEmail(m.To) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, m.To)
	}
	if strings.TrimSpace(m.HTML) == "" {
		return errors.New("message has no html body")
	}
	return nil
}

// Receipt describes an accepted message.
type Receipt struct {
	OK        bool   `json:"ok"`
	Provider  string `json:"provider"`
	To        string `json:"to,omitempty"`
	Subject   string `json:"subject,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Transport hands a message to a mail system.
type Transport interface {
	Name() string
	Send(ctx context.Context, m Message) (Receipt, error)
}

// New builds the transport named by cfg.Transport.
func New(cfg config.DeliveryConfig) (Transport, error) {
	switch cfg.Transport {
	case "", "mock":
		return NewMock(), nil
	case "smtp":
		return NewSMTP(cfg.SMTP)
	default:
		return nil, fmt.Errorf("unknown delivery transport %q", cfg.Transport)
	}
}

// Mock accepts every valid message without sending it.
type Mock struct {
	mu   sync.Mutex
	sent []Message
}

func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string { return "mock" }

func (m *Mock) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := msg.validate(); err != nil {
		return Receipt{}, err
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return Receipt{OK: true, Provider: "mock", To: msg.To, Subject: msg.Subject}, nil
}

// Sent returns the accepted messages in order.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}
