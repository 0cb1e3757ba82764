package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username.
	From string
}

// SMTPNotifier sends mail through an authenticated SMTP relay.
type SMTPNotifier struct {
	cfg SMTPConfig
}

// NewSMTPNotifier builds an SMTPNotifier. A connection is opened per message.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Send(ctx context.Context, s Share) error {
	msg, err := n.message(s)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// message builds the MIME message. The relay account is always the envelope
// sender; the optional user supplied sender only becomes Reply-To.
func (n *SMTPNotifier) message(s Share) (*mail.Msg, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	html, text, err := Render(s)
	if err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(s.Recipient); err != nil {
		return nil, ErrInvalidAddress
	}
	if s.Sender != "" {
		if err := msg.ReplyTo(s.Sender); err != nil {
			return nil, ErrInvalidAddress
		}
	}
	msg.Subject(s.Subject())
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}
