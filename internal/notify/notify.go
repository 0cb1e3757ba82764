// Package notify delivers "a file was shared with you" e-mails. Without SMTP
// credentials the LogNotifier stands in and only logs the rendered message.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	htmltemplate "html/template"
	"net/mail"
	texttemplate "text/template"

	"github.com/rs/zerolog"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTmpl = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/share.html"))
	textTmpl = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/share.txt"))
)

// ErrInvalidAddress is returned for a recipient or sender that does not parse
// as an e-mail address.
var ErrInvalidAddress = errors.New("invalid e-mail address")

// Share describes one notification.
type Share struct {
	ShareURL  string
	Recipient string
	// Sender is optional and shown in the body and Reply-To.
	Sender   string
	FileName string
}

// DisplayName is the file name shown in the message.
func (s Share) DisplayName() string {
	if s.FileName == "" {
		return "Shared File"
	}
	return s.FileName
}

// Subject returns the message subject line.
func (s Share) Subject() string {
	name := s.FileName
	if name == "" {
		name = "Download"
	}
	return "File shared with you: " + name
}

// Validate checks the addresses.
func (s Share) Validate() error {
	if _, err := mail.ParseAddress(s.Recipient); err != nil {
		return ErrInvalidAddress
	}
	if s.Sender != "" {
		if _, err := mail.ParseAddress(s.Sender); err != nil {
			return ErrInvalidAddress
		}
	}
	return nil
}

// Notifier sends a share notification.
type Notifier interface {
	Send(ctx context.Context, s Share) error
}

// Render returns the HTML and plain text bodies.
func Render(s Share) (html, text string, err error) {
	var hb, tb bytes.Buffer
	if err := htmlTmpl.Execute(&hb, s); err != nil {
		return "", "", err
	}
	if err := textTmpl.Execute(&tb, s); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}

// LogNotifier writes the message to the log instead of sending it.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, s Share) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, text, err := Render(s)
	if err != nil {
		return err
	}
	n.log.Info().
		Str("to", s.Recipient).
		Str("subject", s.Subject()).
		Str("body", text).
		Msg("smtp not configured, e-mail logged only")
	return nil
}
