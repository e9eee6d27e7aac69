package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/gomail.v2"

	"ms-tickets/internal/logger"
)

var ErrNoRecipient = errors.New("mail has no recipient")

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          string
	ToName      string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Dialer is satisfied by *gomail.Dialer.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type Mailer struct {
	dialer   Dialer
	from     string
	fromName string
	log      *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Mailer {
	return NewWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg, log)
}

func NewWithDialer(d Dialer, cfg Config, log *logger.Logger) *Mailer {
	return &Mailer{dialer: d, from: cfg.From, fromName: cfg.FromName, log: log}
}

// Send delivers one message. gomail has no context support, so ctx is only
// checked before dialing.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", gm.FormatAddress(m.from, m.fromName))
	if msg.ToName != "" {
		gm.SetHeader("To", gm.FormatAddress(msg.To, msg.ToName))
	} else {
		gm.SetHeader("To", msg.To)
	}
	gm.SetHeader("Subject", msg.Subject)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		gm.SetBody("text/plain", msg.TextBody)
		gm.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		gm.SetBody("text/html", msg.HTMLBody)
	default:
		gm.SetBody("text/plain", msg.TextBody)
	}

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {a.ContentType}}))
		}
		gm.Attach(a.Filename, settings...)
	}

	if err := m.dialer.DialAndSend(gm); err != nil {
		m.log.Error("MAIL", fmt.Sprintf("Delivery to %s failed: %v", msg.To, err))
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	m.log.LogMail(msg.To, fmt.Sprintf("sent %q with %d attachment(s)", msg.Subject, len(msg.Attachments)))
	return nil
}
