// Package mail delivers buyer notifications over SMTP.
package mail

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2/log"
	"gopkg.in/gomail.v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// Sender is implemented by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Notifier struct {
	from   string
	sender Sender
}

func NewNotifier(cfg config.SMTPConfig) *Notifier {
	return &Notifier{
		from:   cfg.From,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// NewNotifierWithSender is used with a custom transport.
func NewNotifierWithSender(from string, s Sender) *Notifier {
	return &Notifier{from: from, sender: s}
}

func (n *Notifier) Send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("recipient is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := n.sender.DialAndSend(m); err != nil {
		log.Warnf("[Mail] Failed to send %q to %s: %v", subject, to, err)
		return err
	}
	log.Debugf("[Mail] Sent %q to %s", subject, to)
	return nil
}

// LogNotifier only logs messages. Used when SMTP is not configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, to, subject, _ string) error {
	log.Infof("[Mail] SMTP disabled, would send %q to %s", subject, to)
	return nil
}
