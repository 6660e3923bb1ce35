package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"MailFlow/internal/models"
)

// SMTPSender delivers through an authenticated mail relay. DialAndSend is a
// blocking protocol exchange, so Send runs it on its own goroutine and
// honors context cancellation while waiting.
type SMTPSender struct {
	dialer *gomail.Dialer
	log    *zap.Logger
}

func newSMTPSender(cfg *models.EngineConfig, log *zap.Logger) *SMTPSender {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password),
		log:    log,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMessage()
	if msg.FromName != "" {
		m.SetHeader("From", m.FormatAddress(msg.From, msg.FromName))
	} else {
		m.SetHeader("From", msg.From)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}
	// Normal priority and a clean mailer id keep relays from flagging batches.
	m.SetHeader("X-Priority", "3")
	m.SetHeader("X-Mailer", "MailFlow")

	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", msg.To, err)
		}
		return nil
	}
}
