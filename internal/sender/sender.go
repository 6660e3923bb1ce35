package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"MailFlow/internal/models"
)

// Message is the uniform send contract every provider variant accepts.
type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	HTML     string
	Text     string
	ReplyTo  string
	Headers  map[string]string
}

// Sender delivers a single message through one configured provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Build selects and constructs the provider variant for an engine config.
// Required fields are checked per kind up front so a misconfigured engine
// fails the run before any recipient is touched. Unknown kinds fall back to
// plain SMTP.
func Build(cfg *models.EngineConfig, log *zap.Logger) (Sender, error) {
	if cfg.Status != "active" {
		return nil, fmt.Errorf("engine %q is not active", cfg.Name)
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("engine %q: missing from_email", cfg.Name)
	}

	switch cfg.Kind {
	case models.EngineMailgun:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("engine %q: mailgun requires api_key", cfg.Name)
		}
		return newMailgunSender(cfg, log), nil

	case models.EngineSendGrid:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("engine %q: sendgrid requires api_key", cfg.Name)
		}
		return newSendGridSender(cfg, log), nil

	case models.EngineSESRelay:
		if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("engine %q: ses relay requires host, username and password", cfg.Name)
		}
		return newSMTPSender(cfg, log), nil

	case models.EngineSMTP:
		fallthrough
	default:
		if cfg.Host == "" {
			return nil, fmt.Errorf("engine %q: smtp requires host", cfg.Name)
		}
		return newSMTPSender(cfg, log), nil
	}
}
