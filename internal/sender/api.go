package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"MailFlow/internal/models"
)

const apiSendTimeout = 30 * time.Second

// MailgunSender posts to the Mailgun messages API with HTTP basic auth.
// The sending domain comes from the engine host field, falling back to the
// from address's domain.
type MailgunSender struct {
	apiKey string
	domain string
	http   *http.Client
	log    *zap.Logger
}

func newMailgunSender(cfg *models.EngineConfig, log *zap.Logger) *MailgunSender {
	domain := cfg.Host
	if domain == "" {
		if at := strings.LastIndex(cfg.FromEmail, "@"); at >= 0 {
			domain = cfg.FromEmail[at+1:]
		}
	}
	return &MailgunSender{
		apiKey: cfg.APIKey,
		domain: domain,
		http:   &http.Client{Timeout: apiSendTimeout},
		log:    log,
	}
}

func (s *MailgunSender) Send(ctx context.Context, msg Message) error {
	form := url.Values{}
	form.Set("from", formatAddress(msg.From, msg.FromName))
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("html", msg.HTML)
	if msg.Text != "" {
		form.Set("text", msg.Text)
	}
	if msg.ReplyTo != "" {
		form.Set("h:Reply-To", msg.ReplyTo)
	}
	for k, v := range msg.Headers {
		form.Set("h:"+k, v)
	}

	endpoint := fmt.Sprintf("https://api.mailgun.net/v3/%s/messages", s.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth("api", s.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return s.checkResponse(req, msg.To)
}

func (s *MailgunSender) checkResponse(req *http.Request, to string) error {
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun send to %s: %w", to, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailgun send to %s: status %d: %s", to, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// SendGridSender posts the v3 mail/send JSON payload with a bearer key.
type SendGridSender struct {
	apiKey string
	http   *http.Client
	log    *zap.Logger
}

func newSendGridSender(cfg *models.EngineConfig, log *zap.Logger) *SendGridSender {
	return &SendGridSender{
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: apiSendTimeout},
		log:    log,
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	type address struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	}
	type content struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []address{{Email: msg.To}}},
		},
		"from":    address{Email: msg.From, Name: msg.FromName},
		"subject": msg.Subject,
	}
	var parts []content
	if msg.Text != "" {
		parts = append(parts, content{Type: "text/plain", Value: msg.Text})
	}
	parts = append(parts, content{Type: "text/html", Value: msg.HTML})
	payload["content"] = parts
	if msg.ReplyTo != "" {
		payload["reply_to"] = address{Email: msg.ReplyTo}
	}
	if len(msg.Headers) > 0 {
		payload["headers"] = msg.Headers
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.sendgrid.com/v3/mail/send", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid send to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendgrid send to %s: status %d: %s", msg.To, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func formatAddress(email, name string) string {
	if name == "" {
		return email
	}
	addr := mail.Address{Name: name, Address: email}
	return addr.String()
}
