package report

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"MailFlow/internal/models"
)

// RecipientOutcome is one recipient's terminal result within a run.
type RecipientOutcome struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Summary is the structured result of one workflow run, handed to the
// report channel after the run reaches a terminal state.
type Summary struct {
	WorkflowName string
	RunID        string
	Status       models.RunStatus
	Processed    int
	Failed       int
	Skipped      int
	StartedAt    time.Time
	FinishedAt   time.Time
	Context      map[string]any
	Recipients   []RecipientOutcome
}

// Reporter delivers a run summary to an external notification channel.
// Delivery failures never affect the run's terminal status.
type Reporter interface {
	Report(ctx context.Context, summary Summary) error
}

// redactedKeys are context keys whose values never leave the process in
// clear text.
var redactedKeys = map[string]struct{}{
	"password":      {},
	"smtp_password": {},
	"app_password":  {},
	"api_key":       {},
	"secret":        {},
	"token":         {},
	"key":           {},
}

// Redact returns a copy of ctx with sensitive values masked.
func Redact(ctx map[string]any) map[string]any {
	if len(ctx) == 0 {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if _, sensitive := redactedKeys[strings.ToLower(k)]; sensitive {
			out[k] = "***"
		} else {
			out[k] = v
		}
	}
	return out
}

// Mailer emails an HTML run summary over SMTP.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     string
	log    *zap.Logger
}

func NewMailer(host string, port int, user, pass, from, to string, log *zap.Logger) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
		to:     to,
		log:    log,
	}
}

func (m *Mailer) Report(ctx context.Context, summary Summary) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", fmt.Sprintf("[MailFlow] %s — %s", summary.WorkflowName, statusLabel(summary.Status)))
	msg.SetBody("text/html", m.renderHTML(summary))

	done := make(chan error, 1)
	go func() {
		done <- m.dialer.DialAndSend(msg)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("report mail: %w", err)
		}
		m.log.Info("run report mailed",
			zap.String("run_id", summary.RunID),
			zap.String("to", m.to),
		)
		return nil
	}
}

func statusLabel(s models.RunStatus) string {
	switch s {
	case models.RunSuccess:
		return "Completed"
	case models.RunPartialSuccess:
		return "Partial Success"
	case models.RunFailed:
		return "Failed"
	case models.RunTimedOut:
		return "Timed Out"
	}
	return string(s)
}

func statusColor(s models.RunStatus) string {
	switch s {
	case models.RunSuccess:
		return "#4ade80"
	case models.RunPartialSuccess:
		return "#fbbf24"
	case models.RunFailed:
		return "#f87171"
	case models.RunTimedOut:
		return "#fb923c"
	}
	return "#94a3b8"
}

func formatDuration(from, to time.Time) string {
	d := int(to.Sub(from).Seconds())
	if d < 60 {
		return fmt.Sprintf("%ds", d)
	}
	return fmt.Sprintf("%dm %ds", d/60, d%60)
}

func (m *Mailer) renderHTML(s Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, `<div style="font-family:sans-serif;max-width:640px">`)
	fmt.Fprintf(&b, `<h2 style="color:%s">%s — %s</h2>`,
		statusColor(s.Status), html.EscapeString(s.WorkflowName), statusLabel(s.Status))
	fmt.Fprintf(&b, `<p>Run <code>%s</code> finished in %s.</p>`,
		html.EscapeString(s.RunID), formatDuration(s.StartedAt, s.FinishedAt))

	fmt.Fprintf(&b, `<table cellpadding="6" style="border-collapse:collapse">`)
	fmt.Fprintf(&b, `<tr><td>Processed</td><td><b>%d</b></td></tr>`, s.Processed)
	fmt.Fprintf(&b, `<tr><td>Failed</td><td><b>%d</b></td></tr>`, s.Failed)
	fmt.Fprintf(&b, `<tr><td>Skipped (invalid)</td><td><b>%d</b></td></tr>`, s.Skipped)
	fmt.Fprintf(&b, `</table>`)

	if len(s.Context) > 0 {
		redacted := Redact(s.Context)
		keys := make([]string, 0, len(redacted))
		for k := range redacted {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(&b, `<h3>Run context</h3><table cellpadding="4" style="border-collapse:collapse;font-size:13px">`)
		for _, k := range keys {
			fmt.Fprintf(&b, `<tr><td>%s</td><td>%s</td></tr>`,
				html.EscapeString(k), html.EscapeString(fmt.Sprint(redacted[k])))
		}
		fmt.Fprintf(&b, `</table>`)
	}

	if len(s.Recipients) > 0 {
		fmt.Fprintf(&b, `<h3>Recipients</h3><table cellpadding="4" style="border-collapse:collapse;font-size:13px">`)
		for _, r := range s.Recipients {
			fmt.Fprintf(&b, `<tr><td>%s</td><td>%s</td><td>%s</td></tr>`,
				html.EscapeString(r.Email), html.EscapeString(r.Status), html.EscapeString(r.Error))
		}
		fmt.Fprintf(&b, `</table>`)
	}

	fmt.Fprintf(&b, `</div>`)
	return b.String()
}
