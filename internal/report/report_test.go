package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"MailFlow/internal/models"
)

func TestRedactMasksSensitiveKeys(t *testing.T) {
	out := Redact(map[string]any{
		"campaign":      "q3",
		"password":      "hunter2",
		"API_KEY":       "sk-123",
		"smtp_password": "secret",
	})

	assert.Equal(t, "q3", out["campaign"])
	assert.Equal(t, "***", out["password"])
	assert.Equal(t, "***", out["API_KEY"])
	assert.Equal(t, "***", out["smtp_password"])
}

func TestRedactEmpty(t *testing.T) {
	assert.Nil(t, Redact(nil))
	assert.Nil(t, Redact(map[string]any{}))
}

func TestRenderHTMLIncludesSummary(t *testing.T) {
	m := NewMailer("localhost", 1025, "", "", "reports@example.com", "ops@example.com", zap.NewNop())
	start := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	html := m.renderHTML(Summary{
		WorkflowName: "Daily Outreach",
		RunID:        "run-42",
		Status:       models.RunPartialSuccess,
		Processed:    8,
		Failed:       2,
		Skipped:      1,
		StartedAt:    start,
		FinishedAt:   start.Add(95 * time.Second),
		Context:      map[string]any{"password": "x", "campaign": "q3"},
		Recipients: []RecipientOutcome{
			{Email: "a@example.com", Status: "success"},
			{Email: "b@example.com", Status: "failed", Error: "550 rejected"},
		},
	})

	assert.Contains(t, html, "Daily Outreach")
	assert.Contains(t, html, "run-42")
	assert.Contains(t, html, "Partial Success")
	assert.Contains(t, html, "1m 35s")
	assert.Contains(t, html, "***")
	assert.NotContains(t, html, "x</td>", "sensitive values never appear")
	assert.Contains(t, html, "b@example.com")
	assert.Contains(t, html, "550 rejected")
}

func TestStatusLabels(t *testing.T) {
	assert.Equal(t, "Completed", statusLabel(models.RunSuccess))
	assert.Equal(t, "Timed Out", statusLabel(models.RunTimedOut))
	assert.Equal(t, "Failed", statusLabel(models.RunFailed))
	assert.Equal(t, "running", statusLabel(models.RunRunning))
}

func TestFormatDuration(t *testing.T) {
	base := time.Now()
	assert.Equal(t, "45s", formatDuration(base, base.Add(45*time.Second)))
	assert.Equal(t, "2m 5s", formatDuration(base, base.Add(125*time.Second)))
}
