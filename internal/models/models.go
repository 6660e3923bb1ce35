package models

import "time"

type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "draft"
	WorkflowActive   WorkflowStatus = "active"
	WorkflowPaused   WorkflowStatus = "paused"
	WorkflowInactive WorkflowStatus = "inactive"
)

// Workflow is the unit of dispatch: what to send, to whom, through which engine.
// It is fetched once per run and treated as immutable for the run's duration.
type Workflow struct {
	ID         int64          `json:"id"`
	Key        string         `json:"workflow_key"`
	Name       string         `json:"name"`
	Status     WorkflowStatus `json:"status"`
	TemplateID int64          `json:"template_id"`
	EngineID   int64          `json:"engine_id"`

	// RecipientQuery is executed by the backend, never locally.
	RecipientQuery string `json:"recipient_query"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// SuccessResetQuery returns the optional once-per-run side-effect query.
func (w *Workflow) SuccessResetQuery() string {
	return w.stringParam("success_reset_query")
}

// RecipientUpdateQuery returns the optional per-recipient side-effect query.
func (w *Workflow) RecipientUpdateQuery() string {
	return w.stringParam("recipient_update_query")
}

func (w *Workflow) stringParam(key string) string {
	if w.Parameters == nil {
		return ""
	}
	s, _ := w.Parameters[key].(string)
	return s
}

type Template struct {
	ID          int64    `json:"id"`
	Key         string   `json:"template_key"`
	Name        string   `json:"name"`
	Subject     string   `json:"subject"`
	ContentHTML string   `json:"content_html"`
	ContentText string   `json:"content_text,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
	Status      string   `json:"status"`
}

type EngineKind string

const (
	EngineSMTP     EngineKind = "smtp"
	EngineMailgun  EngineKind = "mailgun"
	EngineSendGrid EngineKind = "sendgrid"
	EngineSESRelay EngineKind = "ses_relay"
)

// EngineConfig describes a configured delivery provider. Which fields are
// required depends on Kind; the sender factory checks them at build time.
type EngineConfig struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Kind     EngineKind `json:"engine_type"`
	Host     string     `json:"host,omitempty"`
	Port     int        `json:"port,omitempty"`
	Username string     `json:"username,omitempty"`
	Password string     `json:"password,omitempty"`
	APIKey   string     `json:"api_key,omitempty"`

	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name,omitempty"`

	BatchSize          int    `json:"batch_size"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	Status             string `json:"status"`
}

// Recipient is one validated destination plus the metadata merged into the
// render context. Recipients are built per run and never persisted.
type Recipient struct {
	Email    string         `json:"email"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
	RunTimedOut       RunStatus = "timed_out"
)

// Terminal reports whether s is a final run state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunPartialSuccess, RunFailed, RunTimedOut:
		return true
	}
	return false
}

// ExecutionLog is the backend record of one run. The executor is its sole
// writer between creation and the terminal update.
type ExecutionLog struct {
	ID           int64      `json:"id"`
	WorkflowID   int64      `json:"workflow_id"`
	ScheduleID   int64      `json:"schedule_id,omitempty"`
	RunID        string     `json:"run_id"`
	Status       RunStatus  `json:"status"`
	Processed    int        `json:"records_processed"`
	Failed       int        `json:"records_failed"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

type Frequency string

const (
	FreqHourly  Frequency = "hourly"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// Schedule binds a workflow to due times. The scheduler owns NextRunAt and
// IsRunning; IsRunning is an advisory application-level lock.
type Schedule struct {
	ID         int64          `json:"id"`
	WorkflowID int64          `json:"workflow_id"`
	Status     string         `json:"status"`
	Frequency  Frequency      `json:"frequency,omitempty"`
	Interval   int            `json:"interval_value,omitempty"`
	CronExpr   string         `json:"cron_expression,omitempty"`
	NextRunAt  time.Time      `json:"next_run_at"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	IsRunning  bool           `json:"is_running"`
	LockedAt   *time.Time     `json:"locked_at,omitempty"`
	Parameters map[string]any `json:"run_parameters,omitempty"`
}
