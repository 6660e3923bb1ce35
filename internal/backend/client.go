package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"MailFlow/internal/models"
)

// ErrNotFound is returned when the backend has no record for the requested id/key.
var ErrNotFound = errors.New("backend: not found")

// ErrLockHeld is returned when a schedule lock could not be acquired because
// another runner holds it.
var ErrLockHeld = errors.New("backend: schedule lock held")

// Client talks to the remote backend that owns all persistent state:
// workflows, templates, engines, schedules, execution logs, and the data
// the recipient queries run against. Nothing is stored locally.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.get(ctx, fmt.Sprintf("/api/v1/workflows/%d", id), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (c *Client) GetWorkflowByKey(ctx context.Context, key string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.get(ctx, "/api/v1/workflows/key/"+url.PathEscape(key), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (c *Client) GetTemplate(ctx context.Context, id int64) (*models.Template, error) {
	var tpl models.Template
	if err := c.get(ctx, fmt.Sprintf("/api/v1/templates/%d", id), &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (c *Client) GetEngine(ctx context.Context, id int64) (*models.EngineConfig, error) {
	var eng models.EngineConfig
	if err := c.get(ctx, fmt.Sprintf("/api/v1/engines/%d", id), &eng); err != nil {
		return nil, err
	}
	return &eng, nil
}

// QueryRecipients asks the backend to execute the workflow's recipient query
// and returns the raw rows. Query execution is fully delegated; the query
// string is opaque to this service.
func (c *Client) QueryRecipients(ctx context.Context, workflowID int64, query string, params map[string]any) ([]map[string]any, error) {
	var resp struct {
		Rows []map[string]any `json:"rows"`
	}
	body := map[string]any{"query": query, "params": params}
	if err := c.post(ctx, fmt.Sprintf("/api/v1/workflows/%d/query", workflowID), body, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// ExecSideEffect runs a parameterized write query on the backend (success
// resets, per-recipient updates).
func (c *Client) ExecSideEffect(ctx context.Context, workflowID int64, query string, params map[string]any) error {
	body := map[string]any{"query": query, "params": params}
	return c.post(ctx, fmt.Sprintf("/api/v1/workflows/%d/exec", workflowID), body, nil)
}

// CreateLog registers a new execution log and fills in its backend id.
func (c *Client) CreateLog(ctx context.Context, log *models.ExecutionLog) error {
	return c.post(ctx, "/api/v1/logs", log, log)
}

// LogUpdate is a partial update of an execution log; nil fields are left untouched.
type LogUpdate struct {
	Status       models.RunStatus `json:"status,omitempty"`
	Processed    *int             `json:"records_processed,omitempty"`
	Failed       *int             `json:"records_failed,omitempty"`
	ErrorSummary string           `json:"error_summary,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

func (c *Client) UpdateLog(ctx context.Context, logID int64, upd LogUpdate) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/v1/logs/%d", logID), upd, nil)
}

func (c *Client) ListDueSchedules(ctx context.Context, at time.Time) ([]models.Schedule, error) {
	var resp struct {
		Schedules []models.Schedule `json:"schedules"`
	}
	path := "/api/v1/schedules/due?at=" + url.QueryEscape(at.UTC().Format(time.RFC3339))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Schedules, nil
}

func (c *Client) GetSchedule(ctx context.Context, id int64) (*models.Schedule, error) {
	var s models.Schedule
	if err := c.get(ctx, fmt.Sprintf("/api/v1/schedules/%d", id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AcquireScheduleLock flips is_running on the backend. The lease lets the
// backend treat a lock older than the lease as expired, so a crash between
// acquire and release does not wedge the schedule forever. Returns
// ErrLockHeld when another execution is in flight.
func (c *Client) AcquireScheduleLock(ctx context.Context, id int64, lease time.Duration) error {
	body := map[string]any{"lease_seconds": int(lease.Seconds())}
	err := c.post(ctx, fmt.Sprintf("/api/v1/schedules/%d/lock", id), body, nil)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusConflict {
		return ErrLockHeld
	}
	return err
}

// ReleaseSchedule clears the lock and persists last_run_at/next_run_at in a
// single update.
func (c *Client) ReleaseSchedule(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	body := map[string]any{
		"last_run_at": lastRun.UTC().Format(time.RFC3339),
		"next_run_at": nextRun.UTC().Format(time.RFC3339),
		"is_running":  false,
	}
	return c.post(ctx, fmt.Sprintf("/api/v1/schedules/%d/release", id), body, nil)
}

// ----------------------------
// HTTP plumbing
// ----------------------------

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %d: %s", e.code, e.body)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
	}
	return nil
}
