package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"MailFlow/internal/backend"
	"MailFlow/internal/metrics"
	"MailFlow/internal/models"
	"MailFlow/internal/ratelimit"
	"MailFlow/internal/render"
	"MailFlow/internal/report"
	"MailFlow/internal/retry"
	"MailFlow/internal/sender"
)

// Backend is the slice of the remote backend the executor consumes.
type Backend interface {
	GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error)
	GetWorkflowByKey(ctx context.Context, key string) (*models.Workflow, error)
	GetTemplate(ctx context.Context, id int64) (*models.Template, error)
	GetEngine(ctx context.Context, id int64) (*models.EngineConfig, error)
	QueryRecipients(ctx context.Context, workflowID int64, query string, params map[string]any) ([]map[string]any, error)
	ExecSideEffect(ctx context.Context, workflowID int64, query string, params map[string]any) error
	CreateLog(ctx context.Context, log *models.ExecutionLog) error
	UpdateLog(ctx context.Context, logID int64, upd backend.LogUpdate) error
}

// SenderFactory builds a provider Sender from an engine config. Swappable
// so run tests never touch a real provider.
type SenderFactory func(cfg *models.EngineConfig, log *zap.Logger) (sender.Sender, error)

type Options struct {
	RunTimeout     time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// RunRequest identifies one execution: a workflow (by id or key), a run id,
// the originating schedule if any, and free-form run parameters merged into
// every recipient's render context.
type RunRequest struct {
	WorkflowID  int64
	WorkflowKey string
	RunID       string
	ScheduleID  int64
	Params      map[string]any
}

// RunResult is the terminal outcome of one execution.
type RunResult struct {
	Status    models.RunStatus
	Processed int
	Failed    int
	Err       error
}

// Executor drives a workflow run through its state machine:
// queued -> running -> {success, partial_success, failed, timed_out}.
type Executor struct {
	backend  Backend
	resolver *Resolver
	renderer *render.Renderer
	reporter report.Reporter
	log      *zap.Logger
	opts     Options

	buildSender SenderFactory
}

func New(b Backend, resolver *Resolver, renderer *render.Renderer, reporter report.Reporter, log *zap.Logger, opts Options) *Executor {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = time.Hour
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 10 * time.Second
	}
	return &Executor{
		backend:     b,
		resolver:    resolver,
		renderer:    renderer,
		reporter:    reporter,
		log:         log,
		opts:        opts,
		buildSender: sender.Build,
	}
}

// SetSenderFactory overrides provider construction, mainly for tests.
func (e *Executor) SetSenderFactory(f SenderFactory) {
	e.buildSender = f
}

// run holds the mutable state of one execution.
type run struct {
	workflow  *models.Workflow
	logID     int64
	startedAt time.Time
	deadline  time.Time

	mu        sync.Mutex
	processed int
	sendFails int
	attempted int
	timedOut  bool
	outcomes  []report.RecipientOutcome
}

func (r *run) record(outcome report.RecipientOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	switch outcome.Status {
	case "success":
		r.processed++
		r.attempted++
	case "failed", "error":
		r.sendFails++
		r.attempted++
	case "timed_out":
		r.timedOut = true
	}
}

// Execute runs a workflow to a terminal state. The returned error describes
// why a run failed; the run's status is always recorded on the backend log
// regardless.
func (e *Executor) Execute(ctx context.Context, req RunRequest) RunResult {
	log := e.log.With(zap.String("run_id", req.RunID))
	log.Info("starting workflow run",
		zap.Int64("workflow_id", req.WorkflowID),
		zap.String("workflow_key", req.WorkflowKey),
	)

	startedAt := time.Now()

	wf, err := e.fetchWorkflow(ctx, req)
	if err != nil {
		log.Error("workflow not found", zap.Error(err))
		return RunResult{Status: models.RunFailed, Err: fmt.Errorf("workflow lookup: %w", err)}
	}

	st := &run{
		workflow:  wf,
		startedAt: startedAt,
		deadline:  startedAt.Add(e.opts.RunTimeout),
	}

	entry := &models.ExecutionLog{
		WorkflowID: wf.ID,
		ScheduleID: req.ScheduleID,
		RunID:      req.RunID,
		Status:     models.RunQueued,
		StartedAt:  &startedAt,
	}
	if err := e.backend.CreateLog(ctx, entry); err != nil {
		log.Error("failed to create execution log", zap.Error(err))
		return RunResult{Status: models.RunFailed, Err: fmt.Errorf("create log: %w", err)}
	}
	st.logID = entry.ID

	result := e.execute(ctx, log, req, st)

	finished := time.Now()
	e.backend.UpdateLog(ctx, st.logID, backend.LogUpdate{
		Status:       result.Status,
		Processed:    &result.Processed,
		Failed:       &result.Failed,
		ErrorSummary: errSummary(result.Err),
		FinishedAt:   &finished,
	})

	metrics.RunsCompleted.WithLabelValues(string(result.Status)).Inc()
	metrics.RunDuration.Observe(finished.Sub(startedAt).Seconds())

	e.emitReport(ctx, log, req, st, result, finished)

	log.Info("workflow run finished",
		zap.String("status", string(result.Status)),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (e *Executor) fetchWorkflow(ctx context.Context, req RunRequest) (*models.Workflow, error) {
	switch {
	case req.WorkflowID != 0:
		return e.backend.GetWorkflow(ctx, req.WorkflowID)
	case req.WorkflowKey != "":
		return e.backend.GetWorkflowByKey(ctx, req.WorkflowKey)
	default:
		return nil, fmt.Errorf("neither workflow id nor key provided")
	}
}

// execute performs the running phase and returns the terminal result; the
// caller owns the final log update and report emission.
func (e *Executor) execute(ctx context.Context, log *zap.Logger, req RunRequest, st *run) RunResult {
	wf := st.workflow

	tpl, err := e.backend.GetTemplate(ctx, wf.TemplateID)
	if err != nil {
		return RunResult{Status: models.RunFailed, Err: fmt.Errorf("template %d: %w", wf.TemplateID, err)}
	}
	engine, err := e.backend.GetEngine(ctx, wf.EngineID)
	if err != nil {
		return RunResult{Status: models.RunFailed, Err: fmt.Errorf("engine %d: %w", wf.EngineID, err)}
	}

	e.backend.UpdateLog(ctx, st.logID, backend.LogUpdate{Status: models.RunRunning})

	recipients, invalid := e.resolver.Resolve(ctx, wf, req.Params)
	skipped := len(invalid)

	if len(recipients) == 0 {
		if skipped == 0 {
			// Nothing to do is still a clean run.
			return RunResult{Status: models.RunSuccess}
		}
		return RunResult{
			Status: models.RunFailed,
			Failed: skipped,
			Err:    fmt.Errorf("all %d resolved recipients were invalid", skipped),
		}
	}

	// Fail fast on template/context mismatches before committing to the batch.
	sample := e.buildContext(recipients[0], req.Params)
	if err := e.validateTemplate(tpl, sample); err != nil {
		return RunResult{Status: models.RunFailed, Failed: skipped, Err: err}
	}

	snd, err := e.buildSender(engine, log)
	if err != nil {
		return RunResult{Status: models.RunFailed, Failed: skipped, Err: fmt.Errorf("build sender: %w", err)}
	}

	bucket := ratelimit.NewBucket(engine.RateLimitPerMinute)
	batch := engine.BatchSize
	if batch <= 0 {
		batch = 10
	}
	policy := retry.Policy{
		MaxAttempts: e.opts.RetryAttempts,
		BaseDelay:   e.opts.RetryBaseDelay,
		MaxDelay:    e.opts.RetryMaxDelay,
		Log:         log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batch)
	for _, rec := range recipients {
		rec := rec
		g.Go(func() error {
			e.processRecipient(gctx, log, st, req, tpl, engine, snd, bucket, policy, rec)
			return nil
		})
	}
	g.Wait()

	if time.Now().After(st.deadline) {
		st.mu.Lock()
		st.timedOut = true
		st.mu.Unlock()
	}

	e.runSuccessReset(ctx, log, wf, st, req.Params)

	st.mu.Lock()
	defer st.mu.Unlock()

	result := RunResult{
		Processed: st.processed,
		Failed:    st.sendFails + skipped,
	}
	switch {
	case st.timedOut:
		result.Status = models.RunTimedOut
		result.Err = fmt.Errorf("run deadline exceeded after %s", e.opts.RunTimeout)
	case st.sendFails == 0:
		result.Status = models.RunSuccess
	case st.processed == 0:
		result.Status = models.RunFailed
		result.Err = fmt.Errorf("all %d attempted sends failed", st.sendFails)
	default:
		result.Status = models.RunPartialSuccess
		result.Err = fmt.Errorf("%d of %d sends failed", st.sendFails, st.attempted)
	}
	return result
}

// processRecipient renders and sends one message under the batch gate. It
// never returns an error; each outcome lands in the run state exactly once.
func (e *Executor) processRecipient(
	ctx context.Context,
	log *zap.Logger,
	st *run,
	req RunRequest,
	tpl *models.Template,
	engine *models.EngineConfig,
	snd sender.Sender,
	bucket *ratelimit.Bucket,
	policy retry.Policy,
	rec models.Recipient,
) {
	// Recipients not started before the deadline are abandoned, not failed.
	if time.Now().After(st.deadline) {
		st.record(report.RecipientOutcome{Email: rec.Email, Status: "timed_out"})
		return
	}

	if err := bucket.Acquire(ctx, 1); err != nil {
		st.record(report.RecipientOutcome{Email: rec.Email, Status: "timed_out"})
		return
	}

	rctx := e.buildContext(rec, req.Params)

	subject, err := e.renderer.Render(tpl.Subject, rctx)
	if err == nil {
		var html, text string
		html, err = e.renderer.Render(tpl.ContentHTML, rctx)
		if err == nil {
			text, err = e.renderer.Render(tpl.ContentText, rctx)
		}
		if err == nil {
			msg := sender.Message{
				From:     engine.FromEmail,
				FromName: engine.FromName,
				To:       rec.Email,
				Subject:  subject,
				HTML:     html,
				Text:     text,
			}
			err = policy.Do(ctx, func() error {
				return snd.Send(ctx, msg)
			})
		}
	}

	if err != nil {
		log.Error("recipient send failed", zap.String("email", rec.Email), zap.Error(err))
		metrics.EmailFailures.Inc()
		st.record(report.RecipientOutcome{Email: rec.Email, Status: "failed", Error: err.Error()})
		return
	}

	metrics.EmailsSent.Inc()
	st.record(report.RecipientOutcome{Email: rec.Email, Status: "success"})

	// Per-recipient side effect is best effort; its failure never fails the run.
	if q := st.workflow.RecipientUpdateQuery(); q != "" {
		if err := e.backend.ExecSideEffect(ctx, st.workflow.ID, q, rctx); err != nil {
			log.Warn("recipient update query failed",
				zap.String("email", rec.Email),
				zap.Error(err),
			)
		}
	}
}

// runSuccessReset fires the once-per-run reset query after any send was
// actually attempted. Best effort.
func (e *Executor) runSuccessReset(ctx context.Context, log *zap.Logger, wf *models.Workflow, st *run, params map[string]any) {
	q := wf.SuccessResetQuery()
	if q == "" {
		return
	}
	st.mu.Lock()
	attempted := st.attempted
	st.mu.Unlock()
	if attempted == 0 {
		return
	}
	if err := e.backend.ExecSideEffect(ctx, wf.ID, q, params); err != nil {
		log.Warn("success reset query failed", zap.Error(err))
	}
}

func (e *Executor) validateTemplate(tpl *models.Template, sample map[string]any) error {
	var missing []string
	for _, src := range []string{tpl.Subject, tpl.ContentHTML, tpl.ContentText} {
		m, err := e.renderer.Validate(src, sample)
		if err != nil {
			return fmt.Errorf("template validation failed: %w", err)
		}
		missing = append(missing, m...)
	}
	if len(missing) > 0 {
		return fmt.Errorf("template validation failed: missing variables %s", strings.Join(missing, ", "))
	}
	return nil
}

// buildContext merges recipient metadata with run parameters; run parameters
// win on key collisions. The well-known recipient keys are always present.
func (e *Executor) buildContext(rec models.Recipient, params map[string]any) map[string]any {
	ctx := make(map[string]any, len(rec.Metadata)+len(params)+3)
	for k, v := range rec.Metadata {
		ctx[k] = v
	}
	for k, v := range params {
		ctx[k] = v
	}
	ctx["recipient_email"] = rec.Email
	ctx["recipient_name"] = rec.Name
	if _, ok := ctx["unsubscribe_link"]; !ok {
		ctx["unsubscribe_link"] = "https://unsubscribe.example/" + url.PathEscape(rec.Email)
	}
	return ctx
}

func (e *Executor) emitReport(ctx context.Context, log *zap.Logger, req RunRequest, st *run, result RunResult, finished time.Time) {
	if e.reporter == nil {
		return
	}
	st.mu.Lock()
	outcomes := append([]report.RecipientOutcome(nil), st.outcomes...)
	st.mu.Unlock()

	summary := report.Summary{
		WorkflowName: st.workflow.Name,
		RunID:        req.RunID,
		Status:       result.Status,
		Processed:    result.Processed,
		Failed:       result.Failed,
		Skipped:      result.Failed - st.sendFails,
		StartedAt:    st.startedAt,
		FinishedAt:   finished,
		Context:      report.Redact(req.Params),
		Recipients:   outcomes,
	}
	if err := e.reporter.Report(ctx, summary); err != nil {
		log.Warn("run report emission failed", zap.Error(err))
	}
}

func errSummary(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
