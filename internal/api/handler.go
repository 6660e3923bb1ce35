package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"MailFlow/internal/executor"
	"MailFlow/internal/models"
)

// Runner executes a workflow run; satisfied by *executor.Executor.
type Runner interface {
	Execute(ctx context.Context, req executor.RunRequest) executor.RunResult
}

type Handler struct {
	exec    Runner
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewRouter wires the trigger endpoint and health check. requestsPerSecond
// throttles triggers so a stuck client cannot queue unbounded runs.
func NewRouter(exec Runner, requestsPerSecond int, log *zap.Logger) http.Handler {
	h := &Handler{
		exec:    exec,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Post("/api/v1/trigger", h.trigger)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	WorkflowID  int64          `json:"workflow_id,omitempty"`
	WorkflowKey string         `json:"workflow_key,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// trigger queues a run and responds immediately; the response is never tied
// to run completion.
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		http.Error(w, "too many trigger requests", http.StatusTooManyRequests)
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.WorkflowID == 0 && req.WorkflowKey == "" {
		http.Error(w, "workflow_id or workflow_key is required", http.StatusBadRequest)
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	h.log.Info("workflow trigger accepted",
		zap.Int64("workflow_id", req.WorkflowID),
		zap.String("workflow_key", req.WorkflowKey),
		zap.String("run_id", runID),
	)

	// Detached from the request context so the run survives the response.
	go h.exec.Execute(context.Background(), executor.RunRequest{
		WorkflowID:  req.WorkflowID,
		WorkflowKey: req.WorkflowKey,
		RunID:       runID,
		Params:      req.Params,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": models.RunQueued,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
