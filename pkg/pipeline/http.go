package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jobscope/lakehouse/pkg/common/logger"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"github.com/jobscope/lakehouse/pkg/tasks"
)

// Launcher starts driver runs as tracked background tasks.
type Launcher struct {
	driver *Driver
	tasks  *tasks.Service
}

func NewLauncher(driver *Driver, taskService *tasks.Service) *Launcher {
	return &Launcher{driver: driver, tasks: taskService}
}

// Submit queues a run. A run of only the sync stage is tracked as a sync task.
func (l *Launcher) Submit(ctx context.Context, trigger string, req Request, stages ...Stage) (tasks.Task, error) {
	kind := tasks.KindPipeline
	if len(stages) == 1 && stages[0] == StageSync {
		kind = tasks.KindSync
	}
	return l.tasks.Submit(ctx, kind, trigger, func(ctx context.Context, tracker *tasks.Tracker) error {
		req.OnProgress = func(ctx context.Context, report Report) {
			tracker.Update(ctx, report)
		}
		_, err := l.driver.Run(ctx, req, stages...)
		return err
	})
}

type runRequest struct {
	Stages     []string `json:"stages"`
	Prefix     string   `json:"prefix"`
	SourceFile string   `json:"source_file"`
	Full       bool     `json:"full"`
}

type Handler struct {
	launcher *Launcher
}

func NewHandler(launcher *Launcher) *Handler {
	return &Handler{launcher: launcher}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/pipeline/runs", h.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/sync", h.handleSync).Methods(http.MethodPost)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	stages, err := ParseStages(body.Stages)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := Request{
		Ingest: ingestion.IngestRequest{Prefix: body.Prefix, SourceFile: body.SourceFile},
		Full:   body.Full,
	}
	h.submit(w, r, req, stages...)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, Request{}, StageSync)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req Request, stages ...Stage) {
	task, err := h.launcher.Submit(r.Context(), "api", req, stages...)
	if err != nil {
		logger.Log.WithError(err).Error("failed to submit pipeline run")
		http.Error(w, "failed to submit run", http.StatusInternalServerError)
		return
	}
	tasks.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"task": task})
}
