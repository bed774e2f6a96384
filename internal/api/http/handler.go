package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
	"github.com/veranemoloko/asset-downloader/internal/validation"
)

// KillMessage is the plain-text answer of the kill probe.
const KillMessage = "Going to kill him soon."

// TaskServiceI defines the interface for task-related business logic.
type TaskServiceI interface {
	CreateDownload(ctx context.Context, req *domain.DownloadAssetRequest) (string, error)
	KillDownload(ctx context.Context, taskID string) error
	Report(ctx context.Context, appID string) (map[string]*domain.ReportEntry, error)
	GenerateResolutions(ctx context.Context, req *domain.GenerateResolutionsRequest) (int, error)
}

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	taskService TaskServiceI
	validator   *validator.Validate
	logger      *slog.Logger

	killDelay time.Duration
	kill      func()
}

// NewTaskHandler creates a new TaskHandler. kill is called killDelay after the kill
// probe was answered.
func NewTaskHandler(taskService TaskServiceI, killDelay time.Duration, kill func(), logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		validator:   validation.New(),
		logger:      logger,
		killDelay:   killDelay,
		kill:        kill,
	}
}

// Index handles GET / and answers with the process id.
func (h *TaskHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, strconv.Itoa(os.Getpid()))
}

// KillYourself handles GET /killyourself. The process is asked to stop after a grace
// delay so that the response can still be flushed.
func (h *TaskHandler) KillYourself(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("kill probe received", "delay", h.killDelay)
	writeText(w, http.StatusOK, KillMessage)

	if h.kill != nil {
		time.AfterFunc(h.killDelay, h.kill)
	}
}

// DownloadAsset handles POST /download-asset. It returns as soon as the task is
// registered.
func (h *TaskHandler) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadAssetRequest
	if !h.decode(w, r, &req) {
		return
	}

	taskID, err := h.taskService.CreateDownload(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create download task", "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, domain.TaskIDResponse{TaskID: taskID})
}

// DownloadKill handles /download-kill. It does not wait for the task to stop.
func (h *TaskHandler) DownloadKill(w http.ResponseWriter, r *http.Request) {
	var req domain.KillDownloadRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.taskService.KillDownload(r.Context(), req.TaskID); err != nil {
		h.logger.Warn("failed to kill download", "task_id", req.TaskID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"task_id": req.TaskID})
}

// Report handles /report and returns the pending entries of one application keyed
// by task id. Without a body the app_id query parameter is used.
func (h *TaskHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req domain.ReportRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
		req.AppID = r.URL.Query().Get("app_id")
	case err != nil:
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := h.taskService.Report(r.Context(), req.AppID)
	if err != nil {
		h.logger.Error("failed to collect reports", "app_id", req.AppID, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reports)
}

// GenerateResolutions handles POST /generate-resolutions and answers with the pid of
// the detached child.
func (h *TaskHandler) GenerateResolutions(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateResolutionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	pid, err := h.taskService.GenerateResolutions(r.Context(), &req)
	if err != nil {
		h.logger.Error("failed to start resolution generation", "path", req.FilePath, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, domain.ProcessResponse{PID: pid})
}

func (h *TaskHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errpkg.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, errpkg.ErrNoBinaryPath):
		return http.StatusBadRequest
	case errors.Is(err, errpkg.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, text); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
