package repository

import (
	"context"
	"log/slog"
	"sync"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
)

type taskRecord struct {
	appID   string
	state   domain.TaskState
	pending *domain.ReportEntry
	cancel  context.CancelFunc
}

// TaskRegistry is the in-memory store of running and uncollected tasks. Each task
// holds at most one pending report entry, the latest one written.
type TaskRegistry struct {
	mu      sync.Mutex
	records map[string]*taskRecord
}

// NewTaskRegistry creates an empty TaskRegistry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{records: make(map[string]*taskRecord)}
}

// Create registers a new running task. cancel is invoked when the task is killed.
func (r *TaskRegistry) Create(task *domain.DownloadTask, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[task.TaskID]; exists {
		return errpkg.ErrTaskExists
	}
	r.records[task.TaskID] = &taskRecord{
		appID:  task.AppID(),
		cancel: cancel,
	}

	slog.Debug("Task registered", "task_id", task.TaskID, "app_id", task.AppID())
	return nil
}

// Get returns a snapshot of the task state.
func (r *TaskRegistry) Get(taskID string) (domain.TaskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[taskID]
	if !ok {
		return domain.TaskState{}, errpkg.ErrTaskNotFound
	}
	return rec.state, nil
}

// Update merges the given progress fields into the task state and makes the result
// the pending download-progress entry. Updates to terminal tasks are ignored.
func (r *TaskRegistry) Update(taskID string, upd domain.ProgressUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[taskID]
	if !ok {
		return errpkg.ErrTaskNotFound
	}
	if rec.state.Terminal {
		return nil
	}

	if upd.Progress != nil {
		rec.state.Progress = *upd.Progress
	}
	if upd.Text != nil {
		rec.state.Text = *upd.Text
	}

	// A pending error report stays until it is collected.
	if rec.pending != nil && rec.pending.Type == domain.ReportErrorType {
		return nil
	}

	progress := rec.state.Progress
	rec.pending = &domain.ReportEntry{
		AppID:    rec.appID,
		Type:     domain.ReportProgressType,
		Progress: &progress,
		Text:     rec.state.Text,
	}
	return nil
}

// ReportError records an error-report entry for a task that keeps running.
func (r *TaskRegistry) ReportError(taskID, text string, timeout int) error {
	return r.setEntry(taskID, false, func(rec *taskRecord) *domain.ReportEntry {
		return &domain.ReportEntry{AppID: rec.appID, Type: domain.ReportErrorType, Text: text, Timeout: timeout}
	})
}

// Fail ends the task with an error-report entry.
func (r *TaskRegistry) Fail(taskID, text string, timeout int) error {
	return r.setEntry(taskID, true, func(rec *taskRecord) *domain.ReportEntry {
		return &domain.ReportEntry{AppID: rec.appID, Type: domain.ReportErrorType, Text: text, Timeout: timeout}
	})
}

// Finish ends the task with a download-finished entry carrying the task payload.
func (r *TaskRegistry) Finish(task *domain.DownloadTask) error {
	payload := *task
	return r.setEntry(task.TaskID, true, func(rec *taskRecord) *domain.ReportEntry {
		rec.state.Progress = 100
		return &domain.ReportEntry{AppID: rec.appID, Type: domain.ReportFinishedType, DownloadTask: &payload}
	})
}

// Cancelled ends a killed task with a download-cancelled entry.
func (r *TaskRegistry) Cancelled(taskID, text string) error {
	return r.setEntry(taskID, true, func(rec *taskRecord) *domain.ReportEntry {
		rec.state.Cancelled = true
		return &domain.ReportEntry{AppID: rec.appID, Type: domain.ReportCancelledType, Text: text}
	})
}

func (r *TaskRegistry) setEntry(taskID string, terminal bool, build func(rec *taskRecord) *domain.ReportEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[taskID]
	if !ok {
		return errpkg.ErrTaskNotFound
	}
	if rec.state.Terminal {
		return nil
	}

	rec.pending = build(rec)
	if terminal {
		rec.state.Terminal = true
		rec.cancel = nil
	}
	return nil
}

// Cancel flags the task as cancelled and signals its cancellation handle. It does not
// wait for the task to stop. Cancelling a task that already ended is a no-op.
func (r *TaskRegistry) Cancel(taskID string) error {
	r.mu.Lock()
	rec, ok := r.records[taskID]
	if !ok {
		r.mu.Unlock()
		return errpkg.ErrTaskNotFound
	}
	cancel := rec.cancel
	if !rec.state.Terminal {
		rec.state.Cancelled = true
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	slog.Debug("Task cancellation requested", "task_id", taskID)
	return nil
}

// Collect atomically drains the pending entries of every task owned by appID, keyed
// by task id. Tasks that reached a terminal state are removed; running tasks stay
// registered so they can still be cancelled.
func (r *TaskRegistry) Collect(appID string) map[string]*domain.ReportEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	reports := make(map[string]*domain.ReportEntry)
	for id, rec := range r.records {
		if rec.appID != appID {
			continue
		}
		if rec.pending != nil {
			reports[id] = rec.pending
			rec.pending = nil
		}
		if rec.state.Terminal {
			delete(r.records, id)
		}
	}
	return reports
}
