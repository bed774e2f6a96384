package repository

import (
	"context"

	"github.com/veranemoloko/asset-downloader/internal/domain"
)

// TaskRepo defines the operations task units and the HTTP layer perform on the
// task registry.
type TaskRepo interface {
	Create(task *domain.DownloadTask, cancel context.CancelFunc) error
	Get(taskID string) (domain.TaskState, error)
	Update(taskID string, upd domain.ProgressUpdate) error
	ReportError(taskID, text string, timeout int) error
	Fail(taskID, text string, timeout int) error
	Finish(task *domain.DownloadTask) error
	Cancelled(taskID, text string) error
	Cancel(taskID string) error
	Collect(appID string) map[string]*domain.ReportEntry
}
