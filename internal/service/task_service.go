package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	"github.com/veranemoloko/asset-downloader/internal/metrics"
	"github.com/veranemoloko/asset-downloader/internal/postprocess"
	repo "github.com/veranemoloko/asset-downloader/internal/repository"
)

// TaskService is the entry point of the HTTP layer into task handling.
type TaskService struct {
	registry   repo.TaskRepo
	downloads  *DownloadService
	dispatcher *postprocess.Dispatcher
	logger     *slog.Logger
}

// NewTaskService creates a new TaskService.
func NewTaskService(
	registry repo.TaskRepo,
	downloads *DownloadService,
	dispatcher *postprocess.Dispatcher,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		registry:   registry,
		downloads:  downloads,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// CreateDownload registers a download task under a fresh identifier and starts it.
// It returns as soon as the task is registered.
func (s *TaskService) CreateDownload(ctx context.Context, req *domain.DownloadAssetRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	task := &domain.DownloadTask{
		TaskID:       uuid.New().String(),
		AssetData:    req.AssetData,
		Resolution:   req.Resolution,
		DownloadDirs: req.DownloadDirs,
		Prefs:        req.Prefs,
	}

	if err := s.downloads.Start(task); err != nil {
		return "", fmt.Errorf("start download: %w", err)
	}
	metrics.TasksCreated.Inc()

	s.logger.Info("download task created",
		"task_id", task.TaskID,
		"app_id", task.AppID(),
		"asset", task.AssetData.Name,
		"resolution", task.Resolution,
	)
	return task.TaskID, nil
}

// KillDownload requests cancellation of a task and returns without waiting for it
// to stop.
func (s *TaskService) KillDownload(ctx context.Context, taskID string) error {
	if err := s.registry.Cancel(taskID); err != nil {
		return err
	}
	s.logger.Info("download kill requested", "task_id", taskID)
	return nil
}

// Report drains the pending report entries of an application.
func (s *TaskService) Report(ctx context.Context, appID string) (map[string]*domain.ReportEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.registry.Collect(appID), nil
}

// GenerateResolutions starts detached post-processing of a local asset file and
// returns the child's process id.
func (s *TaskService) GenerateResolutions(ctx context.Context, req *domain.GenerateResolutionsRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	proc, err := s.dispatcher.Start(postprocess.Job{
		BinaryPath: req.Prefs.BinaryPath,
		FilePath:   req.FilePath,
		Command:    postprocess.CommandGenerateResolutions,
		DebugValue: req.Prefs.DebugValue,
		AssetData:  req.AssetData,
	})
	if err != nil {
		return 0, fmt.Errorf("start post-processing: %w", err)
	}
	return proc.PID, nil
}
