package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/veranemoloko/asset-downloader/internal/client"
	"github.com/veranemoloko/asset-downloader/internal/config"
	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
	"github.com/veranemoloko/asset-downloader/internal/metrics"
	"github.com/veranemoloko/asset-downloader/internal/postprocess"
	repo "github.com/veranemoloko/asset-downloader/internal/repository"
	"github.com/veranemoloko/asset-downloader/internal/resolution"
	"github.com/veranemoloko/asset-downloader/internal/storage"
	"github.com/veranemoloko/asset-downloader/internal/worker"
)

// Progress texts shown to the user.
const (
	TextLookingForAsset = "Looking for asset"
	TextWaitingForSlot  = "Waiting for a free download slot"
	TextFoundOnDisk     = "Asset found on hard drive"
	TextUnpacking       = "Unpacking files"
	TextCancelled       = "Download cancelled"
)

// Error report texts.
const (
	TextNoStorageRoot = "No usable download directory."
	TextShuttingDown  = "Download interrupted, the downloader is shutting down."
	TextPathTooLong   = "The path to assets is too long, only Global folder can be used. Move your .blend file to another folder with shorter path to store assets in a subfolder of your project."
)

// DownloadService runs one independent, cancellable unit of work per download task.
// The number of units transferring at the same time is bounded by the worker pool
// size.
type DownloadService struct {
	registry   repo.TaskRepo
	assets     *client.AssetClient
	resolver   *storage.Resolver
	dedup      *storage.DedupChecker
	worker     *worker.DownloadWorker
	dispatcher *postprocess.Dispatcher
	slots      *semaphore.Weighted
	logger     *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDownloadService creates a DownloadService.
func NewDownloadService(
	cfg *config.Config,
	registry repo.TaskRepo,
	assets *client.AssetClient,
	resolver *storage.Resolver,
	dedup *storage.DedupChecker,
	downloader *worker.DownloadWorker,
	dispatcher *postprocess.Dispatcher,
	logger *slog.Logger,
) *DownloadService {
	ctx, stop := context.WithCancel(context.Background())
	return &DownloadService{
		registry:   registry,
		assets:     assets,
		resolver:   resolver,
		dedup:      dedup,
		worker:     downloader,
		dispatcher: dispatcher,
		slots:      semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		logger:     logger,
		baseCtx:    ctx,
		stop:       stop,
	}
}

// Start registers the task and launches its unit of work without waiting for it.
func (s *DownloadService) Start(task *domain.DownloadTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errpkg.ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	if err := s.registry.Create(task, cancel); err != nil {
		cancel()
		return fmt.Errorf("register task: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx, task)
	}()
	return nil
}

func (s *DownloadService) run(ctx context.Context, task *domain.DownloadTask) {
	log := s.logger.With("task_id", task.TaskID, "app_id", task.AppID(), "asset_id", task.AssetData.ID)
	log.Info("download task started", "asset", task.AssetData.Name, "resolution", task.Resolution)

	s.report(task, domain.ProgressText(0, TextLookingForAsset))

	variant, effective, err := resolution.Select(task.Resolution, task.AssetData.Files)
	if err != nil {
		s.fail(log, task, fmt.Sprintf("Asset %s has no downloadable file.", task.AssetData.Name), domain.DefaultErrorTimeout, err)
		return
	}

	if err := s.assets.ResolveDownloadURL(ctx, variant, task.Prefs); err != nil {
		if ctx.Err() != nil {
			s.interrupted(log, task)
			return
		}
		var resolveErr *errpkg.ResolveError
		text := err.Error()
		if errors.As(err, &resolveErr) {
			text = resolveErr.Message
		}
		s.fail(log, task, text, domain.DefaultErrorTimeout, err)
		return
	}

	paths, tooLong, err := s.resolver.Paths(&task.AssetData, variant, task.DownloadDirs)
	if err != nil {
		s.fail(log, task, err.Error(), domain.DefaultErrorTimeout, err)
		return
	}
	for _, ptl := range tooLong {
		log.Warn("storage root skipped", "root", ptl.Root, "error", ptl)
		s.reportError(log, task, TextPathTooLong, domain.PathTooLongErrorTimeout)
	}
	if len(paths) == 0 {
		if len(tooLong) > 0 {
			s.fail(log, task, TextPathTooLong, domain.PathTooLongErrorTimeout, errpkg.ErrNoStorageRoot)
		} else {
			s.fail(log, task, TextNoStorageRoot, domain.DefaultErrorTimeout, errpkg.ErrNoStorageRoot)
		}
		return
	}

	// A failed sync between roots does not matter when the primary copy is there.
	present, err := s.dedup.Check(&task.AssetData, paths)
	if err != nil {
		log.Debug("dedup check finished with sync error", "present", present, "error", err)
	}
	if present {
		metrics.AssetsFoundLocally.Inc()
		s.report(task, domain.ProgressText(100, TextFoundOnDisk))
		task.FilePath = paths[0]
		s.finish(log, task)
		return
	}

	if !s.slots.TryAcquire(1) {
		s.report(task, domain.Text(TextWaitingForSlot))
		if err := s.slots.Acquire(ctx, 1); err != nil {
			s.interrupted(log, task)
			return
		}
	}
	defer s.slots.Release(1)

	if ctx.Err() != nil {
		s.interrupted(log, task)
		return
	}

	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	metrics.DownloadsTotal.Inc()
	startTime := time.Now()
	result, err := s.worker.Download(ctx, worker.DownloadRequest{
		URL:        variant.URL,
		Path:       paths[0],
		APIKey:     task.Prefs.APIKey,
		Resolution: effective,
	}, func(u domain.ProgressUpdate) { s.report(task, u) })

	switch {
	case errors.Is(err, errpkg.ErrCancelled):
		s.interrupted(log, task)
		return
	case err != nil:
		metrics.DownloadsFailed.Inc()
		s.fail(log, task, "Download failed: "+err.Error(), domain.DefaultErrorTimeout, err)
		return
	}
	metrics.DownloadsSuccess.Inc()
	metrics.DownloadDuration.Observe(time.Since(startTime).Seconds())
	metrics.DownloadBytes.Add(float64(result.BytesRead))

	s.report(task, domain.ProgressText(100, TextUnpacking))
	task.Resolution = effective
	task.AssetData.Resolution = effective
	task.FilePath = result.Path

	if task.Prefs.BinaryPath != "" {
		err := s.dispatcher.Run(s.baseCtx, postprocess.Job{
			BinaryPath: task.Prefs.BinaryPath,
			FilePath:   result.Path,
			Command:    postprocess.CommandUnpack,
			DebugValue: task.Prefs.DebugValue,
			AssetData:  task.AssetData,
		})
		if err != nil {
			log.Warn("unpacking failed", "path", result.Path, "error", err)
		}
	}

	s.finish(log, task)
}

func (s *DownloadService) report(task *domain.DownloadTask, u domain.ProgressUpdate) {
	if err := s.registry.Update(task.TaskID, u); err != nil {
		s.logger.Debug("progress update dropped", "task_id", task.TaskID, "error", err)
	}
}

func (s *DownloadService) reportError(log *slog.Logger, task *domain.DownloadTask, text string, timeout int) {
	if err := s.registry.ReportError(task.TaskID, text, timeout); err != nil {
		log.Debug("error report dropped", "error", err)
	}
}

func (s *DownloadService) fail(log *slog.Logger, task *domain.DownloadTask, text string, timeout int, cause error) {
	metrics.TasksFailed.Inc()
	log.Error("download task failed", "error", cause)
	if err := s.registry.Fail(task.TaskID, text, timeout); err != nil {
		log.Debug("failure report dropped", "error", err)
	}
}

func (s *DownloadService) finish(log *slog.Logger, task *domain.DownloadTask) {
	metrics.TasksFinished.Inc()
	log.Info("download task finished", "path", task.FilePath, "resolution", task.Resolution)
	if err := s.registry.Finish(task); err != nil {
		log.Debug("finish report dropped", "error", err)
	}
}

// interrupted ends a unit whose context was cancelled. A kill request is reported
// as a cancellation, anything else means the service is stopping.
func (s *DownloadService) interrupted(log *slog.Logger, task *domain.DownloadTask) {
	state, err := s.registry.Get(task.TaskID)
	if err == nil && !state.Cancelled {
		s.fail(log, task, TextShuttingDown, domain.DefaultErrorTimeout, errpkg.ErrShuttingDown)
		return
	}
	s.cancelled(log, task)
}

func (s *DownloadService) cancelled(log *slog.Logger, task *domain.DownloadTask) {
	metrics.TasksCancelled.Inc()
	log.Info("download task cancelled")
	if err := s.registry.Cancelled(task.TaskID, TextCancelled); err != nil {
		log.Debug("cancellation report dropped", "error", err)
	}
}

// Shutdown stops accepting tasks, cancels all running units and waits for them to
// return or for ctx to be done.
func (s *DownloadService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("download service stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("download service shutdown timed out")
		return ctx.Err()
	}
}
