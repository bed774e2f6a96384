package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	h "github.com/veranemoloko/asset-downloader/internal/api/http"
	"github.com/veranemoloko/asset-downloader/internal/client"
	cfgpkg "github.com/veranemoloko/asset-downloader/internal/config"
	"github.com/veranemoloko/asset-downloader/internal/postprocess"
	repo "github.com/veranemoloko/asset-downloader/internal/repository"
	svc "github.com/veranemoloko/asset-downloader/internal/service"
	"github.com/veranemoloko/asset-downloader/internal/storage"
	"github.com/veranemoloko/asset-downloader/internal/worker"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("configuration path not usable", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := cfgpkg.SetupLogger(cfg)
	logger.Info("configuration loaded successfully", "env", cfg.Environment, "ports", cfg.Ports)

	listener, err := h.Listen(cfg.Host, cfg.Ports)
	if err != nil {
		logger.Error("failed to bind listener", "error", err)
		os.Exit(1)
	}

	registry := repo.NewTaskRegistry()
	fileStorage := storage.NewFileStorage(logger)
	dispatcher := postprocess.NewDispatcher(cfg.ScriptPath, cfg.TempDir, logger)

	downloadService := svc.NewDownloadService(
		cfg,
		registry,
		client.NewAssetClient(cfg.ResolveTimeout, logger),
		storage.NewResolver(),
		storage.NewDedupChecker(fileStorage, logger),
		worker.NewDownloadWorker(fileStorage, cfg.DownloadTimeout, cfg.ChunkSize, logger),
		dispatcher,
		logger,
	)
	taskService := svc.NewTaskService(registry, downloadService, dispatcher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taskHandler := h.NewTaskHandler(taskService, cfg.KillDelay, stop, logger)
	server := h.NewServer(cfg, h.NewRouter(taskHandler, logger))

	go func() {
		logger.Info("server starting", "address", listener.Addr().String(), "pid", os.Getpid())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error { return server.Shutdown(gctx) })
	g.Go(func() error { return downloadService.Shutdown(gctx) })
	g.Go(func() error { return dispatcher.Shutdown(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}
