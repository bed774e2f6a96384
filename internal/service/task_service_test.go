package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/asset-downloader/internal/client"
	"github.com/veranemoloko/asset-downloader/internal/config"
	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
	"github.com/veranemoloko/asset-downloader/internal/postprocess"
	repo "github.com/veranemoloko/asset-downloader/internal/repository"
	"github.com/veranemoloko/asset-downloader/internal/storage"
	"github.com/veranemoloko/asset-downloader/internal/worker"
)

const testAppID = "app-1"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

// assetServer plays the asset API: it resolves download URLs and serves the files.
type assetServer struct {
	*httptest.Server

	content       []byte
	resolveStatus int
	fileHits      atomic.Int32

	mu       sync.Mutex
	authSeen []string
	block    chan struct{}
}

func newAssetServer(t *testing.T, size int) *assetServer {
	t.Helper()
	s := &assetServer{
		content:       []byte(strings.Repeat("b", size)),
		resolveStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/downloads/{fileType}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.authSeen = append(s.authSeen, r.Header.Get("Authorization"))
		s.mu.Unlock()

		if s.resolveStatus != http.StatusOK {
			w.WriteHeader(s.resolveStatus)
			return
		}
		fileType := r.PathValue("fileType")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"filePath": "%s/files/blend_chair_%s.blend?sig=abc"}`, s.URL, fileType)
	})
	mux.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, r *http.Request) {
		s.fileHits.Add(1)
		w.Header().Set("Content-Length", strconv.Itoa(len(s.content)))
		w.WriteHeader(http.StatusOK)

		if s.block == nil {
			_, _ = w.Write(s.content)
			return
		}
		// Send half, then trickle the rest until released so readers keep making
		// progress between chunks.
		sent := len(s.content) / 2
		_, _ = w.Write(s.content[:sent])
		w.(http.Flusher).Flush()
		for sent < len(s.content) {
			select {
			case <-s.block:
				_, _ = w.Write(s.content[sent:])
				return
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
			end := min(sent+64, len(s.content))
			if _, err := w.Write(s.content[sent:end]); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			sent = end
		}
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// blockDownloads slows file responses down after the first half until release is
// called or the test ends.
func (s *assetServer) blockDownloads(t *testing.T) (release func()) {
	s.block = make(chan struct{})
	var once sync.Once
	release = func() { once.Do(func() { close(s.block) }) }
	t.Cleanup(release)
	return release
}

func (s *assetServer) asset(fileTypes ...string) domain.AssetData {
	files := make([]domain.FileVariant, 0, len(fileTypes))
	for _, ft := range fileTypes {
		files = append(files, domain.FileVariant{
			FileType:    ft,
			DownloadURL: s.URL + "/api/v1/downloads/" + ft,
		})
	}
	return domain.AssetData{ID: "a1b2", Name: "Chair", Files: files}
}

type testEnv struct {
	tasks     *TaskService
	downloads *DownloadService
	registry  *repo.TaskRegistry
	resolver  *storage.Resolver
}

func newTestEnv(t *testing.T, poolSize int) *testEnv {
	t.Helper()
	logger := newTestLogger()
	cfg := &config.Config{WorkerPoolSize: poolSize}

	registry := repo.NewTaskRegistry()
	files := storage.NewFileStorage(logger)
	resolver := &storage.Resolver{}
	dispatcher := postprocess.NewDispatcher("/opt/resolutions_bg.py", t.TempDir(), logger)

	downloads := NewDownloadService(
		cfg,
		registry,
		client.NewAssetClient(5*time.Second, logger),
		resolver,
		storage.NewDedupChecker(files, logger),
		worker.NewDownloadWorker(files, time.Minute, 1024, logger),
		dispatcher,
		logger,
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = downloads.Shutdown(ctx)
		_ = dispatcher.Shutdown(ctx)
	})

	return &testEnv{
		tasks:     NewTaskService(registry, downloads, dispatcher, logger),
		downloads: downloads,
		registry:  registry,
		resolver:  resolver,
	}
}

func downloadRequest(asset domain.AssetData, resolution string, roots ...string) *domain.DownloadAssetRequest {
	return &domain.DownloadAssetRequest{
		AssetData:    asset,
		Resolution:   resolution,
		DownloadDirs: roots,
		Prefs:        domain.Prefs{APIKey: "key", AppID: testAppID, SceneID: "scene"},
	}
}

// waitForEntry polls the report endpoint until an entry of the wanted type arrives
// for the task.
func waitForEntry(t *testing.T, env *testEnv, taskID string, want domain.ReportType) *domain.ReportEntry {
	t.Helper()
	var found *domain.ReportEntry
	waitFor(t, 10*time.Second, func() bool {
		reports, err := env.tasks.Report(context.Background(), testAppID)
		require.NoError(t, err)
		if e, ok := reports[taskID]; ok && e.Type == want {
			found = e
			return true
		}
		return false
	})
	return found
}

func TestTaskService_DownloadFinishes(t *testing.T) {
	srv := newAssetServer(t, 5000)
	env := newTestEnv(t, 2)
	rootA, rootB := t.TempDir(), t.TempDir()

	req := downloadRequest(srv.asset("blend", "resolution_1K", "resolution_4K"), "resolution_2K", rootA, rootB)
	taskID, err := env.tasks.CreateDownload(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	entry := waitForEntry(t, env, taskID, domain.ReportFinishedType)
	require.NotNil(t, entry.DownloadTask)
	assert.Equal(t, testAppID, entry.AppID)
	assert.Equal(t, taskID, entry.TaskID)
	assert.Equal(t, "resolution_1K", entry.Resolution)
	assert.Equal(t, "resolution_1K", entry.AssetData.Resolution)

	want := filepath.Join(rootA, "chair_a1b2", "chair_chair_1K.blend")
	assert.Equal(t, want, entry.FilePath)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, srv.content, data)

	srv.mu.Lock()
	assert.Contains(t, srv.authSeen, "Bearer key")
	srv.mu.Unlock()

	reports, err := env.tasks.Report(context.Background(), testAppID)
	require.NoError(t, err)
	assert.Empty(t, reports, "entries are delivered at most once")
}

func TestTaskService_AssetFoundOnDisk(t *testing.T) {
	srv := newAssetServer(t, 100)
	env := newTestEnv(t, 2)
	rootA, rootB := t.TempDir(), t.TempDir()

	existing := filepath.Join(rootB, "chair_a1b2", "chair_chair_2K.blend")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("cached"), 0o644))

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("blend", "resolution_2K"), "resolution_2K", rootA, rootB))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportFinishedType)
	primary := filepath.Join(rootA, "chair_a1b2", "chair_chair_2K.blend")
	assert.Equal(t, primary, entry.FilePath)

	data, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
	assert.Equal(t, int32(0), srv.fileHits.Load())
}

func TestTaskService_CachedAssetSurvivesMirrorFailure(t *testing.T) {
	srv := newAssetServer(t, 100)
	env := newTestEnv(t, 2)
	rootA, rootB := t.TempDir(), t.TempDir()

	primary := filepath.Join(rootA, "chair_a1b2", "chair_chair_2K.blend")
	require.NoError(t, os.MkdirAll(filepath.Dir(primary), 0o755))
	require.NoError(t, os.WriteFile(primary, []byte("cached"), 0o644))
	// The mirror target is a directory, so copying into the second root fails.
	require.NoError(t, os.MkdirAll(filepath.Join(rootB, "chair_a1b2", "chair_chair_2K.blend"), 0o755))

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("blend", "resolution_2K"), "resolution_2K", rootA, rootB))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportFinishedType)
	assert.Equal(t, primary, entry.FilePath)
	assert.Equal(t, int32(0), srv.fileHits.Load())

	data, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestTaskService_SkippedRootStillDownloadsToOther(t *testing.T) {
	srv := newAssetServer(t, 200_000)
	release := srv.blockDownloads(t)
	env := newTestEnv(t, 2)

	short := t.TempDir()
	want := filepath.Join(short, "chair_a1b2", "chair_chair_2K.blend")
	env.resolver.MaxPathLen = len(want)
	long := filepath.Join(t.TempDir(), strings.Repeat("x", len(want)))

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_2K"), "resolution_2K", long, short))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportErrorType)
	assert.Equal(t, TextPathTooLong, entry.Text)
	assert.Equal(t, domain.PathTooLongErrorTimeout, entry.Timeout)

	release()
	entry = waitForEntry(t, env, taskID, domain.ReportFinishedType)
	assert.Equal(t, want, entry.FilePath)
	assert.FileExists(t, want)
	assert.NoDirExists(t, long)
}

func TestTaskService_FoundOnDiskSkipsAdmission(t *testing.T) {
	srv := newAssetServer(t, 200_000)
	srv.blockDownloads(t)
	env := newTestEnv(t, 1)

	busy, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_1K"), "resolution_1K", t.TempDir()))
	require.NoError(t, err)
	waitFor(t, 10*time.Second, func() bool {
		state, err := env.registry.Get(busy)
		return err == nil && state.Progress >= 1
	})

	root := t.TempDir()
	cached := filepath.Join(root, "chair_a1b2", "chair_chair_2K.blend")
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0o755))
	require.NoError(t, os.WriteFile(cached, []byte("cached"), 0o644))

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_2K"), "resolution_2K", root))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportFinishedType)
	assert.Equal(t, cached, entry.FilePath)
}

func TestTaskService_ShutdownInterruptsRunningDownload(t *testing.T) {
	srv := newAssetServer(t, 200_000)
	srv.blockDownloads(t)
	env := newTestEnv(t, 1)

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_2K"), "resolution_2K", t.TempDir()))
	require.NoError(t, err)
	waitFor(t, 10*time.Second, func() bool {
		state, err := env.registry.Get(taskID)
		return err == nil && state.Progress >= 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, env.downloads.Shutdown(ctx))

	entry := waitForEntry(t, env, taskID, domain.ReportErrorType)
	assert.Equal(t, TextShuttingDown, entry.Text)
}

func TestTaskService_ResolveRejected(t *testing.T) {
	srv := newAssetServer(t, 100)
	srv.resolveStatus = http.StatusForbidden
	env := newTestEnv(t, 2)

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("blend"), "blend", t.TempDir()))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportErrorType)
	assert.Equal(t, client.MsgNeedsFullPlan, entry.Text)
	assert.Equal(t, domain.DefaultErrorTimeout, entry.Timeout)
	_, err = env.registry.Get(taskID)
	assert.ErrorIs(t, err, errpkg.ErrTaskNotFound)
}

func TestTaskService_NoFilesFails(t *testing.T) {
	srv := newAssetServer(t, 100)
	env := newTestEnv(t, 2)

	asset := srv.asset()
	asset.Files = nil
	taskID, err := env.tasks.CreateDownload(context.Background(), downloadRequest(asset, "blend", t.TempDir()))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportErrorType)
	assert.Contains(t, entry.Text, "no downloadable file")
}

func TestTaskService_PathTooLong(t *testing.T) {
	srv := newAssetServer(t, 100)
	env := newTestEnv(t, 2)
	env.resolver.MaxPathLen = 10

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("blend"), "blend", t.TempDir()))
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportErrorType)
	assert.Equal(t, TextPathTooLong, entry.Text)
	assert.Equal(t, domain.PathTooLongErrorTimeout, entry.Timeout)
	assert.Equal(t, int32(0), srv.fileHits.Load())
}

func TestTaskService_KillDownload(t *testing.T) {
	srv := newAssetServer(t, 200_000)
	srv.blockDownloads(t)
	env := newTestEnv(t, 2)
	root := t.TempDir()

	taskID, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_2K"), "resolution_2K", root))
	require.NoError(t, err)

	waitFor(t, 10*time.Second, func() bool {
		state, err := env.registry.Get(taskID)
		return err == nil && state.Progress >= 1
	})

	require.NoError(t, env.tasks.KillDownload(context.Background(), taskID))

	entry := waitForEntry(t, env, taskID, domain.ReportCancelledType)
	assert.Equal(t, TextCancelled, entry.Text)

	_, err = os.Stat(filepath.Join(root, "chair_a1b2", "chair_chair_2K.blend"))
	assert.True(t, os.IsNotExist(err), "partial file must be removed")
}

func TestTaskService_KillUnknownTask(t *testing.T) {
	env := newTestEnv(t, 1)

	err := env.tasks.KillDownload(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, errpkg.ErrTaskNotFound)
}

func TestTaskService_AdmissionBound(t *testing.T) {
	srv := newAssetServer(t, 200_000)
	srv.blockDownloads(t)
	env := newTestEnv(t, 1)

	first, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_1K"), "resolution_1K", t.TempDir()))
	require.NoError(t, err)
	waitFor(t, 10*time.Second, func() bool {
		state, err := env.registry.Get(first)
		return err == nil && state.Progress >= 1
	})

	second, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(srv.asset("resolution_2K"), "resolution_2K", t.TempDir()))
	require.NoError(t, err)
	waitFor(t, 10*time.Second, func() bool {
		state, err := env.registry.Get(second)
		return err == nil && state.Text == TextWaitingForSlot
	})
	assert.Equal(t, int32(1), srv.fileHits.Load())

	require.NoError(t, env.tasks.KillDownload(context.Background(), second))
	waitForEntry(t, env, second, domain.ReportCancelledType)
}

func TestTaskService_UnpackAfterDownload(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	srv := newAssetServer(t, 1000)
	env := newTestEnv(t, 1)

	binDir := t.TempDir()
	binary := filepath.Join(binDir, "blender")
	script := "#!/bin/sh\nfor last; do :; done\ncat \"$last\" > \"$(dirname \"$0\")/data.json\"\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))

	req := downloadRequest(srv.asset("blend", "resolution_4K"), "resolution_4K", t.TempDir())
	req.Prefs.BinaryPath = binary
	taskID, err := env.tasks.CreateDownload(context.Background(), req)
	require.NoError(t, err)

	entry := waitForEntry(t, env, taskID, domain.ReportFinishedType)

	raw, err := os.ReadFile(filepath.Join(binDir, "data.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"command": "unpack"`)
	assert.Contains(t, string(raw), `"resolution": "resolution_4K"`)
	assert.Contains(t, string(raw), entry.FilePath)
}

func TestTaskService_GenerateResolutions(t *testing.T) {
	env := newTestEnv(t, 1)

	_, err := env.tasks.GenerateResolutions(context.Background(), &domain.GenerateResolutionsRequest{
		FilePath:  "/assets/chair.blend",
		AssetData: domain.AssetData{ID: "1", Name: "Chair"},
	})
	assert.ErrorIs(t, err, errpkg.ErrNoBinaryPath)
}

func TestDownloadService_RejectsAfterShutdown(t *testing.T) {
	env := newTestEnv(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.downloads.Shutdown(ctx))

	_, err := env.tasks.CreateDownload(context.Background(),
		downloadRequest(domain.AssetData{ID: "1", Name: "Chair"}, "blend", t.TempDir()))
	assert.ErrorIs(t, err, errpkg.ErrShuttingDown)
}
