package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
	"github.com/veranemoloko/asset-downloader/internal/storage"
)

// DefaultChunkSize is the number of bytes read and written per step.
const DefaultChunkSize = 32 * 4096

// ProgressFunc receives progress reports of a running download.
type ProgressFunc func(domain.ProgressUpdate)

// DownloadRequest describes one file to fetch.
type DownloadRequest struct {
	URL        string
	Path       string
	APIKey     string
	Resolution string
}

// DownloadResult is the outcome of a completed download.
type DownloadResult struct {
	Path      string
	BytesRead int64
}

// DownloadWorker streams resolved asset files to disk.
type DownloadWorker struct {
	fileStorage *storage.FileStorage
	httpClient  *http.Client
	chunkSize   int
	logger      *slog.Logger
}

// NewDownloadWorker creates a DownloadWorker. A non-positive chunkSize selects
// DefaultChunkSize.
func NewDownloadWorker(fileStorage *storage.FileStorage, timeout time.Duration, chunkSize int, logger *slog.Logger) *DownloadWorker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &DownloadWorker{
		fileStorage: fileStorage,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// Download fetches req.URL into req.Path, discarding any previous partial file.
//
// Cancellation of ctx is observed between chunks only: the request itself runs on
// a context detached from ctx, so a chunk read in flight always completes. On
// cancellation or any failure the partial file is removed. Cancellation returns
// errors.ErrCancelled; network and response faults are *errors.TransportError.
func (w *DownloadWorker) Download(ctx context.Context, req DownloadRequest, report ProgressFunc) (DownloadResult, error) {
	result := DownloadResult{Path: req.Path}

	file, err := w.fileStorage.CreateFile(req.Path)
	if err != nil {
		return result, fmt.Errorf("create file: %w", err)
	}

	bytesRead, err := w.fetch(ctx, file, req, report)
	result.BytesRead = bytesRead

	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close file: %w", closeErr)
	}
	if err != nil {
		if delErr := w.fileStorage.DeleteUnfinished(req.Path); delErr != nil {
			w.logger.Warn("failed to remove unfinished file",
				"path", req.Path,
				"error", delErr,
			)
		}
		return result, err
	}

	w.logger.Info("download completed",
		"path", req.Path,
		"size", humanize.IBytes(uint64(bytesRead)),
	)
	return result, nil
}

func (w *DownloadWorker) fetch(ctx context.Context, dst *os.File, req DownloadRequest, report ProgressFunc) (int64, error) {
	httpReq, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, &errpkg.TransportError{URL: req.URL, Err: err}
	}
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		w.logger.Error("download request failed",
			"url", req.URL,
			"error", err,
		)
		return 0, &errpkg.TransportError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &errpkg.TransportError{URL: req.URL, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	total := resp.ContentLength
	if total < 0 {
		return 0, &errpkg.TransportError{URL: req.URL, Err: errpkg.ErrMissingContentLength}
	}

	if err := w.checkFreeSpace(filepath.Dir(req.Path), total); err != nil {
		return 0, err
	}

	report(domain.ProgressText(0, fmt.Sprintf("Downloading %s %s", SizeLabel(total), req.Resolution)))

	buf := make([]byte, w.chunkSize)
	var downloaded int64
	for {
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if ctx.Err() != nil {
				w.logger.Info("download cancelled",
					"path", req.Path,
					"received", humanize.IBytes(uint64(downloaded)),
				)
				return downloaded, errpkg.ErrCancelled
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return downloaded, fmt.Errorf("write file: %w", err)
			}
			downloaded += int64(n)
			if total > 0 {
				report(domain.Progress(int(downloaded * 100 / total)))
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return downloaded, &errpkg.TransportError{URL: req.URL, Err: readErr}
		}
	}

	if downloaded < total {
		return downloaded, &errpkg.TransportError{
			URL: req.URL,
			Err: fmt.Errorf("%w: got %d of %d bytes", errpkg.ErrTruncated, downloaded, total),
		}
	}
	return downloaded, nil
}

func (w *DownloadWorker) checkFreeSpace(dir string, need int64) error {
	free, err := w.fileStorage.FreeSpace(dir)
	if err != nil {
		w.logger.Warn("free space check skipped", "dir", dir, "error", err)
		return nil
	}
	if free < uint64(need) {
		return fmt.Errorf("%w: need %s, have %s", errpkg.ErrInsufficientSpace,
			humanize.IBytes(uint64(need)), humanize.IBytes(free))
	}
	return nil
}

// SizeLabel renders a file size as whole kilobytes below one mebibyte and as whole
// megabytes above.
func SizeLabel(size int64) string {
	const mib = 1024 * 1024
	if size < mib {
		return fmt.Sprintf("%dKB", size/1024)
	}
	return fmt.Sprintf("%dMB", size/mib)
}
