// Package postprocess runs the external processing executable against downloaded
// asset files.
package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
	"github.com/veranemoloko/asset-downloader/internal/metrics"
)

// Commands understood by the processing script.
const (
	CommandGenerateResolutions = "generate_resolutions"
	CommandUnpack              = "unpack"
)

// Job is one invocation of the processing executable.
type Job struct {
	BinaryPath string
	FilePath   string
	Command    string
	DebugValue int
	AssetData  domain.AssetData
}

type sideChannel struct {
	FPath      string           `json:"fpath"`
	DebugValue int              `json:"debug_value"`
	AssetData  domain.AssetData `json:"asset_data"`
	Command    string           `json:"command"`
}

// Process is a detached child started by Start.
type Process struct {
	PID int

	cmd      *exec.Cmd
	dataFile string
	done     chan struct{}
	err      error
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Dispatcher launches the processing executable with a JSON side-channel file and
// owns every detached child until it exits.
type Dispatcher struct {
	scriptPath string
	tempDir    string
	logger     *slog.Logger

	mu       sync.Mutex
	children map[int]*Process
	closed   bool
	wg       sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Side-channel files are written to tempDir, or
// to the system temp directory when it is empty.
func NewDispatcher(scriptPath, tempDir string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		scriptPath: scriptPath,
		tempDir:    tempDir,
		logger:     logger,
		children:   make(map[int]*Process),
	}
}

// Run executes the job and waits for the child to exit. Cancelling ctx kills it.
func (d *Dispatcher) Run(ctx context.Context, job Job) error {
	cmd, dataFile, err := d.prepare(ctx, job)
	if err != nil {
		return err
	}
	defer d.removeDataFile(dataFile)

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := d.start(cmd); err != nil {
		return err
	}
	metrics.PostprocessRuns.WithLabelValues(job.Command, "sync").Inc()
	d.logger.Info("processing started", "command", job.Command, "pid", cmd.Process.Pid, "path", job.FilePath)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s %s: %w", job.Command, job.FilePath, err)
	}
	d.logger.Info("processing finished", "command", job.Command, "pid", cmd.Process.Pid)
	return nil
}

// Start launches the job without waiting for it. The child is reaped in the
// background and killed by Shutdown if it is still running.
func (d *Dispatcher) Start(job Job) (*Process, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errpkg.ErrShuttingDown
	}

	cmd, dataFile, err := d.prepare(context.Background(), job)
	if err != nil {
		return nil, err
	}

	if err := d.start(cmd); err != nil {
		d.removeDataFile(dataFile)
		return nil, err
	}
	metrics.PostprocessRuns.WithLabelValues(job.Command, "detached").Inc()

	proc := &Process{
		PID:      cmd.Process.Pid,
		cmd:      cmd,
		dataFile: dataFile,
		done:     make(chan struct{}),
	}
	d.children[proc.PID] = proc
	d.wg.Add(1)
	go d.reap(proc, job.Command)

	d.logger.Info("detached processing started", "command", job.Command, "pid", proc.PID, "path", job.FilePath)
	return proc, nil
}

func (d *Dispatcher) reap(proc *Process, command string) {
	defer d.wg.Done()

	proc.err = proc.cmd.Wait()
	d.removeDataFile(proc.dataFile)

	d.mu.Lock()
	delete(d.children, proc.PID)
	d.mu.Unlock()
	close(proc.done)

	if proc.err != nil {
		d.logger.Warn("detached processing exited with error", "command", command, "pid", proc.PID, "error", proc.err)
		return
	}
	d.logger.Info("detached processing finished", "command", command, "pid", proc.PID)
}

// Shutdown kills every running detached child and waits until all of them have
// been reaped or ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	for pid, proc := range d.children {
		if err := proc.cmd.Process.Kill(); err != nil {
			d.logger.Warn("failed to kill child", "pid", pid, "error", err)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for child processes: %w", ctx.Err())
	}
}

func (d *Dispatcher) prepare(ctx context.Context, job Job) (*exec.Cmd, string, error) {
	if job.BinaryPath == "" {
		return nil, "", errpkg.ErrNoBinaryPath
	}

	dataFile, err := d.writeDataFile(job)
	if err != nil {
		return nil, "", err
	}

	cmd := exec.CommandContext(ctx, job.BinaryPath,
		"--background",
		"-noaudio",
		job.FilePath,
		"--python", d.scriptPath,
		"--", dataFile,
	)
	configurePriority(cmd)
	return cmd, dataFile, nil
}

func (d *Dispatcher) start(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	if err := lowerPriority(cmd.Process.Pid); err != nil {
		d.logger.Debug("could not lower child priority", "pid", cmd.Process.Pid, "error", err)
	}
	return nil
}

func (d *Dispatcher) writeDataFile(job Job) (string, error) {
	f, err := os.CreateTemp(d.tempDir, "resdata-*.json")
	if err != nil {
		return "", fmt.Errorf("create side-channel file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	err = enc.Encode(sideChannel{
		FPath:      job.FilePath,
		DebugValue: job.DebugValue,
		AssetData:  job.AssetData,
		Command:    job.Command,
	})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write side-channel file: %w", err)
	}
	return f.Name(), nil
}

func (d *Dispatcher) removeDataFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("failed to remove side-channel file", "path", path, "error", err)
	}
}
