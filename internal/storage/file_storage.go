package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// FileStorage provides the file operations performed on asset paths inside the
// storage roots.
type FileStorage struct {
	logger *slog.Logger
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(logger *slog.Logger) *FileStorage {
	return &FileStorage{logger: logger}
}

// CreateFile opens path for writing, truncating any previous partial download and
// creating the asset folder if needed.
func (s *FileStorage) CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

// FileExists checks whether a regular file exists at path.
func (s *FileStorage) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FreeSpace returns the bytes available to unprivileged users on the volume holding
// dir.
func (s *FileStorage) FreeSpace(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", dir, err)
	}
	return usage.Free, nil
}

// DeleteUnfinished removes a partially written file and its asset folder when the
// folder is left empty.
func (s *FileStorage) DeleteUnfinished(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove unfinished file: %w", err)
	}

	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read asset dir: %w", err)
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("remove empty asset dir: %w", err)
		}
	}
	return nil
}

// CopyAsset mirrors an asset file into another storage root, together with the
// subdirectories next to it (textures and other auxiliary resources). Targets that
// already exist are left untouched.
func (s *FileStorage) CopyAsset(src, dst string) error {
	if !s.FileExists(dst) {
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy asset file: %w", err)
		}
		s.logger.Debug("asset file copied", "from", src, "to", dst)
	}

	srcDir, dstDir := filepath.Dir(src), filepath.Dir(dst)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read asset dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		target := filepath.Join(dstDir, entry.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := copyTree(filepath.Join(srcDir, entry.Name()), target); err != nil {
			return fmt.Errorf("copy asset subdir %s: %w", entry.Name(), err)
		}
		s.logger.Debug("asset subdir copied", "from", srcDir, "to", target)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}
