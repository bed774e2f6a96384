package storage

import (
	"log/slog"

	"github.com/veranemoloko/asset-downloader/internal/domain"
)

// DedupChecker tells whether an asset file is already on disk and mirrors it
// between the two storage roots when only one of them holds it.
type DedupChecker struct {
	files  *FileStorage
	logger *slog.Logger
}

// NewDedupChecker creates a new DedupChecker.
func NewDedupChecker(files *FileStorage, logger *slog.Logger) *DedupChecker {
	return &DedupChecker{files: files, logger: logger}
}

// Check reports whether the first candidate path holds the asset file. Assets
// without a file list predate variants and are never considered present.
//
// A failed copy between the roots is returned alongside the result; present still
// reflects the first path after the copy attempt.
func (c *DedupChecker) Check(asset *domain.AssetData, paths []string) (bool, error) {
	if asset.Files == nil || len(paths) == 0 {
		return false, nil
	}

	var syncErr error
	if len(paths) == 2 {
		primary, secondary := paths[0], paths[1]
		switch {
		case c.files.FileExists(primary):
			syncErr = c.files.CopyAsset(primary, secondary)
		case c.files.FileExists(secondary):
			c.logger.Info("restoring asset from secondary storage root", "asset_id", asset.ID, "path", secondary)
			syncErr = c.files.CopyAsset(secondary, primary)
		}
		if syncErr != nil {
			c.logger.Warn("storage roots could not be synchronized", "asset_id", asset.ID, "error", syncErr)
		}
	}

	return c.files.FileExists(paths[0]), syncErr
}
