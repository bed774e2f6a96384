package domain

// DownloadAssetRequest represents the request body of POST /download-asset.
type DownloadAssetRequest struct {
	AssetData    AssetData `json:"asset_data" validate:"required"`
	Resolution   string    `json:"resolution" validate:"required"`
	DownloadDirs []string  `json:"download_dirs" validate:"required,min=1,dive,required,storage_root"`
	Prefs        Prefs     `json:"PREFS" validate:"required"`
}

// TaskIDResponse is returned when a download task has been accepted.
type TaskIDResponse struct {
	TaskID string `json:"task_id"`
}

// KillDownloadRequest names the task to cancel.
type KillDownloadRequest struct {
	TaskID string `json:"task_id" validate:"required"`
}

// ReportRequest names the application whose entries are collected.
type ReportRequest struct {
	AppID string `json:"app_id" validate:"required"`
}

// GenerateResolutionsRequest asks for detached post-processing of a local asset file.
type GenerateResolutionsRequest struct {
	FilePath  string    `json:"file_path" validate:"required,storage_root"`
	AssetData AssetData `json:"asset_data" validate:"required"`
	Prefs     Prefs     `json:"PREFS" validate:"required"`
}

// ProcessResponse is returned when a detached post-processing job was started.
type ProcessResponse struct {
	PID int `json:"pid"`
}
