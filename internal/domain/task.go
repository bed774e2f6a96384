package domain

// Prefs is the caller configuration forwarded by the host application.
type Prefs struct {
	APIKey     string `json:"api_key"`
	AppID      string `json:"app_id" validate:"required"`
	SceneID    string `json:"scene_id"`
	BinaryPath string `json:"binary_path"`
	DebugValue int    `json:"debug_value"`
}

// DownloadTask is one asset download request together with its identifier.
type DownloadTask struct {
	TaskID       string    `json:"task_id"`
	AssetData    AssetData `json:"asset_data"`
	Resolution   string    `json:"resolution"`
	DownloadDirs []string  `json:"download_dirs"`
	Prefs        Prefs     `json:"PREFS"`
	FilePath     string    `json:"file_path,omitempty"`
}

// AppID returns the application instance that owns the task.
func (t *DownloadTask) AppID() string {
	return t.Prefs.AppID
}

// TaskState holds the mutable part of a task while it runs.
type TaskState struct {
	Progress  int
	Text      string
	Terminal  bool
	Cancelled bool
}

// ProgressUpdate carries the fields of a progress report that changed.
// Nil fields keep their previous value.
type ProgressUpdate struct {
	Progress *int
	Text     *string
}

// Progress builds a ProgressUpdate with only the percentage set.
func Progress(p int) ProgressUpdate {
	return ProgressUpdate{Progress: &p}
}

// ProgressText builds a ProgressUpdate with both percentage and text set.
func ProgressText(p int, text string) ProgressUpdate {
	return ProgressUpdate{Progress: &p, Text: &text}
}

// Text builds a ProgressUpdate with only the text set.
func Text(text string) ProgressUpdate {
	return ProgressUpdate{Text: &text}
}
