package domain

// ReportType tags an entry returned by the report endpoint.
type ReportType string

const (
	ReportErrorType     ReportType = "error-report"
	ReportProgressType  ReportType = "download-progress"
	ReportFinishedType  ReportType = "download-finished"
	ReportCancelledType ReportType = "download-cancelled"
)

// Seconds the host application keeps an error report on screen.
const (
	DefaultErrorTimeout     = 20
	PathTooLongErrorTimeout = 60
)

// ReportEntry is the latest state of a task waiting to be collected by its owning
// application. For finished downloads the whole task payload is inlined.
type ReportEntry struct {
	AppID    string     `json:"app_id"`
	Type     ReportType `json:"type"`
	Progress *int       `json:"progress,omitempty"`
	Text     string     `json:"text,omitempty"`
	Timeout  int        `json:"timeout,omitempty"`

	*DownloadTask
}
