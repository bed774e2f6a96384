// Package client talks to the asset server to turn a file variant's download
// endpoint into a signed file URL.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
	"github.com/veranemoloko/asset-downloader/internal/storage"
)

// Texts shown to the user when the download URL cannot be resolved.
const (
	MsgNeedsFullPlan    = "You need Full plan to get this item."
	MsgNotFound         = "Url not found - 404."
	MsgServerError      = "Server error"
	MsgConnectionError  = "Connection Error"
	MsgInvalidResponse  = "Invalid server response"
	msgUnexpectedStatus = "Unexpected server response: %d"
)

// AssetClient resolves download URLs against the asset server.
type AssetClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAssetClient creates an AssetClient whose requests time out after timeout.
func NewAssetClient(timeout time.Duration, logger *slog.Logger) *AssetClient {
	return &AssetClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type downloadURLResponse struct {
	FilePath string `json:"filePath"`
}

// SetAuthHeaders adds the JSON accept header and, when apiKey is set, the bearer
// authorization header.
func SetAuthHeaders(h http.Header, apiKey string) {
	h.Set("Accept", "application/json")
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
}

// ResolveDownloadURL asks the asset server for the signed URL of variant and stores
// it together with the server file name on the variant. Failures are returned as
// *errors.ResolveError carrying the text to show to the user.
func (c *AssetClient) ResolveDownloadURL(ctx context.Context, variant *domain.FileVariant, prefs domain.Prefs) error {
	endpoint, err := url.Parse(variant.DownloadURL)
	if err != nil {
		return &errpkg.ResolveError{Message: MsgConnectionError, Err: err}
	}
	q := endpoint.Query()
	q.Set("scene_uuid", prefs.SceneID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return &errpkg.ResolveError{Message: MsgConnectionError, Err: err}
	}
	SetAuthHeaders(req.Header, prefs.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("download url request failed", "url", variant.DownloadURL, "error", err)
		return &errpkg.ResolveError{Message: MsgConnectionError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("download url rejected", "url", variant.DownloadURL, "status", resp.StatusCode)
		return &errpkg.ResolveError{StatusCode: resp.StatusCode, Message: statusMessage(resp.StatusCode)}
	}

	var body downloadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &errpkg.ResolveError{StatusCode: resp.StatusCode, Message: MsgInvalidResponse, Err: err}
	}
	if body.FilePath == "" {
		return &errpkg.ResolveError{
			StatusCode: resp.StatusCode,
			Message:    MsgInvalidResponse,
			Err:        fmt.Errorf("response has no filePath"),
		}
	}

	variant.URL = body.FilePath
	variant.FileName = storage.FileNameFromURL(body.FilePath)

	c.logger.Debug("download url resolved", "file_type", variant.FileType, "file_name", variant.FileName)
	return nil
}

func statusMessage(code int) string {
	switch {
	case code == http.StatusForbidden:
		return MsgNeedsFullPlan
	case code == http.StatusNotFound:
		return MsgNotFound
	case code >= http.StatusInternalServerError:
		return MsgServerError
	default:
		return fmt.Sprintf(msgUnexpectedStatus, code)
	}
}
