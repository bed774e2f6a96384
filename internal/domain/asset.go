package domain

import (
	"encoding/json"
	"fmt"
)

// BlendFileType marks the canonical full-fidelity file of an asset.
const BlendFileType = "blend"

// Resolutions maps resolution tags to their pixel size.
var Resolutions = map[string]int{
	"resolution_0_5K": 512,
	"resolution_1K":   1024,
	"resolution_2K":   2048,
	"resolution_4K":   4096,
	"resolution_8K":   8192,
}

// ResolutionSize returns the pixel size of a resolution tag.
func ResolutionSize(tag string) (int, bool) {
	size, ok := Resolutions[tag]
	return size, ok
}

// FileVariant is one downloadable file of an asset. URL and FileName are filled in
// once the download URL has been resolved.
type FileVariant struct {
	FileType    string `json:"fileType" validate:"required"`
	DownloadURL string `json:"downloadUrl" validate:"required,asset_url"`
	URL         string `json:"url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// AssetData describes an asset as sent by the host application. Fields this service
// does not interpret are kept in Extra and written back on marshal.
type AssetData struct {
	ID         string        `json:"id" validate:"required"`
	Name       string        `json:"name" validate:"required"`
	Files      []FileVariant `json:"files" validate:"omitempty,dive"`
	Resolution string        `json:"resolution,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var assetKnownKeys = []string{"id", "name", "files", "resolution"}

func (a *AssetData) UnmarshalJSON(b []byte) error {
	type plain AssetData
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode asset data: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return fmt.Errorf("decode asset data: %w", err)
	}
	for _, k := range assetKnownKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*a = AssetData(p)
	return nil
}

func (a AssetData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+4)
	for k, v := range a.Extra {
		out[k] = v
	}
	out["id"] = a.ID
	out["name"] = a.Name
	out["files"] = a.Files
	if a.Resolution != "" {
		out["resolution"] = a.Resolution
	}
	return json.Marshal(out)
}
