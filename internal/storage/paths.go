package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
)

const (
	// WindowsPathLimit is the longest asset path accepted on Windows.
	WindowsPathLimit = 250

	maxSlugLen       = 50
	maxFolderSlugLen = 16
)

var (
	slugReplacer = strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_", `\`, "_", "|", "_",
		"?", "_", "*", "_", ".", "_", ",", "_", " ", "_", "(", "_", ")", "_", "#", "_",
	)
	dashRun = regexp.MustCompile(`-+`)
)

// Resolver derives the local paths of an asset file under each storage root.
type Resolver struct {
	// MaxPathLen is the longest path accepted. Zero disables the check.
	MaxPathLen int
}

// NewResolver creates a Resolver with the path limit of the current platform.
func NewResolver() *Resolver {
	r := &Resolver{}
	if runtime.GOOS == "windows" {
		r.MaxPathLen = WindowsPathLimit
	}
	return r
}

// Paths returns one path per storage root for the resolved file variant, creating
// the asset folder under every root that is used. Roots whose paths exceed
// MaxPathLen are skipped and returned as PathTooLongErrors instead. An unresolved
// variant yields no paths.
func (r *Resolver) Paths(asset *domain.AssetData, variant *domain.FileVariant, roots []string) ([]string, []*errpkg.PathTooLongError, error) {
	serverName := ServerFileName(variant)
	if serverName == "" {
		return nil, nil, nil
	}

	folder := AssetFolderName(asset)
	file := LocalFileName(asset, serverName)

	var (
		paths   []string
		tooLong []*errpkg.PathTooLongError
	)
	for _, root := range roots {
		dir := filepath.Join(root, folder)
		full := filepath.Join(dir, file)

		if r.exceeds(dir) {
			tooLong = append(tooLong, &errpkg.PathTooLongError{Root: root, Path: dir, Limit: r.MaxPathLen})
			continue
		}
		if r.exceeds(full) {
			tooLong = append(tooLong, &errpkg.PathTooLongError{Root: root, Path: full, Limit: r.MaxPathLen})
			continue
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create asset folder %s: %w", dir, err)
		}
		paths = append(paths, full)
	}
	return paths, tooLong, nil
}

func (r *Resolver) exceeds(p string) bool {
	return r.MaxPathLen > 0 && len(p) > r.MaxPathLen
}

// AssetFolderName is the per-asset folder created under a storage root.
func AssetFolderName(asset *domain.AssetData) string {
	return truncate(Slugify(asset.Name), maxFolderSlugLen) + "_" + asset.ID
}

// LocalFileName converts a server file name into the name stored on disk.
func LocalFileName(asset *domain.AssetData, serverName string) string {
	name := strings.ReplaceAll(serverName, "blend_", "")
	name = strings.ReplaceAll(name, "resolution_", "")
	return Slugify(asset.Name) + "_" + name
}

// ServerFileName returns the server-side file name of a resolved variant.
func ServerFileName(variant *domain.FileVariant) string {
	if variant == nil {
		return ""
	}
	if variant.FileName != "" {
		return variant.FileName
	}
	return FileNameFromURL(variant.URL)
}

// FileNameFromURL extracts the last path segment of a URL without its query.
func FileNameFromURL(rawURL string) string {
	name := rawURL[strings.LastIndexByte(rawURL, '/')+1:]
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}

// Slugify lowercases s and normalizes separator characters so it can be used
// as part of a file name.
func Slugify(s string) string {
	slug := slugReplacer.Replace(strings.ToLower(s))
	slug = strings.Trim(slug, "-")
	slug = dashRun.ReplaceAllString(slug, "-")
	return truncate(slug, maxSlugLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
