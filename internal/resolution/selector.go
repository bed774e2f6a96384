// Package resolution picks which file of an asset to download for a requested
// resolution.
package resolution

import (
	"fmt"

	"github.com/veranemoloko/asset-downloader/internal/domain"
	errpkg "github.com/veranemoloko/asset-downloader/internal/errors"
)

// Select returns the file to fetch for the requested resolution tag and the tag that
// was actually chosen. The returned pointer refers into files so that resolved URLs
// can be stored on the asset.
//
// An exact fileType match wins. Otherwise the resolution whose pixel size is closest
// to the requested one is used, earlier files winning ties. Without any resolution
// files the blend file is returned.
func Select(requested string, files []domain.FileVariant) (*domain.FileVariant, string, error) {
	if len(files) == 0 {
		return nil, "", errpkg.ErrNoFiles
	}

	var (
		orig    *domain.FileVariant
		closest *domain.FileVariant
		minDist int
	)
	target, targetKnown := domain.ResolutionSize(requested)

	for i := range files {
		f := &files[i]

		if f.FileType == domain.BlendFileType {
			orig = f
			if requested == domain.BlendFileType {
				return f, domain.BlendFileType, nil
			}
		}

		if f.FileType == requested {
			return f, requested, nil
		}

		size, ok := domain.ResolutionSize(f.FileType)
		if !ok || !targetKnown {
			continue
		}
		dist := abs(target - size)
		if closest == nil || dist < minDist {
			closest = f
			minDist = dist
		}
	}

	if closest != nil {
		return closest, closest.FileType, nil
	}
	if orig == nil {
		return nil, "", fmt.Errorf("select %q: %w", requested, errpkg.ErrNoVariant)
	}
	return orig, domain.BlendFileType, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
