package mosaic

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/rastermosaic/internal/fsutil"
)

// UnitExtensions are the file extensions discovered as vector units.
var UnitExtensions = []string{".geojson", ".json"}

// VectorUnit is one input feature collection.
type VectorUnit struct {
	Index        int    // position in discovery order; the merge order key
	ID           string // unique name, used for the tile file name
	Path         string
	EPSGOverride int // 0 means detect from the unit's metadata
}

// TileName is the file name of the unit's raster tile.
func (u VectorUnit) TileName() string { return u.ID + ".tif" }

func (u VectorUnit) String() string { return u.Path }

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Discover lists the units under inputDir in a stable order. Each unit gets
// an index-qualified ID, so units sharing a base name in different
// subdirectories still map to distinct tiles.
func Discover(ctx context.Context, inputDir string, epsgOverride int) ([]VectorUnit, error) {
	paths, err := fsutil.FindFilesByExtension(ctx, inputDir, UnitExtensions...)
	if err != nil {
		return nil, fmt.Errorf("discovering units in %s: %w", inputDir, err)
	}
	units := make([]VectorUnit, len(paths))
	for i, p := range paths {
		units[i] = VectorUnit{
			Index:        i,
			ID:           fmt.Sprintf("%05d_%s", i, stem(p)),
			Path:         p,
			EPSGOverride: epsgOverride,
		}
	}
	return units, nil
}
