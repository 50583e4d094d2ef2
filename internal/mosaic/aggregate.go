package mosaic

import (
	"context"
	"errors"
	"sort"

	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/raster"
)

// Aggregate merges tiles into one raster at dst, written with the
// intermediate profile. Tiles are merged in unit index order, so a later
// unit wins where tiles overlap. Pixels covered by no tile hold nodata.
func Aggregate(ctx context.Context, tiles []TileDescriptor, dst string) (raster.Meta, error) {
	logger := ctxlog.FromContext(ctx)
	if len(tiles) == 0 {
		return raster.Meta{}, &AggregationError{Err: raster.ErrNoTiles}
	}

	ordered := make([]TileDescriptor, len(tiles))
	copy(ordered, tiles)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Unit.Index < ordered[j].Unit.Index })

	inputs := make([]raster.MosaicInput, 0, len(ordered))
	for _, t := range ordered {
		meta, err := tileMeta(t.Path)
		if err != nil {
			return raster.Meta{}, &AggregationError{Tile: t.Path, Err: err}
		}
		if meta.NoData != NoData {
			return raster.Meta{}, &AggregationError{Tile: t.Path, Err: errors.New("tile nodata differs from the run nodata")}
		}
		inputs = append(inputs, raster.MosaicInput{Path: t.Path, Meta: meta})
	}

	m, err := raster.NewMosaic(inputs)
	if err != nil {
		return raster.Meta{}, &AggregationError{Err: err}
	}
	logger.Info("Merging tiles.", "tiles", m.Len(), "extent", m.Meta().Extent().String(), "width", m.Meta().Width, "height", m.Meta().Height)

	if err := raster.WriteFile(ctx, dst, m, raster.IntermediateProfile()); err != nil {
		return raster.Meta{}, &AggregationError{Err: err}
	}
	return m.Meta(), nil
}

func tileMeta(path string) (raster.Meta, error) {
	r, err := raster.Open(path)
	if err != nil {
		return raster.Meta{}, err
	}
	defer r.Close()
	return r.Meta(), nil
}
