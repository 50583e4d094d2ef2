package raster

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTile rasterizes a single rectangle and stores it as a tile.
func writeTile(t *testing.T, dir string, name string, x0, y0, x1, y1 float64, v uint16) MosaicInput {
	t.Helper()
	r, err := Rasterize(context.Background(), []Shape{{Geometry: square(x0, y0, x1, y1), Value: v}},
		RasterizeOptions{ResX: 1, ResY: 1, EPSG: 25832})
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, WriteFile(context.Background(), path, r, DefaultTileProfile()))
	return MosaicInput{Path: path, Meta: r.Meta()}
}

func readMosaic(t *testing.T, mo *Mosaic) *Raster {
	t.Helper()
	out, err := New(mo.Meta())
	require.NoError(t, err)
	m := mo.Meta()
	require.NoError(t, mo.ReadWindow(context.Background(), 0, 0, m.Width, m.Height, out.Pix))
	return out
}

func TestMosaicUnionExtentAndNoData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeTile(t, dir, "a.tif", 0, 0, 2, 2, 1)
	b := writeTile(t, dir, "b.tif", 4, 1, 6, 3, 2)

	mo, err := NewMosaic([]MosaicInput{a, b})
	require.NoError(t, err)
	assert.Equal(t, Extent{MinX: 0, MinY: 0, MaxX: 6, MaxY: 3}, mo.Meta().Extent())
	assert.Equal(t, 2, mo.Len())

	out := readMosaic(t, mo)
	assert.Equal(t, 4, out.CountValue(1))
	assert.Equal(t, 4, out.CountValue(2))
	assert.Equal(t, 18-8, out.CountValue(0))
	assert.Equal(t, uint16(0), out.At(3, 1), "gap between tiles is nodata")
}

func TestMosaicOverlapLastWriterWins(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := writeTile(t, dir, "a.tif", 0, 0, 3, 3, 1)
	b := writeTile(t, dir, "b.tif", 2, 0, 5, 3, 2)

	ab, err := NewMosaic([]MosaicInput{a, b})
	require.NoError(t, err)
	ba, err := NewMosaic([]MosaicInput{b, a})
	require.NoError(t, err)

	assert.Equal(t, uint16(2), readMosaic(t, ab).At(2, 0))
	assert.Equal(t, uint16(1), readMosaic(t, ba).At(2, 0))
}

func TestMosaicNoDataIsTransparent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// b covers a's footprint with its bounding box but only burns its right half.
	a := writeTile(t, dir, "a.tif", 0, 0, 4, 2, 1)
	r, err := Rasterize(context.Background(), []Shape{
		{Geometry: square(2, 0, 4, 2), Value: 3},
		{Geometry: square(0, 0, 0.4, 0.4), Value: 3},
	}, RasterizeOptions{ResX: 1, ResY: 1, EPSG: 25832})
	require.NoError(t, err)
	bPath := filepath.Join(dir, "b.tif")
	require.NoError(t, WriteFile(context.Background(), bPath, r, DefaultTileProfile()))

	mo, err := NewMosaic([]MosaicInput{a, {Path: bPath, Meta: r.Meta()}})
	require.NoError(t, err)
	out := readMosaic(t, mo)
	assert.Equal(t, uint16(1), out.At(0, 0))
	assert.Equal(t, uint16(3), out.At(3, 1))
}

func TestMosaicRejectsMismatch(t *testing.T) {
	t.Parallel()
	base := Meta{Width: 2, Height: 2, ResX: 1, ResY: 1, EPSG: 25832}
	cases := map[string]Meta{
		"resolution": {Width: 2, Height: 2, ResX: 0.5, ResY: 0.5, EPSG: 25832},
		"nodata":     {Width: 2, Height: 2, ResX: 1, ResY: 1, NoData: 255, EPSG: 25832},
		"crs":        {Width: 2, Height: 2, ResX: 1, ResY: 1, EPSG: 4326},
		"grid":       {Width: 2, Height: 2, OriginX: 0.5, ResX: 1, ResY: 1, EPSG: 25832},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMosaic([]MosaicInput{{Path: "a", Meta: base}, {Path: "b", Meta: m}})
			assert.Error(t, err)
		})
	}

	_, err := NewMosaic(nil)
	assert.ErrorIs(t, err, ErrNoTiles)
}

func TestMosaicManyTilesAcrossBlocks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var inputs []MosaicInput
	for i := 0; i < 12; i++ {
		x := float64(i * 30)
		inputs = append(inputs, writeTile(t, dir, fmt.Sprintf("t%02d.tif", i), x, 0, x+20, 40, uint16(i+1)))
	}
	mo, err := NewMosaic(inputs)
	require.NoError(t, err)

	path := filepath.Join(dir, "mosaic.tif")
	require.NoError(t, WriteFile(context.Background(), path, mo, Profile{Codec: CodecZSTD, Predictor: true, Tiled: true, BlockSize: 64}))

	rd, err := Open(path)
	require.NoError(t, err)
	defer rd.Close()
	out, err := rd.ReadAll(context.Background())
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		assert.Equal(t, 20*40, out.CountValue(uint16(i+1)), "tile %d", i)
	}
}
