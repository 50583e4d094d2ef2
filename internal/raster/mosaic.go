package raster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
)

// ErrNoTiles is returned by NewMosaic for an empty tile set.
var ErrNoTiles = errors.New("raster: mosaic has no tiles")

// MosaicInput is one tile of a mosaic. Inputs are merged in slice order.
type MosaicInput struct {
	Path string
	Meta Meta
}

type mosaicTile struct {
	order    int
	path     string
	meta     Meta
	col, row int // offset of the tile inside the mosaic, in pixels
	rect     rtreego.Rect
}

// Bounds implements rtreego.Spatial in mosaic pixel space.
func (t *mosaicTile) Bounds() rtreego.Rect { return t.rect }

// Mosaic is a Source that merges tiles lazily. Each ReadWindow call opens
// only the tiles whose footprint intersects the window, found through an
// R-tree of tile footprints.
type Mosaic struct {
	meta  Meta
	tiles []*mosaicTile
	index *rtreego.Rtree
}

// NewMosaic builds a mosaic over inputs. All inputs must share resolution,
// nodata and CRS and sit on the same pixel grid; nothing is resampled. The
// mosaic covers the union of the input extents.
func NewMosaic(inputs []MosaicInput) (*Mosaic, error) {
	if len(inputs) == 0 {
		return nil, ErrNoTiles
	}
	ref := inputs[0].Meta
	ext := ref.Extent()
	for _, in := range inputs[1:] {
		m := in.Meta
		switch {
		case !sameRes(m.ResX, ref.ResX) || !sameRes(m.ResY, ref.ResY):
			return nil, fmt.Errorf("%s: resolution %gx%g differs from %gx%g", in.Path, m.ResX, m.ResY, ref.ResX, ref.ResY)
		case m.NoData != ref.NoData:
			return nil, fmt.Errorf("%s: nodata %d differs from %d", in.Path, m.NoData, ref.NoData)
		case m.EPSG != ref.EPSG:
			return nil, fmt.Errorf("%s: EPSG:%d differs from EPSG:%d", in.Path, m.EPSG, ref.EPSG)
		}
		ext = ext.Union(m.Extent())
	}

	meta := Meta{
		Width:   int(math.Round((ext.MaxX - ext.MinX) / ref.ResX)),
		Height:  int(math.Round((ext.MaxY - ext.MinY) / ref.ResY)),
		OriginX: ext.MinX,
		OriginY: ext.MaxY,
		ResX:    ref.ResX,
		ResY:    ref.ResY,
		NoData:  ref.NoData,
		EPSG:    ref.EPSG,
	}

	mo := &Mosaic{meta: meta, index: rtreego.NewTree(2, 25, 50)}
	for i, in := range inputs {
		col, okX := gridOffset(in.Meta.OriginX-meta.OriginX, meta.ResX)
		row, okY := gridOffset(meta.OriginY-in.Meta.OriginY, meta.ResY)
		if !okX || !okY {
			return nil, fmt.Errorf("%s: origin (%g, %g) is not on the mosaic pixel grid", in.Path, in.Meta.OriginX, in.Meta.OriginY)
		}
		rect, err := rtreego.NewRect(
			rtreego.Point{float64(col), float64(row)},
			[]float64{float64(in.Meta.Width), float64(in.Meta.Height)},
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Path, err)
		}
		t := &mosaicTile{order: i, path: in.Path, meta: in.Meta, col: col, row: row, rect: rect}
		mo.tiles = append(mo.tiles, t)
		mo.index.Insert(t)
	}
	return mo, nil
}

func sameRes(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

func gridOffset(d, res float64) (int, bool) {
	f := d / res
	r := math.Round(f)
	return int(r), math.Abs(f-r) < 1e-6
}

func (mo *Mosaic) Meta() Meta { return mo.meta }

// Len returns the number of tiles in the mosaic.
func (mo *Mosaic) Len() int { return len(mo.tiles) }

// ReadWindow composes the window from every intersecting tile in merge
// order. Tile pixels equal to nodata are transparent; any other value
// overwrites what earlier tiles wrote.
func (mo *Mosaic) ReadWindow(ctx context.Context, x, y, w, h int, dst []uint16) error {
	dst = dst[:w*h]
	fill(dst, mo.meta.NoData)

	q, err := rtreego.NewRect(rtreego.Point{float64(x), float64(y)}, []float64{float64(w), float64(h)})
	if err != nil {
		return err
	}
	hits := mo.index.SearchIntersect(q)
	tiles := make([]*mosaicTile, 0, len(hits))
	for _, hit := range hits {
		tiles = append(tiles, hit.(*mosaicTile))
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].order < tiles[j].order })

	var scratch []uint16
	for _, t := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		x0, x1 := max(x, t.col), min(x+w, t.col+t.meta.Width)
		y0, y1 := max(y, t.row), min(y+h, t.row+t.meta.Height)
		if x0 >= x1 || y0 >= y1 {
			continue
		}
		iw, ih := x1-x0, y1-y0
		if cap(scratch) < iw*ih {
			scratch = make([]uint16, iw*ih)
		}
		scratch = scratch[:iw*ih]
		if err := mo.readTile(ctx, t, x0-t.col, y0-t.row, iw, ih, scratch); err != nil {
			return err
		}
		for row := 0; row < ih; row++ {
			out := dst[(y0-y+row)*w+(x0-x):]
			for col, v := range scratch[row*iw : (row+1)*iw] {
				if v != mo.meta.NoData {
					out[col] = v
				}
			}
		}
	}
	return nil
}

func (mo *Mosaic) readTile(ctx context.Context, t *mosaicTile, x, y, w, h int, dst []uint16) error {
	r, err := Open(t.path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.ReadWindow(ctx, x, y, w, h, dst)
}
