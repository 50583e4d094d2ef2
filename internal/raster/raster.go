package raster

import (
	"context"
	"fmt"
	"math"
)

// Extent is an axis-aligned rectangle in CRS units.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// Union returns the smallest extent containing both e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

// Intersects reports whether the two extents share interior area.
func (e Extent) Intersects(o Extent) bool {
	return e.MinX < o.MaxX && o.MinX < e.MaxX && e.MinY < o.MaxY && o.MinY < e.MaxY
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g %g, %g %g]", e.MinX, e.MinY, e.MaxX, e.MaxY)
}

// Meta is the georeferencing and shape of a single-band raster. Rasters are
// always north-up: OriginX/OriginY is the outer corner of the top-left pixel.
type Meta struct {
	Width, Height int
	OriginX       float64
	OriginY       float64
	ResX, ResY    float64 // positive pixel sizes
	NoData        uint16
	EPSG          int
}

// Extent returns the area covered by the raster.
func (m Meta) Extent() Extent {
	return Extent{
		MinX: m.OriginX,
		MinY: m.OriginY - float64(m.Height)*m.ResY,
		MaxX: m.OriginX + float64(m.Width)*m.ResX,
		MaxY: m.OriginY,
	}
}

// GridFor returns the metadata of a raster that covers ext on the grid of
// resolution (resX, resY) anchored at the CRS origin. The extent is snapped
// outwards so that rasters built independently line up pixel for pixel.
func GridFor(ext Extent, resX, resY float64, nodata uint16, epsg int) (Meta, error) {
	if resX <= 0 || resY <= 0 {
		return Meta{}, fmt.Errorf("resolution must be positive, got %gx%g", resX, resY)
	}
	if ext.MaxX < ext.MinX || ext.MaxY < ext.MinY {
		return Meta{}, fmt.Errorf("invalid extent %v", ext)
	}
	const eps = 1e-9
	x0 := math.Floor(ext.MinX/resX + eps)
	x1 := math.Ceil(ext.MaxX/resX - eps)
	y0 := math.Floor(ext.MinY/resY + eps)
	y1 := math.Ceil(ext.MaxY/resY - eps)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return Meta{
		Width:   int(x1 - x0),
		Height:  int(y1 - y0),
		OriginX: x0 * resX,
		OriginY: y1 * resY,
		ResX:    resX,
		ResY:    resY,
		NoData:  nodata,
		EPSG:    epsg,
	}, nil
}

// Source is anything that can produce pixels for a window of a raster.
// ReadWindow fills dst (len >= w*h, row-major) with the pixels of the
// rectangle starting at column x, row y. Pixels outside the raster are nodata.
type Source interface {
	Meta() Meta
	ReadWindow(ctx context.Context, x, y, w, h int, dst []uint16) error
}

// Raster is an in-memory single-band raster.
type Raster struct {
	meta Meta
	Pix  []uint16
}

// New allocates a raster filled with the nodata value.
func New(m Meta) (*Raster, error) {
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("raster size must be positive, got %dx%d", m.Width, m.Height)
	}
	n := m.Width * m.Height
	if n/m.Width != m.Height {
		return nil, fmt.Errorf("raster size %dx%d overflows", m.Width, m.Height)
	}
	r := &Raster{meta: m, Pix: make([]uint16, n)}
	if m.NoData != 0 {
		for i := range r.Pix {
			r.Pix[i] = m.NoData
		}
	}
	return r, nil
}

func (r *Raster) Meta() Meta { return r.meta }

// At returns the pixel at column x, row y.
func (r *Raster) At(x, y int) uint16 { return r.Pix[y*r.meta.Width+x] }

// Set stores v at column x, row y.
func (r *Raster) Set(x, y int, v uint16) { r.Pix[y*r.meta.Width+x] = v }

func (r *Raster) ReadWindow(_ context.Context, x, y, w, h int, dst []uint16) error {
	copyWindow(r.meta, r.Pix, x, y, w, h, dst)
	return nil
}

// copyWindow copies the window (x,y,w,h) of a full raster buffer into dst,
// padding with nodata where the window leaves the raster.
func copyWindow(m Meta, pix []uint16, x, y, w, h int, dst []uint16) {
	for row := 0; row < h; row++ {
		out := dst[row*w : row*w+w]
		sy := y + row
		if sy < 0 || sy >= m.Height {
			fill(out, m.NoData)
			continue
		}
		for col := range out {
			sx := x + col
			if sx < 0 || sx >= m.Width {
				out[col] = m.NoData
				continue
			}
			out[col] = pix[sy*m.Width+sx]
		}
	}
}

func fill(buf []uint16, v uint16) {
	for i := range buf {
		buf[i] = v
	}
}
