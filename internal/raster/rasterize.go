package raster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// ErrNoShapes is returned by Rasterize when there is nothing to burn.
var ErrNoShapes = errors.New("raster: no polygon shapes to rasterize")

// Shape is a polygonal geometry burned into a raster with a fixed value.
type Shape struct {
	Geometry orb.Geometry // orb.Polygon or orb.MultiPolygon
	Value    uint16
}

// RasterizeOptions fixes the output grid of Rasterize.
type RasterizeOptions struct {
	ResX, ResY float64
	NoData     uint16
	EPSG       int
}

// Rasterize burns shapes into a new raster covering their combined bounds,
// snapped to the resolution grid. A pixel takes a shape's value when its
// center falls inside the shape (even-odd rule, so holes stay untouched).
// Shapes are burned in order; later shapes overwrite earlier ones.
func Rasterize(ctx context.Context, shapes []Shape, opts RasterizeOptions) (*Raster, error) {
	var ext Extent
	n := 0
	for _, s := range shapes {
		b, ok := polygonalBound(s.Geometry)
		if !ok {
			continue
		}
		e := Extent{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
		if n == 0 {
			ext = e
		} else {
			ext = ext.Union(e)
		}
		n++
	}
	if n == 0 {
		return nil, ErrNoShapes
	}

	meta, err := GridFor(ext, opts.ResX, opts.ResY, opts.NoData, opts.EPSG)
	if err != nil {
		return nil, err
	}
	r, err := New(meta)
	if err != nil {
		return nil, err
	}

	var xs []float64
	for _, s := range shapes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch g := s.Geometry.(type) {
		case orb.Polygon:
			xs = r.burn(g, s.Value, xs)
		case orb.MultiPolygon:
			for _, p := range g {
				xs = r.burn(p, s.Value, xs)
			}
		}
	}
	return r, nil
}

func polygonalBound(g orb.Geometry) (orb.Bound, bool) {
	switch g := g.(type) {
	case orb.Polygon:
		if len(g) == 0 || len(g[0]) < 3 {
			return orb.Bound{}, false
		}
		return g.Bound(), true
	case orb.MultiPolygon:
		if len(g) == 0 {
			return orb.Bound{}, false
		}
		return g.Bound(), true
	default:
		return orb.Bound{}, false
	}
}

// burn fills poly with v using a scanline pass over pixel centers. xs is a
// reusable crossing buffer and is returned for the next call.
func (r *Raster) burn(poly orb.Polygon, v uint16, xs []float64) []float64 {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return xs
	}
	m := r.meta
	b := poly.Bound()

	row0 := int(math.Floor((m.OriginY - b.Max[1]) / m.ResY))
	row1 := int(math.Ceil((m.OriginY - b.Min[1]) / m.ResY))
	row0, row1 = max(row0, 0), min(row1, m.Height-1)

	for row := row0; row <= row1; row++ {
		yc := m.OriginY - (float64(row)+0.5)*m.ResY
		xs = xs[:0]
		for _, ring := range poly {
			n := len(ring)
			for i := 0; i < n; i++ {
				p, q := ring[i], ring[(i+1)%n]
				if (p[1] <= yc && yc < q[1]) || (q[1] <= yc && yc < p[1]) {
					xs = append(xs, p[0]+(yc-p[1])*(q[0]-p[0])/(q[1]-p[1]))
				}
			}
		}
		if len(xs) < 2 {
			continue
		}
		sort.Float64s(xs)
		line := r.Pix[row*m.Width : (row+1)*m.Width]
		for i := 0; i+1 < len(xs); i += 2 {
			c0 := int(math.Ceil((xs[i]-m.OriginX)/m.ResX - 0.5))
			c1 := int(math.Ceil((xs[i+1]-m.OriginX)/m.ResX - 0.5))
			c0, c1 = max(c0, 0), min(c1, m.Width)
			for c := c0; c < c1; c++ {
				line[c] = v
			}
		}
	}
	return xs
}

// CountValue returns how many pixels of r equal v.
func (r *Raster) CountValue(v uint16) int {
	n := 0
	for _, p := range r.Pix {
		if p == v {
			n++
		}
	}
	return n
}

func (r *Raster) String() string {
	return fmt.Sprintf("%dx%d@%gx%g EPSG:%d %v", r.meta.Width, r.meta.Height, r.meta.ResX, r.meta.ResY, r.meta.EPSG, r.meta.Extent())
}
