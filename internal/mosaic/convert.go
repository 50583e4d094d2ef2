package mosaic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/raster"
	"github.com/vk/rastermosaic/internal/vector"
)

// Fixed raster parameters of a run.
const (
	NoData            uint16  = 0
	DefaultResolution float64 = 0.25
	DefaultAttribute          = "class"
)

// ConvertConfig is the immutable configuration handed to every worker.
type ConvertConfig struct {
	TargetDir  string
	Attribute  string
	Resolution float64
	Profile    raster.Profile
}

// DefaultConvertConfig returns the settings used when only a target
// directory is known.
func DefaultConvertConfig(targetDir string) ConvertConfig {
	return ConvertConfig{
		TargetDir:  targetDir,
		Attribute:  DefaultAttribute,
		Resolution: DefaultResolution,
		Profile:    raster.DefaultTileProfile(),
	}
}

// TileDescriptor describes a tile produced from one unit. It travels from
// the worker back to the orchestrator so that the merge never depends on
// re-reading the tile directory.
type TileDescriptor struct {
	Unit     VectorUnit
	Path     string
	EPSG     int
	Meta     raster.Meta
	Profile  raster.Profile
	Features int
	Skipped  int
}

// Extent returns the area covered by the tile.
func (t TileDescriptor) Extent() raster.Extent { return t.Meta.Extent() }

// UnitConverter turns one unit into one tile.
type UnitConverter interface {
	Convert(ctx context.Context, u VectorUnit) (TileDescriptor, error)
}

// Converter rasterizes a unit and encodes it as a tile.
type Converter struct {
	cfg      ConvertConfig
	resolver *Resolver
}

// NewConverter returns a Converter. A nil resolver inspects GeoJSON metadata.
func NewConverter(cfg ConvertConfig, resolver *Resolver) *Converter {
	if resolver == nil {
		resolver = NewResolver()
	}
	return &Converter{cfg: cfg, resolver: resolver}
}

// Convert resolves the unit's CRS, rasterizes its polygons and writes the
// tile under TargetDir. Either exactly one complete tile exists afterwards,
// or an error is returned and no tile of this unit is left behind.
func (c *Converter) Convert(ctx context.Context, u VectorUnit) (TileDescriptor, error) {
	logger := ctxlog.FromContext(ctx).With("unit", u.Path)

	epsg, err := c.resolver.Resolve(u)
	if err != nil {
		return TileDescriptor{}, err
	}
	logger.Debug("CRS resolved.", "epsg", epsg, "override", u.EPSGOverride > 0)

	r, layer, err := c.rasterize(ctx, u, epsg)
	if err != nil {
		return TileDescriptor{}, &ConversionError{Step: StepRasterize, Unit: u.Path, Err: err}
	}
	logger.Debug("Features rasterized.", "features", len(layer.Features), "bounds", layer.Bound())
	if layer.Skipped > 0 {
		logger.Warn("Ignoring features without polygon geometry.", "count", layer.Skipped)
	}

	path := filepath.Join(c.cfg.TargetDir, u.TileName())
	if err := raster.WriteFile(ctx, path, r, c.cfg.Profile); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("Failed to remove stale tile.", "path", path, "error", rmErr)
		}
		return TileDescriptor{}, &ConversionError{Step: StepEncode, Unit: u.Path, Err: err}
	}

	logger.Debug("Tile written.", "path", path, "size", fmt.Sprintf("%dx%d", r.Meta().Width, r.Meta().Height))
	return TileDescriptor{
		Unit:     u,
		Path:     path,
		EPSG:     epsg,
		Meta:     r.Meta(),
		Profile:  c.cfg.Profile,
		Features: len(layer.Features),
		Skipped:  layer.Skipped,
	}, nil
}

func (c *Converter) rasterize(ctx context.Context, u VectorUnit, epsg int) (*raster.Raster, *vector.Layer, error) {
	layer, err := vector.Load(u.Path, c.cfg.Attribute)
	if err != nil {
		return nil, nil, err
	}
	shapes := make([]raster.Shape, 0, len(layer.Features))
	for _, f := range layer.Features {
		if f.Class < 0 || f.Class > math.MaxUint16 {
			return nil, nil, fmt.Errorf("feature %d: %s = %d does not fit UInt16", f.Index, c.cfg.Attribute, f.Class)
		}
		shapes = append(shapes, raster.Shape{Geometry: f.Geometry, Value: uint16(f.Class)})
	}
	r, err := raster.Rasterize(ctx, shapes, raster.RasterizeOptions{
		ResX:   c.cfg.Resolution,
		ResY:   c.cfg.Resolution,
		NoData: NoData,
		EPSG:   epsg,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, layer, nil
}

// ConvertUnit converts a single unit file into a tile in targetDir with the
// default resolution, attribute and tile profile, and returns the tile path.
// epsgOverride of 0 means detect.
func ConvertUnit(ctx context.Context, inputPath, targetDir string, epsgOverride int) (string, error) {
	u := VectorUnit{ID: stem(inputPath), Path: inputPath, EPSGOverride: epsgOverride}
	tile, err := NewConverter(DefaultConvertConfig(targetDir), nil).Convert(ctx, u)
	if err != nil {
		return "", err
	}
	return tile.Path, nil
}
