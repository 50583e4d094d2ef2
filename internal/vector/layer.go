package vector

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one polygonal feature with its classification value.
type Feature struct {
	Index    int
	Geometry orb.Geometry // orb.Polygon or orb.MultiPolygon
	Class    int64
}

// Layer is the polygon content of one unit.
type Layer struct {
	Path     string
	Features []Feature
	// Skipped counts features without areal geometry.
	Skipped int
}

// Bound returns the bounding box of all features.
func (l *Layer) Bound() orb.Bound {
	var b orb.Bound
	for i, f := range l.Features {
		if i == 0 {
			b = f.Geometry.Bound()
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

// AttributeError reports a feature whose classification attribute is
// missing or not an integer.
type AttributeError struct {
	Feature   int
	Attribute string
	Value     any
}

func (e *AttributeError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("feature %d: attribute %q is missing", e.Feature, e.Attribute)
	}
	return fmt.Sprintf("feature %d: attribute %q = %v is not an integer", e.Feature, e.Attribute, e.Value)
}

// Load reads the GeoJSON FeatureCollection at path and extracts every
// polygonal feature with its integer attribute.
func Load(path, attribute string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	layer := &Layer{Path: path}
	for i, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			layer.Skipped++
			continue
		}
		v, ok := f.Properties[attribute]
		if !ok || v == nil {
			return nil, &AttributeError{Feature: i, Attribute: attribute}
		}
		class, ok := integer(v)
		if !ok {
			return nil, &AttributeError{Feature: i, Attribute: attribute, Value: v}
		}
		layer.Features = append(layer.Features, Feature{Index: i, Geometry: f.Geometry, Class: class})
	}
	return layer, nil
}

func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
