package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/require"
)

// Square returns an axis-aligned square polygon with its lower left corner
// at (x, y).
func Square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// Feature is a polygon fixture with a classification value. A nil Class
// leaves the attribute out.
type Feature struct {
	Geometry orb.Geometry
	Class    any
}

// GeoJSON builds a feature collection. epsg of 0 omits the crs member.
func GeoJSON(t *testing.T, epsg int, features ...Feature) []byte {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		if f.Class != nil {
			gf.Properties["class"] = f.Class
		}
		fc.Append(gf)
	}
	if epsg > 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]any{
				"type":       "name",
				"properties": map[string]any{"name": CRSName(epsg)},
			},
		}
	}
	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	return data
}

// CRSName is the OGC URN of an EPSG code.
func CRSName(epsg int) string {
	return "urn:ogc:def:crs:EPSG::" + strconv.Itoa(epsg)
}

// WriteGeoJSON writes a feature collection to dir/name and returns the path.
func WriteGeoJSON(t *testing.T, dir, name string, epsg int, features ...Feature) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, GeoJSON(t, epsg, features...), 0o644))
	return path
}
