package vector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const twoParcels = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::25832"}},
  "features": [
    {"type": "Feature", "properties": {"class": 3},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
    {"type": "Feature", "properties": {"class": "4"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[5,5],[6,5],[6,6],[5,5]]]]}},
    {"type": "Feature", "properties": {"class": 9},
     "geometry": {"type": "LineString", "coordinates": [[0,0],[9,9]]}}
  ]
}`

func TestLoad(t *testing.T) {
	t.Parallel()
	path := writeFile(t, t.TempDir(), "parcels.geojson", twoParcels)

	layer, err := Load(path, "class")
	require.NoError(t, err)
	require.Len(t, layer.Features, 2)
	assert.Equal(t, int64(3), layer.Features[0].Class)
	assert.Equal(t, int64(4), layer.Features[1].Class)
	assert.IsType(t, orb.MultiPolygon{}, layer.Features[1].Geometry)
	assert.Equal(t, 1, layer.Skipped)
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{6, 6}}, layer.Bound())
}

func TestLoadAttributeErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	missing := writeFile(t, dir, "missing.geojson", `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"other":1},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)
	_, err := Load(missing, "class")
	var attrErr *AttributeError
	require.ErrorAs(t, err, &attrErr)
	assert.Nil(t, attrErr.Value)
	assert.ErrorContains(t, err, `attribute "class" is missing`)

	fractional := writeFile(t, dir, "fractional.geojson", `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"class":1.5},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}}]}`)
	_, err = Load(fractional, "class")
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, 1.5, attrErr.Value)

	_, err = Load(writeFile(t, dir, "broken.geojson", `{"type":`), "class")
	assert.Error(t, err)
}

func TestInspectorEPSG(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var in GeoJSONInspector

	code, err := in.EPSG(writeFile(t, dir, "named.geojson", twoParcels))
	require.NoError(t, err)
	assert.Equal(t, 25832, code)

	code, err = in.EPSG(writeFile(t, dir, "legacy.geojson", `{"type":"FeatureCollection","crs":{"type":"EPSG","properties":{"code":3035}},"features":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 3035, code)

	bare := writeFile(t, dir, "bare.geojson", `{"type":"FeatureCollection","features":[]}`)
	_, err = in.EPSG(bare)
	assert.ErrorIs(t, err, ErrNoCRS)

	writeFile(t, dir, "bare.prj", `PROJCS["ETRS89 / UTM zone 32N",GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],AUTHORITY["EPSG","6258"]],AUTHORITY["EPSG","4258"]],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AUTHORITY["EPSG","25832"]]`)
	code, err = in.EPSG(bare)
	require.NoError(t, err)
	assert.Equal(t, 25832, code)
}

func TestParseCRSName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want int
	}{
		{"EPSG:4326", 4326},
		{"epsg:2056", 2056},
		{"urn:ogc:def:crs:EPSG::25833", 25833},
		{"urn:ogc:def:crs:EPSG:6.6:3857", 3857},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", 4326},
		{"http://www.opengis.net/def/crs/EPSG/0/31467", 31467},
		{"LOCAL_CS[\"unknown\"]", 0},
		{"", 0},
	}
	for _, tc := range cases {
		got, ok := ParseCRSName(tc.in)
		assert.Equal(t, tc.want != 0, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}
