package mosaic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastermosaic/internal/testutil"
	"github.com/vk/rastermosaic/internal/vector"
)

type countingInspector struct {
	calls int
	code  int
	err   error
}

func (c *countingInspector) EPSG(string) (int, error) {
	c.calls++
	return c.code, c.err
}

func TestResolverOverrideIsUsedVerbatim(t *testing.T) {
	t.Parallel()
	in := &countingInspector{code: 25832}
	r := &Resolver{Inspector: in}

	code, err := r.Resolve(VectorUnit{Path: "x.geojson", EPSGOverride: 4326})
	require.NoError(t, err)
	assert.Equal(t, 4326, code)
	assert.Zero(t, in.calls, "override must not trigger inspection")
}

func TestResolverDetectsEmbeddedCode(t *testing.T) {
	t.Parallel()
	path := testutil.WriteGeoJSON(t, t.TempDir(), "a.geojson", 25833,
		testutil.Feature{Geometry: testutil.Square(0, 0, 1), Class: 1})

	code, err := NewResolver().Resolve(VectorUnit{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 25833, code)
}

func TestResolverFailsWithoutCode(t *testing.T) {
	t.Parallel()
	path := testutil.WriteGeoJSON(t, t.TempDir(), "a.geojson", 0,
		testutil.Feature{Geometry: testutil.Square(0, 0, 1), Class: 1})

	_, err := NewResolver().Resolve(VectorUnit{Path: path})
	var crsErr *CRSResolutionError
	require.True(t, errors.As(err, &crsErr))
	assert.Equal(t, path, crsErr.Unit)
	assert.ErrorIs(t, err, vector.ErrNoCRS)
}
