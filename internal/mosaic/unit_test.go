package mosaic

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDiscoverAssignsIndexQualifiedIDs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for _, name := range []string{"b.geojson", "a.json", "sub/a.geojson", "notes.txt", ".hidden.geojson"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}

	units, err := Discover(context.Background(), dir, 3035)
	require.NoError(t, err)

	want := []VectorUnit{
		{Index: 0, ID: "00000_a", Path: filepath.Join(dir, "a.json"), EPSGOverride: 3035},
		{Index: 1, ID: "00001_b", Path: filepath.Join(dir, "b.geojson"), EPSGOverride: 3035},
		{Index: 2, ID: "00002_a", Path: filepath.Join(dir, "sub", "a.geojson"), EPSGOverride: 3035},
	}
	if diff := cmp.Diff(want, units); diff != "" {
		t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, "00002_a.tif", units[2].TileName())
}

func TestDiscoverMissingDirectory(t *testing.T) {
	t.Parallel()
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), 0)
	require.Error(t, err)
}

func TestDiscoverIncludesSymlinkedUnits(t *testing.T) {
	t.Parallel()
	dir, elsewhere := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.geojson"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(elsewhere, "real.geojson"), []byte("{}"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(elsewhere, "real.geojson"), filepath.Join(dir, "b.geojson")))

	units, err := Discover(context.Background(), dir, 0)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, "00001_b", units[1].ID)
}
