package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastermosaic/internal/mosaic"
	"github.com/vk/rastermosaic/internal/raster"
)

func sampleResult() *mosaic.Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &mosaic.Result{
		RunID:    "run-7",
		Artifact: "/out/m.tif",
		Started:  start,
		Finished: start.Add(90 * time.Second),
		Stage:    mosaic.StageDone,
		Units:    3,
		Tiles:    make([]mosaic.TileDescriptor, 3),
		Mosaic: raster.Meta{
			Width: 4000, Height: 2500, OriginX: 100, OriginY: 600,
			ResX: 0.25, ResY: 0.25, EPSG: 25832,
		},
		Bytes: 3 * 1000 * 1000,
		Durations: map[mosaic.Stage]time.Duration{
			mosaic.StageCompress: 2 * time.Second,
			mosaic.StageDispatch: 80 * time.Second,
		},
	}
}

func TestNewSuccessfulRun(t *testing.T) {
	t.Parallel()
	r := New("/in", sampleResult(), nil)

	assert.Equal(t, "succeeded", r.Status)
	assert.Equal(t, "done", r.Stage)
	assert.Equal(t, "1m30s", r.Elapsed)
	assert.Equal(t, "3.0 MB", r.Size)
	require.NotNil(t, r.Mosaic)
	assert.Equal(t, "10,000,000", r.Mosaic.Pixels)
	assert.Equal(t, [4]float64{100, -25, 1100, 600}, r.Mosaic.Extent)
	assert.Equal(t, []StageTiming{{"dispatch", "1m20s"}, {"compress", "2s"}}, r.Stages)
}

func TestNewFailedRun(t *testing.T) {
	t.Parallel()
	res := sampleResult()
	res.Artifact, res.Bytes, res.Mosaic = "", 0, raster.Meta{}
	res.Failures = []mosaic.UnitResult{{Unit: mosaic.VectorUnit{Path: "/in/b.geojson"}, Err: errors.New("no crs")}}
	res.Skipped = []mosaic.VectorUnit{{Path: "/in/c.geojson"}}

	r := New("/in", res, &mosaic.InterruptError{Stage: mosaic.StageDispatch, Err: context.Canceled})
	assert.Equal(t, "interrupted", r.Status)
	assert.Contains(t, r.Error, "interrupted during dispatch")
	assert.Nil(t, r.Mosaic)
	assert.Empty(t, r.Size)
	assert.Equal(t, []Failure{{Unit: "/in/b.geojson", Error: "no crs"}}, r.Failures)
	assert.Equal(t, []string{"/in/c.geojson"}, r.NotStarted)
}

func TestWriteAndRead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := PathFor(filepath.Join(dir, "m.tif"))
	assert.True(t, strings.HasSuffix(path, "m.tif.report.yaml"))

	want := New("/in", sampleResult(), nil)
	require.NoError(t, Write(path, want))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id: run-7")
	assert.Contains(t, string(data), "extent: [100, -25, 1100, 600]")

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")
}
