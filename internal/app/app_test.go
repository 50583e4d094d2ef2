package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastermosaic/internal/ledger"
	"github.com/vk/rastermosaic/internal/mosaic"
	"github.com/vk/rastermosaic/internal/publish"
	"github.com/vk/rastermosaic/internal/raster"
	"github.com/vk/rastermosaic/internal/report"
	"github.com/vk/rastermosaic/internal/testutil"
)

func baseConfig(in, out string) Config {
	return Config{
		InputDir:       in,
		OutputDir:      out,
		OutputFilename: "mosaic.tif",
		Workers:        2,
		Attribute:      mosaic.DefaultAttribute,
		Resolution:     mosaic.DefaultResolution,
		TileProfile:    raster.DefaultTileProfile(),
		LogFormat:      "text",
		LogLevel:       "debug",
	}
}

func writeUnits(t *testing.T, dir string) {
	t.Helper()
	testutil.WriteGeoJSON(t, dir, "a.geojson", 25832, testutil.Feature{Geometry: testutil.Square(0, 0, 1), Class: 1})
	testutil.WriteGeoJSON(t, dir, "b.geojson", 25832, testutil.Feature{Geometry: testutil.Square(3, 0, 1), Class: 2})
}

func TestNewConfig(t *testing.T) {
	t.Parallel()
	in, out := t.TempDir(), t.TempDir()

	testCases := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "invalid log-format"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log-level"},
		{"bad port", func(c *Config) { c.StatusPort = 70000 }, "invalid status port"},
		{"bad publish", func(c *Config) { c.Publish = &publish.Config{Endpoint: "x"} }, "invalid publish settings"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "worker count"},
		{"missing input", func(c *Config) { c.InputDir = filepath.Join(in, "nope") }, "input directory"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig(in, out)
			tc.modify(&cfg)
			got, err := NewConfig(cfg)
			if tc.wantErr == "" {
				require.NoError(t, err)
				if diff := cmp.Diff(&cfg, got); diff != "" {
					t.Errorf("NewConfig() mismatch (-want +got):\n%s", diff)
				}
				return
			}
			var usage *mosaic.UsageError
			require.True(t, errors.As(err, &usage), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRunWritesArtifactReportAndLedger(t *testing.T) {
	t.Parallel()
	in, out := t.TempDir(), t.TempDir()
	writeUnits(t, in)

	cfg := baseConfig(in, out)
	cfg.LedgerPath = filepath.Join(t.TempDir(), "runs.db")
	logs := &testutil.SafeBuffer{}
	a := NewApp(logs, &cfg)

	res, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "mosaic.tif"))

	rep, err := report.Read(report.PathFor(res.Artifact))
	require.NoError(t, err)
	assert.Equal(t, "succeeded", rep.Status)
	assert.Equal(t, res.RunID, rep.RunID)
	assert.Equal(t, 2, rep.Tiles)

	l, err := ledger.Open(context.Background(), cfg.LedgerPath)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.Runs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, ledger.StatusSucceeded, runs[0].Status)
	assert.Equal(t, 2, runs[0].Units)

	status := a.tracker.snapshot()
	assert.Equal(t, "done", status.Stage)
	assert.Equal(t, 2, status.Done)
	assert.True(t, status.Finished)

	testutil.AssertLogContains(t, logs, "Starting mosaic run.", "Mosaic run finished.")
}

func TestRunFailureWritesReport(t *testing.T) {
	t.Parallel()
	in, out := t.TempDir(), t.TempDir()
	testutil.WriteGeoJSON(t, in, "a.geojson", 0, testutil.Feature{Geometry: testutil.Square(0, 0, 1), Class: 1})

	cfg := baseConfig(in, out)
	res, err := NewApp(io.Discard, &cfg).Run(context.Background())

	var crsErr *mosaic.CRSResolutionError
	require.True(t, errors.As(err, &crsErr), "got %T: %v", err, err)
	rep, rerr := report.Read(report.PathFor(filepath.Join(out, "mosaic.tif")))
	require.NoError(t, rerr)
	assert.Equal(t, "failed", rep.Status)
	assert.Equal(t, res.RunID, rep.RunID)
	require.Len(t, rep.Failures, 1)
}

func TestRunPublishesToPresignedURL(t *testing.T) {
	t.Parallel()
	in, out := t.TempDir(), t.TempDir()
	writeUnits(t, in)

	var uploaded atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		uploaded.Store(n)
	}))
	defer srv.Close()

	cfg := baseConfig(in, out)
	cfg.Publish = &publish.Config{UploadURL: srv.URL + "/mosaics/mosaic.tif"}
	res, err := NewApp(io.Discard, &cfg).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, uploaded.Load())

	rep, err := report.Read(report.PathFor(res.Artifact))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/mosaics/mosaic.tif", rep.Published)
}

func TestStatusServer(t *testing.T) {
	t.Parallel()
	cfg := baseConfig(t.TempDir(), t.TempDir())
	a := NewApp(io.Discard, &cfg)
	a.tracker.StageChanged("run-1", mosaic.StageDispatch)
	a.tracker.UnitsDiscovered("run-1", 4)
	a.tracker.UnitFinished("run-1", mosaic.UnitResult{})
	a.tracker.UnitFinished("run-1", mosaic.UnitResult{Err: errors.New("x")})

	ctx := context.Background()
	addr, err := a.startStatusServer(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer a.closeStatusServer(ctx)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(body))

	resp, err = http.Get(fmt.Sprintf("http://%s/status", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, "dispatch", st.Stage)
	assert.Equal(t, 4, st.Units)
	assert.Equal(t, 1, st.Done)
	assert.Equal(t, 1, st.Failed)
	assert.False(t, st.Finished)
}

func TestConvert(t *testing.T) {
	t.Parallel()
	in := testutil.WriteGeoJSON(t, t.TempDir(), "parcel.geojson", 25833,
		testutil.Feature{Geometry: testutil.Square(0, 0, 1), Class: 9})
	target := filepath.Join(t.TempDir(), "tiles")

	cfg, err := NewConvertConfig(ConvertConfig{InputPath: in, TargetDir: target, LogFormat: "text", LogLevel: "info"})
	require.NoError(t, err)
	path, err := Convert(context.Background(), io.Discard, cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(target, "parcel.tif"), path)

	_, err = NewConvertConfig(ConvertConfig{InputPath: target, TargetDir: target})
	var usage *mosaic.UsageError
	require.True(t, errors.As(err, &usage))

	_, err = NewConvertConfig(ConvertConfig{InputPath: in, TargetDir: target, EPSG: 70000, LogLevel: "info"})
	require.True(t, errors.As(err, &usage), "got %T: %v", err, err)
	assert.Contains(t, err.Error(), "invalid EPSG code 70000")
}

func TestHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := ledger.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, l.Begin(ctx, "run-42", "/in", "/out/m.tif"))
	l.UnitFinished("run-42", mosaic.UnitResult{Unit: mosaic.VectorUnit{Index: 0, Path: "/in/a.geojson"}, Err: os.ErrNotExist})
	require.NoError(t, l.Close())

	var buf bytes.Buffer
	require.NoError(t, History(ctx, &buf, &HistoryConfig{LedgerPath: path, Limit: 10}))
	assert.Contains(t, buf.String(), "run-42")
	assert.Contains(t, buf.String(), "running")

	buf.Reset()
	require.NoError(t, History(ctx, &buf, &HistoryConfig{LedgerPath: path, RunID: "run-42"}))
	assert.Contains(t, buf.String(), "/in/a.geojson")
	assert.Contains(t, buf.String(), "file does not exist")
}
