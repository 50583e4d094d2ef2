package jobfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/rastermosaic/internal/raster"
)

func ptr[T any](v T) *T { return &v }

func TestLoadFullJobFile(t *testing.T) {
	t.Setenv("RM_TEST_SECRET", "s3cr3t")
	path := filepath.Join(t.TempDir(), "job.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
input_dir          = "/data/in"
output_dir         = "/data/out"
output_name        = format("%s.tif", lower("MOSAIC"))
epsg               = 25832
workers            = 8
attribute          = "landuse"
resolution         = 0.5
failure_policy     = "best-effort"
keep_intermediates = true

tile_compression {
  codec      = "deflate"
  block_size = 512
}

ledger {
  path = "runs.db"
}

publish {
  endpoint   = "minio.local:9000"
  bucket     = "mosaics"
  access_key = "minio"
  secret_key = env("RM_TEST_SECRET")
  use_ssl    = false
}
`), 0o644))

	jf, err := Load(context.Background(), path)
	require.NoError(t, err)

	want := &File{
		InputDir:          ptr("/data/in"),
		OutputDir:         ptr("/data/out"),
		OutputName:        ptr("mosaic.tif"),
		EPSG:              ptr(25832),
		Workers:           ptr(8),
		Attribute:         ptr("landuse"),
		Resolution:        ptr(0.5),
		FailurePolicy:     ptr("best-effort"),
		KeepIntermediates: ptr(true),
		TileCompression:   &TileCompression{Codec: ptr("deflate"), BlockSize: ptr(512)},
		Ledger:            &Ledger{Path: "runs.db"},
		Publish: &Publish{
			Endpoint:  "minio.local:9000",
			Bucket:    "mosaics",
			AccessKey: "minio",
			SecretKey: "s3cr3t",
			UseSSL:    ptr(false),
		},
	}
	if diff := cmp.Diff(want, jf); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	p, err := jf.TileCompression.Profile(raster.DefaultTileProfile())
	require.NoError(t, err)
	assert.Equal(t, raster.Profile{Codec: raster.CodecDeflate, Predictor: true, Tiled: true, BlockSize: 512}, p)
}

func TestParseEmptyFile(t *testing.T) {
	t.Parallel()
	jf, err := Parse(context.Background(), nil, "empty.hcl")
	require.NoError(t, err)
	assert.Equal(t, &File{}, jf)

	p, err := jf.TileCompression.Profile(raster.DefaultTileProfile())
	require.NoError(t, err)
	assert.Equal(t, raster.DefaultTileProfile(), p)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		src         string
		errContains string
	}{
		{"syntax", `workers = `, "failed to parse"},
		{"unknown attribute", `colour = "red"`, "failed to decode"},
		{"wrong type", `workers = "many"`, "failed to decode"},
		{"empty ledger path", "ledger {\n  path = \"\"\n}", "ledger path"},
		{"missing ledger path", "ledger {}", "failed to decode"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(context.Background(), []byte(tc.src), "job.hcl")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

func TestTileCompressionProfileRejectsBadValues(t *testing.T) {
	t.Parallel()
	_, err := (&TileCompression{Codec: ptr("lzw")}).Profile(raster.DefaultTileProfile())
	require.Error(t, err)
	_, err = (&TileCompression{BlockSize: ptr(100)}).Profile(raster.DefaultTileProfile())
	require.Error(t, err)
}
