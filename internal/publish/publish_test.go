package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"bucket target", Config{Endpoint: "localhost:9000", Bucket: "b"}, ""},
		{"presigned", Config{UploadURL: "https://s3.example.com/b/k?X-Amz-Signature=1"}, ""},
		{"presigned not http", Config{UploadURL: "ftp://x"}, "must be an http(s) URL"},
		{"empty", Config{}, "missing endpoint and bucket"},
		{"no bucket", Config{Endpoint: "localhost:9000"}, "missing bucket"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewSelectsPublisher(t *testing.T) {
	t.Parallel()
	p, err := New(Config{Endpoint: "localhost:9000", Bucket: "mosaics", AccessKey: "a", SecretKey: "s"})
	require.NoError(t, err)
	assert.IsType(t, &bucket{}, p)

	p, err = New(Config{UploadURL: "http://localhost/upload"})
	require.NoError(t, err)
	assert.IsType(t, &presigned{}, p)

	_, err = New(Config{})
	require.Error(t, err)
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mosaic.tif")
	require.NoError(t, os.WriteFile(path, []byte("II*\x00payload"), 0o644))
	return path
}

func TestPresignedUpload(t *testing.T) {
	t.Parallel()
	type request struct {
		method, contentType string
		body                []byte
	}
	got := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- request{method: r.Method, contentType: r.Header.Get("Content-Type"), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, err := New(Config{UploadURL: srv.URL + "/bucket/mosaic.tif?X-Amz-Signature=abc"})
	require.NoError(t, err)
	loc, err := p.Publish(context.Background(), writeArtifact(t))
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/bucket/mosaic.tif", loc)

	req := <-got
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "image/tiff", req.contentType)
	assert.Equal(t, []byte("II*\x00payload"), req.body)
}

func TestPresignedUploadRejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p, err := New(Config{UploadURL: srv.URL})
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), writeArtifact(t))
	require.ErrorIs(t, err, ErrUploadRejected)
}
