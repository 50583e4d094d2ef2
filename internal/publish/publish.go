// Package publish uploads the final artifact to S3-compatible object
// storage, either through the MinIO client or to a pre-signed PUT URL.
package publish

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/rastermosaic/internal/ctxlog"
)

// Config selects the upload target. UploadURL takes precedence over the
// bucket settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Key       string // defaults to the artifact's base name
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	UploadURL string
}

// Validate reports whether the config names a usable target.
func (c Config) Validate() error {
	if c.UploadURL != "" {
		if !strings.HasPrefix(c.UploadURL, "http://") && !strings.HasPrefix(c.UploadURL, "https://") {
			return fmt.Errorf("upload_url %q must be an http(s) URL", c.UploadURL)
		}
		return nil
	}
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if c.Bucket == "" {
		missing = append(missing, "bucket")
	}
	if len(missing) > 0 {
		return fmt.Errorf("publish target is missing %s", strings.Join(missing, " and "))
	}
	return nil
}

// Publisher uploads a file and returns where it was stored.
type Publisher interface {
	Publish(ctx context.Context, path string) (string, error)
}

// New returns the Publisher for cfg.
func New(cfg Config) (Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UploadURL != "" {
		return &presigned{url: cfg.UploadURL, client: &http.Client{Transport: newTransport()}}, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return &bucket{client: client, cfg: cfg}, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return "image/tiff"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type bucket struct {
	client *minio.Client
	cfg    Config
}

func (b *bucket) Publish(ctx context.Context, path string) (string, error) {
	logger := ctxlog.FromContext(ctx).With("bucket", b.cfg.Bucket)
	key := b.cfg.Key
	if key == "" {
		key = filepath.Base(path)
	}

	exists, err := b.client.BucketExists(ctx, b.cfg.Bucket)
	if err != nil {
		return "", fmt.Errorf("checking bucket %s: %w", b.cfg.Bucket, err)
	}
	if !exists {
		logger.Info("Creating bucket.")
		if err := b.client.MakeBucket(ctx, b.cfg.Bucket, minio.MakeBucketOptions{Region: b.cfg.Region}); err != nil {
			return "", fmt.Errorf("creating bucket %s: %w", b.cfg.Bucket, err)
		}
	}

	logger.Info("Uploading artifact.", "source", path, "key", key)
	info, err := b.client.FPutObject(ctx, b.cfg.Bucket, key, path, minio.PutObjectOptions{ContentType: contentType(path)})
	if err != nil {
		return "", fmt.Errorf("uploading %s to %s/%s: %w", path, b.cfg.Bucket, key, err)
	}
	logger.Info("Successfully uploaded artifact.", "key", info.Key, "size", info.Size, "etag", info.ETag)
	return fmt.Sprintf("s3://%s/%s", b.cfg.Bucket, key), nil
}

type presigned struct {
	url    string
	client *http.Client
}

// ErrUploadRejected is returned when a pre-signed upload gets a non-2xx reply.
var ErrUploadRejected = errors.New("publish: upload rejected")

func (p *presigned) Publish(ctx context.Context, path string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact '%s': %w", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file stats for '%s': %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.url, file)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType(path))
	req.ContentLength = stat.Size()

	logger.Info("Uploading artifact to pre-signed URL.", "source", path, "size", stat.Size())
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s", ErrUploadRejected, resp.Status)
	}
	logger.Info("Successfully uploaded artifact.", "status", resp.Status)
	return stripQuery(p.url), nil
}

// stripQuery drops the signature from a pre-signed URL.
func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
