package jobfile

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/raster"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// File is the decoded job file. Nil fields were not set.
type File struct {
	InputDir          *string  `hcl:"input_dir,optional"`
	OutputDir         *string  `hcl:"output_dir,optional"`
	OutputName        *string  `hcl:"output_name,optional"`
	EPSG              *int     `hcl:"epsg,optional"`
	Workers           *int     `hcl:"workers,optional"`
	Attribute         *string  `hcl:"attribute,optional"`
	Resolution        *float64 `hcl:"resolution,optional"`
	FailurePolicy     *string  `hcl:"failure_policy,optional"`
	KeepIntermediates *bool    `hcl:"keep_intermediates,optional"`

	TileCompression *TileCompression `hcl:"tile_compression,block"`
	Ledger          *Ledger          `hcl:"ledger,block"`
	Publish         *Publish         `hcl:"publish,block"`
}

// TileCompression overrides parts of the per-tile profile.
type TileCompression struct {
	Codec     *string `hcl:"codec,optional"`
	Predictor *bool   `hcl:"predictor,optional"`
	Tiled     *bool   `hcl:"tiled,optional"`
	BlockSize *int    `hcl:"block_size,optional"`
}

// Ledger enables the run ledger.
type Ledger struct {
	Path string `hcl:"path"`
}

// Publish enables uploading the final artifact. Either UploadURL (a
// pre-signed PUT URL) or Endpoint and Bucket must be set.
type Publish struct {
	Endpoint  string `hcl:"endpoint,optional"`
	Bucket    string `hcl:"bucket,optional"`
	Key       string `hcl:"key,optional"`
	Region    string `hcl:"region,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	UseSSL    *bool  `hcl:"use_ssl,optional"`
	UploadURL string `hcl:"upload_url,optional"`
}

// Profile applies the block to base.
func (t *TileCompression) Profile(base raster.Profile) (raster.Profile, error) {
	p := base
	if t == nil {
		return p, nil
	}
	if t.Codec != nil {
		c, err := raster.ParseCodec(*t.Codec)
		if err != nil {
			return p, err
		}
		p.Codec = c
	}
	if t.Predictor != nil {
		p.Predictor = *t.Predictor
	}
	if t.Tiled != nil {
		p.Tiled = *t.Tiled
	}
	if t.BlockSize != nil {
		p.BlockSize = *t.BlockSize
	}
	return p, p.Validate()
}

var envFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "name", Type: cty.String}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		return cty.StringVal(os.Getenv(args[0].AsString())), nil
	},
})

func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"env":    envFunc,
			"format": stdlib.FormatFunc,
			"lower":  stdlib.LowerFunc,
			"upper":  stdlib.UpperFunc,
		},
	}
}

// Load parses and decodes the job file at path.
func Load(ctx context.Context, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Decoding job file.", "path", path)

	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse job file %s: %w", path, diags)
	}
	return decode(ctx, path, f.Body)
}

// Parse decodes a job file held in memory. filename is used in diagnostics.
func Parse(ctx context.Context, src []byte, filename string) (*File, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse job file %s: %w", filename, diags)
	}
	return decode(ctx, filename, f.Body)
}

func decode(ctx context.Context, name string, body hcl.Body) (*File, error) {
	var jf File
	if diags := gohcl.DecodeBody(body, evalContext(), &jf); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode job file %s: %w", name, diags)
	}
	if jf.Ledger != nil && jf.Ledger.Path == "" {
		return nil, fmt.Errorf("job file %s: ledger path must not be empty", name)
	}
	ctxlog.FromContext(ctx).Debug("Successfully decoded job file.", "path", name,
		"ledger", jf.Ledger != nil, "publish", jf.Publish != nil)
	return &jf, nil
}
