package mosaic

import (
	"context"
	"fmt"

	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/raster"
)

// Compress re-encodes the mosaic at src into dst with the final profile.
// On failure src is left untouched and no file exists at dst.
func Compress(ctx context.Context, src, dst string) error {
	r, err := raster.Open(src)
	if err != nil {
		return &ConversionError{Step: StepCompress, Unit: src, Err: err}
	}
	defer r.Close()

	p := raster.FinalProfile()
	ctxlog.FromContext(ctx).Info("Compressing mosaic.", "src", src, "dst", dst, "codec", p.Codec.String(), "block_size", p.BlockSize)
	if err := raster.WriteFile(ctx, dst, r, p); err != nil {
		return &ConversionError{Step: StepCompress, Unit: src, Err: err}
	}
	return nil
}

// Verify opens the artifact at path and checks that it decodes as a raster
// with the expected grid.
func Verify(path string, want raster.Meta) error {
	r, err := raster.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	if got := r.Meta(); got != want {
		return &ConversionError{Step: StepCompress, Unit: path,
			Err: fmt.Errorf("written raster %dx%d %v does not match mosaic %dx%d %v", got.Width, got.Height, got.Extent(), want.Width, want.Height, want.Extent())}
	}
	return nil
}
