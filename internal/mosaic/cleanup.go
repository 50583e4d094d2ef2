package mosaic

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vk/rastermosaic/internal/ctxlog"
)

// Cleanup removes the tile directory and the uncompressed mosaic. Missing
// paths are not an error.
func Cleanup(ctx context.Context, tileDir, mosaicPath string) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error
	if err := os.RemoveAll(tileDir); err != nil {
		errs = append(errs, fmt.Errorf("removing tile directory: %w", err))
	}
	if err := os.Remove(mosaicPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("removing mosaic: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Debug("Intermediates removed.", "tile_dir", tileDir, "mosaic", mosaicPath)
	return nil
}
