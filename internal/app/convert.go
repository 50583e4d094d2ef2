package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/mosaic"
)

// ConvertConfig configures the single-unit conversion command.
type ConvertConfig struct {
	InputPath string
	TargetDir string
	EPSG      int
	LogFormat string
	LogLevel  string
}

// NewConvertConfig validates cfg. Errors are *mosaic.UsageError.
func NewConvertConfig(cfg ConvertConfig) (*ConvertConfig, error) {
	if cfg.InputPath == "" || cfg.TargetDir == "" {
		return nil, &mosaic.UsageError{Message: "convert needs INPUT_FILE and TARGET_DIR"}
	}
	fi, err := os.Stat(cfg.InputPath)
	if err != nil {
		return nil, &mosaic.UsageError{Message: fmt.Sprintf("input file %s", cfg.InputPath), Err: err}
	}
	if fi.IsDir() {
		return nil, &mosaic.UsageError{Message: fmt.Sprintf("input path %s is a directory", cfg.InputPath)}
	}
	if cfg.EPSG < 0 || cfg.EPSG > math.MaxUint16 {
		return nil, &mosaic.UsageError{Message: fmt.Sprintf("invalid EPSG code %d", cfg.EPSG)}
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		return nil, &mosaic.UsageError{Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	return &cfg, nil
}

// Convert turns one unit into a tile in cfg.TargetDir and returns its path.
func Convert(ctx context.Context, outW io.Writer, cfg *ConvertConfig) (string, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := os.MkdirAll(cfg.TargetDir, 0o755); err != nil {
		return "", &mosaic.UsageError{Message: "creating target directory", Err: err}
	}
	path, err := mosaic.ConvertUnit(ctx, cfg.InputPath, cfg.TargetDir, cfg.EPSG)
	if err != nil {
		return "", err
	}
	logger.Info("Unit converted.", "input", cfg.InputPath, "tile", path)
	return path, nil
}
