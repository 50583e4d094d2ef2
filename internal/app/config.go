package app

import (
	"fmt"

	"github.com/vk/rastermosaic/internal/mosaic"
	"github.com/vk/rastermosaic/internal/publish"
	"github.com/vk/rastermosaic/internal/raster"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	InputDir       string
	OutputDir      string
	OutputFilename string

	EPSG              int // 0 means detect per unit
	Workers           int
	Attribute         string
	Resolution        float64
	TileProfile       raster.Profile
	FailurePolicy     mosaic.FailurePolicy
	KeepIntermediates bool

	LogFormat  string
	LogLevel   string
	StatusPort int
	LedgerPath string
	NoReport   bool
	Publish    *publish.Config
}

// NewConfig validates cfg. Errors are *mosaic.UsageError.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, &mosaic.UsageError{Message: "invalid log-format: must be 'text' or 'json'"}
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		return nil, &mosaic.UsageError{Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if cfg.StatusPort < 0 || cfg.StatusPort > 65535 {
		return nil, &mosaic.UsageError{Message: fmt.Sprintf("invalid status port %d", cfg.StatusPort)}
	}
	if cfg.Publish != nil {
		if err := cfg.Publish.Validate(); err != nil {
			return nil, &mosaic.UsageError{Message: "invalid publish settings", Err: err}
		}
	}
	if err := cfg.Options().Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Options translates the config into pipeline options.
func (c *Config) Options() mosaic.Options {
	return mosaic.Options{
		InputDir:          c.InputDir,
		OutputDir:         c.OutputDir,
		OutputFilename:    c.OutputFilename,
		EPSGOverride:      c.EPSG,
		Workers:           c.Workers,
		Attribute:         c.Attribute,
		Resolution:        c.Resolution,
		TileProfile:       c.TileProfile,
		FailurePolicy:     c.FailurePolicy,
		KeepIntermediates: c.KeepIntermediates,
	}
}
