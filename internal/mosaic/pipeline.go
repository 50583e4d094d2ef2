package mosaic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/raster"
)

// Options configures one run of ProcessAndMosaic.
type Options struct {
	InputDir       string
	OutputDir      string
	OutputFilename string

	EPSGOverride      int // 0 means detect per unit
	Workers           int
	Attribute         string
	Resolution        float64
	TileProfile       raster.Profile
	FailurePolicy     FailurePolicy
	KeepIntermediates bool

	RunID     string // generated when empty
	Observers []Observer
}

// DefaultOptions returns options for a single-worker, fail-fast run.
func DefaultOptions(inputDir, outputDir, outputFilename string) Options {
	return Options{
		InputDir:       inputDir,
		OutputDir:      outputDir,
		OutputFilename: outputFilename,
		Workers:        1,
		Attribute:      DefaultAttribute,
		Resolution:     DefaultResolution,
		TileProfile:    raster.DefaultTileProfile(),
		FailurePolicy:  FailFast,
	}
}

// TileDir is the directory the run's tiles are written to.
func (o Options) TileDir() string {
	return filepath.Join(o.OutputDir, stem(o.OutputFilename)+"_tiles")
}

// MosaicPath is the path of the uncompressed mosaic.
func (o Options) MosaicPath() string {
	return filepath.Join(o.OutputDir, stem(o.OutputFilename)+".mosaic.tif")
}

// ArtifactPath is the path of the final compressed raster.
func (o Options) ArtifactPath() string {
	return filepath.Join(o.OutputDir, o.OutputFilename)
}

// Validate checks the options that can be checked before any work starts.
func (o Options) Validate() error {
	if o.InputDir == "" {
		return &UsageError{Message: "input directory is required"}
	}
	fi, err := os.Stat(o.InputDir)
	if err != nil {
		return &UsageError{Message: fmt.Sprintf("input directory %s", o.InputDir), Err: err}
	}
	if !fi.IsDir() {
		return &UsageError{Message: fmt.Sprintf("input path %s is not a directory", o.InputDir)}
	}
	if o.OutputDir == "" {
		return &UsageError{Message: "output directory is required"}
	}
	if fi, err := os.Stat(o.OutputDir); err == nil && !fi.IsDir() {
		return &UsageError{Message: fmt.Sprintf("output path %s is not a directory", o.OutputDir)}
	}
	name := o.OutputFilename
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return &UsageError{Message: fmt.Sprintf("invalid output filename %q", name)}
	}
	if o.Workers < 1 {
		return &UsageError{Message: fmt.Sprintf("worker count must be at least 1, got %d", o.Workers)}
	}
	if o.EPSGOverride < 0 || o.EPSGOverride > math.MaxUint16 {
		return &UsageError{Message: fmt.Sprintf("invalid EPSG code %d", o.EPSGOverride)}
	}
	if o.Resolution <= 0 {
		return &UsageError{Message: fmt.Sprintf("resolution must be positive, got %g", o.Resolution)}
	}
	if o.Attribute == "" {
		return &UsageError{Message: "attribute name is required"}
	}
	if err := o.TileProfile.Validate(); err != nil {
		return &UsageError{Message: "invalid tile profile", Err: err}
	}
	return nil
}

// Result describes a run. ProcessAndMosaic returns it for failed runs too,
// filled up to the stage that failed.
type Result struct {
	RunID     string
	Artifact  string
	Started   time.Time
	Finished  time.Time
	Stage     Stage // last stage entered
	Units     int
	Tiles     []TileDescriptor
	Failures  []UnitResult
	Skipped   []VectorUnit // never dispatched
	Mosaic    raster.Meta
	Bytes     int64 // size of the final artifact
	Durations map[Stage]time.Duration
}

// DispatchError reports every failed unit of a best-effort run.
type DispatchError struct {
	Failures []UnitResult
}

func (e *DispatchError) Error() string {
	if len(e.Failures) == 1 {
		return e.Failures[0].Err.Error()
	}
	return fmt.Sprintf("%d units failed, first: %v", len(e.Failures), e.Failures[0].Err)
}

func (e *DispatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

type run struct {
	opts   Options
	res    *Result
	mark   time.Time
	logger *slog.Logger
}

func (r *run) enter(s Stage) {
	now := time.Now()
	if r.res.Stage != s && !r.mark.IsZero() {
		d := now.Sub(r.mark)
		r.res.Durations[r.res.Stage] += d
		r.logger.Debug("Stage finished.", "stage", r.res.Stage.String(), "duration", d)
	}
	r.mark = now
	r.res.Stage = s
	r.logger.Info("Entering stage.", "stage", s.String())
	for _, o := range r.opts.Observers {
		o.StageChanged(r.res.RunID, s)
	}
}

// ProcessAndMosaic converts every unit under opts.InputDir into a tile,
// merges the tiles and writes the compressed mosaic to
// opts.OutputDir/opts.OutputFilename, whose path it returns in Result.
//
// Intermediates are removed only once the final artifact has been written
// and read back. A failed run leaves them in place. When ctx is cancelled
// the returned error is an *InterruptError.
func ProcessAndMosaic(ctx context.Context, opts Options) (res *Result, err error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	ctx = ctxlog.With(ctx, "runID", opts.RunID)
	logger := ctxlog.FromContext(ctx)

	res = &Result{RunID: opts.RunID, Started: time.Now(), Durations: make(map[Stage]time.Duration)}
	r := &run{opts: opts, res: res, logger: logger}

	defer func() {
		if err != nil && ctx.Err() != nil {
			var ie *InterruptError
			if !errors.As(err, &ie) {
				err = &InterruptError{Stage: res.Stage, Err: context.Cause(ctx)}
			}
		}
		if err != nil {
			r.enter(StageFailed)
			logger.Error("Run failed.", "error", err)
		}
		res.Finished = time.Now()
		for _, o := range opts.Observers {
			o.RunFinished(res.RunID, res, err)
		}
	}()

	if err := opts.Validate(); err != nil {
		return res, err
	}

	r.enter(StageDiscover)
	units, err := Discover(ctx, opts.InputDir, opts.EPSGOverride)
	if err != nil {
		return res, &UsageError{Message: "discovering units", Err: err}
	}
	res.Units = len(units)
	logger.Info("Discovered units.", "count", len(units), "input_dir", opts.InputDir)
	for _, o := range opts.Observers {
		o.UnitsDiscovered(opts.RunID, len(units))
	}

	tileDir := opts.TileDir()
	if err := os.MkdirAll(tileDir, 0o755); err != nil {
		return res, &UsageError{Message: "creating tile directory", Err: err}
	}

	r.enter(StageDispatch)
	conv := NewConverter(ConvertConfig{
		TargetDir:  tileDir,
		Attribute:  opts.Attribute,
		Resolution: opts.Resolution,
		Profile:    opts.TileProfile,
	}, nil)
	d := NewDispatcher(conv, opts.Workers, opts.FailurePolicy, func(ur UnitResult) {
		for _, o := range opts.Observers {
			o.UnitFinished(opts.RunID, ur)
		}
	})
	out := d.RunAll(ctx, units)

	r.enter(StageBarrier)
	res.Tiles, res.Failures, res.Skipped = out.Tiles, out.Failures, out.NotStarted
	if err := ctx.Err(); err != nil {
		return res, &InterruptError{Stage: StageDispatch, Err: context.Cause(ctx)}
	}
	if err := out.Err(); err != nil {
		if opts.FailurePolicy == BestEffort {
			return res, &DispatchError{Failures: out.Failures}
		}
		return res, err
	}

	r.enter(StageAggregate)
	mosaicPath := opts.MosaicPath()
	meta, err := Aggregate(ctx, out.Tiles, mosaicPath)
	if err != nil {
		return res, err
	}
	res.Mosaic = meta

	r.enter(StageCompress)
	artifact := opts.ArtifactPath()
	if err := Compress(ctx, mosaicPath, artifact); err != nil {
		return res, err
	}
	if err := Verify(artifact, meta); err != nil {
		return res, err
	}
	fi, err := os.Stat(artifact)
	if err != nil {
		return res, &ConversionError{Step: StepCompress, Unit: mosaicPath, Err: err}
	}
	res.Artifact, res.Bytes = artifact, fi.Size()

	r.enter(StageCleanup)
	if opts.KeepIntermediates {
		logger.Info("Keeping intermediates.", "tile_dir", tileDir, "mosaic", mosaicPath)
	} else if err := Cleanup(ctx, tileDir, mosaicPath); err != nil {
		logger.Warn("Failed to remove intermediates.", "error", err)
	}

	r.enter(StageDone)
	logger.Info("Run finished.", "artifact", artifact, "tiles", len(res.Tiles), "bytes", res.Bytes)
	return res, nil
}
