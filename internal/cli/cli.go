package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/vk/rastermosaic/internal/app"
	"github.com/vk/rastermosaic/internal/jobfile"
	"github.com/vk/rastermosaic/internal/mosaic"
	"github.com/vk/rastermosaic/internal/publish"
	"github.com/vk/rastermosaic/internal/raster"
)

// Exit codes.
const (
	ExitFailure   = 1
	ExitUsage     = 2
	ExitInterrupt = 130
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Command names what the invocation asks for.
type Command int

const (
	CommandRun Command = iota
	CommandConvert
	CommandHistory
)

// Invocation is the parsed command line. Exactly one of the config fields
// is set, matching Command.
type Invocation struct {
	Command Command
	Run     *app.Config
	Convert *app.ConvertConfig
	History *app.HistoryConfig
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// Parse processes command-line arguments. It returns the invocation, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(ctx context.Context, args []string, output io.Writer) (*Invocation, bool, error) {
	if len(args) > 0 {
		switch args[0] {
		case "convert":
			return parseConvert(args[1:], output)
		case "history":
			return parseHistory(args[1:], output)
		}
	}
	return parseRun(ctx, args, output)
}

func parseRun(ctx context.Context, args []string, output io.Writer) (*Invocation, bool, error) {
	flagSet := flag.NewFlagSet("rastermosaic", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
rastermosaic - rasterize a directory of vector units into one compressed mosaic.

Usage:
  rastermosaic [options] INPUT_DIR OUTPUT_DIR OUTPUT_FILENAME
  rastermosaic -config job.hcl [options]
  rastermosaic convert [options] INPUT_FILE TARGET_DIR
  rastermosaic history [options] LEDGER

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to an HCL job file. Flags override its values.")
	epsgFlag := flagSet.Int("epsg", 0, "EPSG code applied to every unit. 0 detects it per unit.")
	workersFlag := flagSet.Int("workers", 1, "Number of units converted concurrently.")
	attributeFlag := flagSet.String("attribute", mosaic.DefaultAttribute, "Integer feature attribute burned as pixel value.")
	resolutionFlag := flagSet.Float64("resolution", mosaic.DefaultResolution, "Pixel size in CRS units.")
	policyFlag := flagSet.String("failure-policy", "fail-fast", "What a unit failure does. Options: 'fail-fast' or 'best-effort'.")
	keepFlag := flagSet.Bool("keep-intermediates", false, "Keep tiles and the uncompressed mosaic after success.")
	codecFlag := flagSet.String("tile-codec", "zstd", "Per-tile codec. Options: 'none', 'deflate' or 'zstd'.")
	predictorFlag := flagSet.Bool("tile-predictor", true, "Apply horizontal differencing to tiles.")
	blockFlag := flagSet.Int("tile-block-size", raster.DefaultTileProfile().BlockSize, "Internal block size of tiles.")
	statusPortFlag := flagSet.Int("status-port", 0, "Port for the HTTP status server. 0 is disabled.")
	ledgerFlag := flagSet.String("ledger", "", "SQLite file recording runs and unit results.")
	noReportFlag := flagSet.Bool("no-report", false, "Do not write the YAML run report.")
	publishURLFlag := flagSet.String("publish-url", "", "Pre-signed URL the final artifact is uploaded to.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	set := map[string]bool{}
	flagSet.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if flagSet.NArg() == 0 && *configFlag == "" {
		flagSet.Usage()
		return nil, true, nil
	}
	if n := flagSet.NArg(); n != 0 && n != 3 {
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("expected INPUT_DIR OUTPUT_DIR OUTPUT_FILENAME, got %d arguments", n)}
	}

	cfg := app.Config{
		EPSG:              *epsgFlag,
		Workers:           *workersFlag,
		Attribute:         *attributeFlag,
		Resolution:        *resolutionFlag,
		KeepIntermediates: *keepFlag,
		StatusPort:        *statusPortFlag,
		LedgerPath:        *ledgerFlag,
		NoReport:          *noReportFlag,
		LogFormat:         strings.ToLower(*logFormatFlag),
		LogLevel:          strings.ToLower(*logLevelFlag),
		TileProfile:       raster.DefaultTileProfile(),
	}
	policy := *policyFlag

	if *configFlag != "" {
		jf, err := jobfile.Load(ctx, *configFlag)
		if err != nil {
			return nil, false, usageError(err)
		}
		if err := applyJobFile(&cfg, &policy, jf, set); err != nil {
			return nil, false, usageError(err)
		}
	}

	if flagSet.NArg() == 3 {
		cfg.InputDir, cfg.OutputDir, cfg.OutputFilename = flagSet.Arg(0), flagSet.Arg(1), flagSet.Arg(2)
	}

	if set["tile-codec"] {
		c, err := raster.ParseCodec(*codecFlag)
		if err != nil {
			return nil, false, usageError(err)
		}
		cfg.TileProfile.Codec = c
	}
	if set["tile-predictor"] {
		cfg.TileProfile.Predictor = *predictorFlag
	}
	if set["tile-block-size"] {
		cfg.TileProfile.BlockSize = *blockFlag
	}
	if set["publish-url"] {
		cfg.Publish = &publish.Config{UploadURL: *publishURLFlag}
	}

	fp, err := mosaic.ParseFailurePolicy(policy)
	if err != nil {
		return nil, false, usageError(err)
	}
	cfg.FailurePolicy = fp

	config, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, usageError(err)
	}
	return &Invocation{Command: CommandRun, Run: config}, false, nil
}

// applyJobFile copies the job file values whose flags were not set.
func applyJobFile(cfg *app.Config, policy *string, jf *jobfile.File, set map[string]bool) error {
	if jf.InputDir != nil {
		cfg.InputDir = *jf.InputDir
	}
	if jf.OutputDir != nil {
		cfg.OutputDir = *jf.OutputDir
	}
	if jf.OutputName != nil {
		cfg.OutputFilename = *jf.OutputName
	}
	if jf.EPSG != nil && !set["epsg"] {
		cfg.EPSG = *jf.EPSG
	}
	if jf.Workers != nil && !set["workers"] {
		cfg.Workers = *jf.Workers
	}
	if jf.Attribute != nil && !set["attribute"] {
		cfg.Attribute = *jf.Attribute
	}
	if jf.Resolution != nil && !set["resolution"] {
		cfg.Resolution = *jf.Resolution
	}
	if jf.FailurePolicy != nil && !set["failure-policy"] {
		*policy = *jf.FailurePolicy
	}
	if jf.KeepIntermediates != nil && !set["keep-intermediates"] {
		cfg.KeepIntermediates = *jf.KeepIntermediates
	}
	if jf.Ledger != nil && !set["ledger"] {
		cfg.LedgerPath = jf.Ledger.Path
	}
	if p := jf.Publish; p != nil {
		pc := &publish.Config{
			Endpoint:  p.Endpoint,
			Bucket:    p.Bucket,
			Key:       p.Key,
			Region:    p.Region,
			AccessKey: p.AccessKey,
			SecretKey: p.SecretKey,
			UseSSL:    true,
			UploadURL: p.UploadURL,
		}
		if p.UseSSL != nil {
			pc.UseSSL = *p.UseSSL
		}
		cfg.Publish = pc
	}
	profile, err := jf.TileCompression.Profile(cfg.TileProfile)
	if err != nil {
		return fmt.Errorf("tile_compression: %w", err)
	}
	cfg.TileProfile = profile
	return nil
}

func parseConvert(args []string, output io.Writer) (*Invocation, bool, error) {
	flagSet := flag.NewFlagSet("rastermosaic convert", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Convert a single vector unit into a raster tile.

Usage:
  rastermosaic convert [options] INPUT_FILE TARGET_DIR

Options:
`)
		flagSet.PrintDefaults()
	}
	epsgFlag := flagSet.Int("epsg", 0, "EPSG code of the unit. 0 detects it.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if flagSet.NArg() != 2 {
		flagSet.Usage()
		return nil, false, &ExitError{Code: ExitUsage, Message: "convert needs INPUT_FILE and TARGET_DIR"}
	}

	cfg, err := app.NewConvertConfig(app.ConvertConfig{
		InputPath: flagSet.Arg(0),
		TargetDir: flagSet.Arg(1),
		EPSG:      *epsgFlag,
		LogFormat: strings.ToLower(*logFormatFlag),
		LogLevel:  strings.ToLower(*logLevelFlag),
	})
	if err != nil {
		return nil, false, usageError(err)
	}
	return &Invocation{Command: CommandConvert, Convert: cfg}, false, nil
}

func parseHistory(args []string, output io.Writer) (*Invocation, bool, error) {
	flagSet := flag.NewFlagSet("rastermosaic history", flag.ContinueOnError)
	flagSet.SetOutput(output)
	limitFlag := flagSet.Int("limit", 20, "Number of runs listed.")
	runFlag := flagSet.String("run", "", "List the unit results of this run instead.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if flagSet.NArg() != 1 {
		return nil, false, &ExitError{Code: ExitUsage, Message: "history needs the LEDGER path"}
	}
	if *limitFlag < 1 {
		return nil, false, &ExitError{Code: ExitUsage, Message: "limit must be at least 1"}
	}
	return &Invocation{Command: CommandHistory, History: &app.HistoryConfig{
		LedgerPath: flagSet.Arg(0),
		Limit:      *limitFlag,
		RunID:      *runFlag,
	}}, false, nil
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var usage *mosaic.UsageError
	if errors.As(err, &usage) {
		return ExitUsage
	}
	var interrupt *mosaic.InterruptError
	if errors.As(err, &interrupt) {
		return ExitInterrupt
	}
	return ExitFailure
}
