package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/ledger"
	"github.com/vk/rastermosaic/internal/mosaic"
	"github.com/vk/rastermosaic/internal/publish"
	"github.com/vk/rastermosaic/internal/report"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	tracker *tracker
	server  *http.Server
}

// NewApp returns an App with its own isolated logger writing to outW.
func NewApp(outW io.Writer, cfg *Config) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		tracker: newTracker(),
	}
}

// Run executes one mosaic run and its surrounding lifecycle: status server,
// ledger, publishing and the report. The returned Result is non-nil even
// when the run fails.
func (a *App) Run(ctx context.Context) (*mosaic.Result, error) {
	runID := uuid.NewString()
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "runID", runID)

	if a.config.StatusPort > 0 {
		if _, err := a.startStatusServer(ctx, fmt.Sprintf(":%d", a.config.StatusPort)); err != nil {
			a.logger.Warn("Status server not started.", "error", err)
		}
		defer a.closeStatusServer(ctx)
	}

	opts := a.config.Options()
	opts.RunID = runID
	opts.Observers = []mosaic.Observer{a.tracker}

	if a.config.LedgerPath != "" {
		l, err := ledger.Open(ctx, a.config.LedgerPath)
		if err != nil {
			return nil, err
		}
		defer l.Close()
		if err := l.Begin(ctx, runID, opts.InputDir, opts.ArtifactPath()); err != nil {
			return nil, err
		}
		opts.Observers = append(opts.Observers, l)
	}

	a.logger.Info("Starting mosaic run.", "input_dir", opts.InputDir, "output", opts.ArtifactPath(), "workers", opts.Workers, "policy", opts.FailurePolicy.String())
	res, runErr := mosaic.ProcessAndMosaic(ctx, opts)

	var published string
	if runErr == nil && a.config.Publish != nil {
		published, runErr = a.publish(ctx, res.Artifact)
	}

	if !a.config.NoReport {
		a.writeReport(opts, res, runErr, published)
	}

	if runErr != nil {
		return res, runErr
	}
	a.logger.Info("Mosaic run finished.", "artifact", res.Artifact, "tiles", len(res.Tiles))
	return res, nil
}

func (a *App) publish(ctx context.Context, artifact string) (string, error) {
	p, err := publish.New(*a.config.Publish)
	if err != nil {
		return "", fmt.Errorf("publishing artifact: %w", err)
	}
	loc, err := p.Publish(ctx, artifact)
	if err != nil {
		if ctx.Err() != nil {
			return "", &mosaic.InterruptError{Stage: mosaic.StageDone, Err: err}
		}
		return "", fmt.Errorf("publishing artifact: %w", err)
	}
	a.logger.Info("Artifact published.", "location", loc)
	return loc, nil
}

// writeReport stores the run report next to the artifact. The report is
// skipped when the output directory was never created.
func (a *App) writeReport(opts mosaic.Options, res *mosaic.Result, runErr error, published string) {
	if res == nil {
		return
	}
	if fi, err := os.Stat(opts.OutputDir); err != nil || !fi.IsDir() {
		return
	}
	rep := report.New(opts.InputDir, res, runErr)
	rep.Published = published
	path := report.PathFor(opts.ArtifactPath())
	if err := report.Write(path, rep); err != nil {
		a.logger.Warn("Failed to write run report.", "path", path, "error", err)
		return
	}
	a.logger.Debug("Run report written.", "path", path)
}
