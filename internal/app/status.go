package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/mosaic"
)

// Status is the JSON document served on /status.
type Status struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Units     int       `json:"units"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Started   time.Time `json:"started"`
	Finished  bool      `json:"finished"`
	Error     string    `json:"error,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	UptimeSec float64   `json:"uptime_seconds"`
}

// tracker keeps the latest state of the run for the status endpoint.
type tracker struct {
	mu      sync.Mutex
	status  Status
	started time.Time
}

var _ mosaic.Observer = (*tracker)(nil)

func newTracker() *tracker {
	now := time.Now()
	return &tracker{started: now, status: Status{Stage: "idle", Started: now.UTC()}}
}

func (t *tracker) StageChanged(runID string, stage mosaic.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.RunID, t.status.Stage = runID, stage.String()
}

func (t *tracker) UnitsDiscovered(_ string, units int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Units = units
}

func (t *tracker) UnitFinished(_ string, res mosaic.UnitResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if res.Err != nil {
		t.status.Failed++
		return
	}
	t.status.Done++
}

func (t *tracker) RunFinished(_ string, res *mosaic.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Finished = true
	if err != nil {
		t.status.Error = err.Error()
	}
	if res != nil {
		t.status.Artifact = res.Artifact
	}
}

func (t *tracker) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.UptimeSec = time.Since(t.started).Seconds()
	return s
}

// healthHandler reports that the process is alive.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler reports the progress of the run.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Status endpoint hit.", "remote_addr", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.tracker.snapshot()); err != nil {
		a.logger.Warn("Failed to encode status.", "error", err)
	}
}

func (a *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", a.statusHandler)
	return mux
}

// startStatusServer listens on addr and serves /health and /status until
// closeStatusServer is called. It returns the bound address.
func (a *App) startStatusServer(ctx context.Context, addr string) (string, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Configuring status server.")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("status server: %w", err)
	}
	a.server = &http.Server{Handler: a.statusMux(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Status server starting.", "address", fmt.Sprintf("http://%s/status", ln.Addr()))
		// Serve returns ErrServerClosed on graceful shutdown.
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed unexpectedly.", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

func (a *App) closeStatusServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if a.server == nil {
		logger.Debug("Status server was not running.")
		return nil
	}

	// The run context may already be cancelled; shut down on a fresh deadline.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	logger.Debug("Shutting down status server.")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status server shutdown failed.", "error", err)
		return err
	}
	a.server = nil
	return nil
}
