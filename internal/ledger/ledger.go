// Package ledger records runs and their unit results in a SQLite database
// so that failed runs can be inspected after the process exits.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vk/rastermosaic/internal/ctxlog"
	"github.com/vk/rastermosaic/internal/mosaic"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	input_dir  TEXT NOT NULL,
	output     TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	units      INTEGER NOT NULL DEFAULT 0,
	tiles      INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS unit_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	unit_index  INTEGER NOT NULL,
	unit_path   TEXT NOT NULL,
	tile_path   TEXT NOT NULL DEFAULT '',
	worker_id   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS unit_results_run ON unit_results(run_id);
`

// Run statuses.
const (
	StatusRunning     = "running"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Ledger is a mosaic.Observer that persists progress. Write failures are
// logged and never fail the run.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ mosaic.Observer = (*Ledger)(nil)

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	// One connection serialises writers without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema in %s: %w", path, err)
	}
	return &Ledger{db: db, logger: ctxlog.FromContext(ctx).With("ledger", path)}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Begin inserts the run row. It must be called before the run starts.
func (l *Ledger) Begin(ctx context.Context, runID, inputDir, output string) error {
	now := time.Now().UTC()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_dir, output, status, stage, started_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, inputDir, output, StatusRunning, mosaic.StageDiscover.String(), now, now)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	return nil
}

func (l *Ledger) StageChanged(runID string, stage mosaic.Stage) {
	_, err := l.db.Exec(`UPDATE runs SET stage = ?, updated_at = ? WHERE id = ?`,
		stage.String(), time.Now().UTC(), runID)
	if err != nil {
		l.logger.Warn("Failed to record stage.", "runID", runID, "stage", stage.String(), "error", err)
	}
}

func (l *Ledger) UnitsDiscovered(runID string, units int) {
	_, err := l.db.Exec(`UPDATE runs SET units = ?, updated_at = ? WHERE id = ?`, units, time.Now().UTC(), runID)
	if err != nil {
		l.logger.Warn("Failed to record unit count.", "runID", runID, "error", err)
	}
}

func (l *Ledger) UnitFinished(runID string, res mosaic.UnitResult) {
	var errText string
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err := l.db.Exec(
		`INSERT INTO unit_results (run_id, unit_index, unit_path, tile_path, worker_id, duration_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, res.Unit.Index, res.Unit.Path, res.Tile.Path, res.WorkerID, res.Duration.Milliseconds(), errText, time.Now().UTC())
	if err != nil {
		l.logger.Warn("Failed to record unit result.", "runID", runID, "unit", res.Unit.Path, "error", err)
	}
}

func (l *Ledger) RunFinished(runID string, res *mosaic.Result, runErr error) {
	status, errText := StatusSucceeded, ""
	if runErr != nil {
		status, errText = StatusFailed, runErr.Error()
		var ie *mosaic.InterruptError
		if errors.As(runErr, &ie) {
			status = StatusInterrupted
		}
	}
	var units, tiles, failed int
	stage := mosaic.StageFailed.String()
	if res != nil {
		units, tiles, failed = res.Units, len(res.Tiles), len(res.Failures)
		stage = res.Stage.String()
	}
	_, err := l.db.Exec(
		`UPDATE runs SET status = ?, stage = ?, units = ?, tiles = ?, failed = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, stage, units, tiles, failed, errText, time.Now().UTC(), runID)
	if err != nil {
		l.logger.Warn("Failed to record run result.", "runID", runID, "error", err)
	}
}

// Run is a row of the runs table.
type Run struct {
	ID        string
	InputDir  string
	Output    string
	Status    string
	Stage     string
	Units     int
	Tiles     int
	Failed    int
	Error     string
	StartedAt time.Time
	UpdatedAt time.Time
}

// UnitRecord is a row of the unit_results table.
type UnitRecord struct {
	Index    int
	Path     string
	TilePath string
	WorkerID int
	Duration time.Duration
	Error    string
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, input_dir, output, status, stage, units, tiles, failed, error, started_at, updated_at
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.InputDir, &r.Output, &r.Status, &r.Stage, &r.Units, &r.Tiles, &r.Failed, &r.Error, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Units returns the unit results of a run ordered by unit index.
func (l *Ledger) Units(ctx context.Context, runID string) ([]UnitRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT unit_index, unit_path, tile_path, worker_id, duration_ms, error
		 FROM unit_results WHERE run_id = ? ORDER BY unit_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UnitRecord
	for rows.Next() {
		var u UnitRecord
		var ms int64
		if err := rows.Scan(&u.Index, &u.Path, &u.TilePath, &u.WorkerID, &ms, &u.Error); err != nil {
			return nil, err
		}
		u.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, u)
	}
	return out, rows.Err()
}
