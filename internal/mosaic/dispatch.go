package mosaic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vk/rastermosaic/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy decides what happens to the remaining units once one fails.
type FailurePolicy int

const (
	// FailFast stops dispatching after the first failure and cancels
	// in-flight conversions.
	FailFast FailurePolicy = iota
	// BestEffort converts every unit and reports all failures.
	BestEffort
)

func (p FailurePolicy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "fail-fast"
}

// ParseFailurePolicy accepts "fail-fast" and "best-effort".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast", "failfast":
		return FailFast, nil
	case "best-effort", "besteffort":
		return BestEffort, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q: must be 'fail-fast' or 'best-effort'", s)
	}
}

// UnitResult is what a worker reports for one unit: a tile or an error.
type UnitResult struct {
	Unit     VectorUnit
	Tile     TileDescriptor
	Err      error
	WorkerID int
	Duration time.Duration
}

// Outcome is the state of the dispatch after the barrier.
type Outcome struct {
	Tiles      []TileDescriptor // sorted by unit index
	Failures   []UnitResult     // sorted by unit index
	NotStarted []VectorUnit
	cause      error
}

// Err returns the first failure in completion order that was not merely a
// consequence of cancellation, or nil when every unit produced a tile.
func (o *Outcome) Err() error {
	if o.cause != nil {
		return o.cause
	}
	if len(o.Failures) > 0 {
		return o.Failures[0].Err
	}
	return nil
}

// Dispatcher runs a UnitConverter over many units with bounded parallelism.
type Dispatcher struct {
	conv     UnitConverter
	workers  int
	policy   FailurePolicy
	onResult func(UnitResult)
}

// NewDispatcher returns a Dispatcher running at most workers conversions at
// once. onResult, if not nil, is called once per finished unit from a single
// goroutine.
func NewDispatcher(conv UnitConverter, workers int, policy FailurePolicy, onResult func(UnitResult)) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{conv: conv, workers: workers, policy: policy, onResult: onResult}
}

// RunAll converts every unit and returns once all dispatched conversions
// have finished. This is the barrier: no tile in the Outcome is consumed
// before RunAll returns. Under FailFast, units not yet dispatched when the
// first failure arrives are listed in NotStarted.
func (d *Dispatcher) RunAll(ctx context.Context, units []VectorUnit) *Outcome {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Dispatching units.", "units", len(units), "workers", d.workers, "policy", d.policy.String())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	// Worker slots only name the goroutines in logs; errgroup enforces the bound.
	slots := make(chan int, d.workers)
	for i := 0; i < d.workers; i++ {
		slots <- i
	}

	results := make(chan UnitResult, len(units))
	skipped := make(chan VectorUnit, len(units))
	out := &Outcome{}
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range results {
			if d.onResult != nil {
				d.onResult(res)
			}
			if res.Err != nil {
				if out.cause == nil && !errors.Is(res.Err, context.Canceled) {
					out.cause = res.Err
				}
				out.Failures = append(out.Failures, res)
				continue
			}
			out.Tiles = append(out.Tiles, res.Tile)
		}
	}()

	for i, u := range units {
		if gctx.Err() != nil {
			out.NotStarted = append(out.NotStarted, units[i:]...)
			break
		}
		g.Go(func() error {
			// g.Go may have blocked on the limit while a failure cancelled gctx.
			if gctx.Err() != nil {
				skipped <- u
				return nil
			}
			id := <-slots
			defer func() { slots <- id }()

			wctx := ctxlog.With(gctx, "workerID", id, "unit", u.ID)
			wlog := ctxlog.FromContext(wctx)
			wlog.Debug("Worker picked up unit.")

			start := time.Now()
			tile, err := d.conv.Convert(wctx, u)
			res := UnitResult{Unit: u, Tile: tile, Err: err, WorkerID: id, Duration: time.Since(start)}
			results <- res

			if err != nil {
				wlog.Error("Unit conversion failed.", "error", err)
				if d.policy == FailFast {
					return err
				}
				return nil
			}
			wlog.Debug("Unit converted.", "tile", tile.Path, "duration", res.Duration)
			return nil
		})
	}

	_ = g.Wait() // the barrier; failures are collected from results
	close(results)
	close(skipped)
	<-collected
	for u := range skipped {
		out.NotStarted = append(out.NotStarted, u)
	}

	sort.Slice(out.Tiles, func(i, j int) bool { return out.Tiles[i].Unit.Index < out.Tiles[j].Unit.Index })
	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].Unit.Index < out.Failures[j].Unit.Index })
	sort.Slice(out.NotStarted, func(i, j int) bool { return out.NotStarted[i].Index < out.NotStarted[j].Index })

	logger.Info("All workers finished.", "tiles", len(out.Tiles), "failed", len(out.Failures), "not_started", len(out.NotStarted))
	return out
}
