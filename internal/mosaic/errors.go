package mosaic

import (
	"fmt"
)

// UsageError reports an invocation that cannot start a run: bad arguments,
// missing directories, malformed worker count.
type UsageError struct {
	Message string
	Err     error
}

func (e *UsageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UsageError) Unwrap() error { return e.Err }

// CRSResolutionError reports a unit without override and without a
// detectable EPSG code.
type CRSResolutionError struct {
	Unit string
	Err  error
}

func (e *CRSResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve CRS of %s: %v", e.Unit, e.Err)
}

func (e *CRSResolutionError) Unwrap() error { return e.Err }

// Step names the sub-step of a conversion that failed.
type Step string

const (
	StepRasterize Step = "rasterize"
	StepEncode    Step = "encode"
	StepCompress  Step = "compress"
)

// ConversionError reports a failed rasterize or encode step of a unit, or a
// failed final compression of the mosaic.
type ConversionError struct {
	Step Step
	Unit string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Step, e.Unit, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// AggregationError reports an empty, unreadable or inconsistent tile set.
type AggregationError struct {
	Tile string // empty when the error concerns the whole set
	Err  error
}

func (e *AggregationError) Error() string {
	if e.Tile != "" {
		return fmt.Sprintf("aggregation failed at %s: %v", e.Tile, e.Err)
	}
	return fmt.Sprintf("aggregation failed: %v", e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// InterruptError reports a run cancelled from outside.
type InterruptError struct {
	Stage Stage
	Err   error
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("interrupted during %s: %v", e.Stage, e.Err)
}

func (e *InterruptError) Unwrap() error { return e.Err }
