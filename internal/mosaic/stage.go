package mosaic

// Stage is a state of the run.
type Stage int

const (
	StageDiscover Stage = iota
	StageDispatch
	StageBarrier
	StageAggregate
	StageCompress
	StageCleanup
	StageDone
	StageFailed
)

var stageNames = [...]string{"discover", "dispatch", "barrier", "aggregate", "compress", "cleanup", "done", "failed"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Observer receives progress of a run. Calls for one run are serialized.
type Observer interface {
	StageChanged(runID string, stage Stage)
	UnitsDiscovered(runID string, units int)
	UnitFinished(runID string, res UnitResult)
	RunFinished(runID string, res *Result, err error)
}
