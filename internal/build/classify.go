package build

// Kind is the transition a check produced.
type Kind string

const (
	NoChange       Kind = "NoChange"
	BuildFailed    Kind = "BuildFailed"
	BuildRecovered Kind = "BuildRecovered"
	BuildStable    Kind = "BuildStable"
	NoBuildsFound  Kind = "NoBuildsFound"
)

// Change pairs the previously recorded state with the new one.
// Previous is nil on the first observation of a repository.
type Change struct {
	Previous *BuildState
	New      BuildState
}

// Outcome is the result of classifying one check.
type Outcome struct {
	Kind   Kind
	Change Change
}

// Classify decides the transition from previous to current.
//
//	previous  current  outcome
//	absent    FAILING  BuildFailed
//	PASSING   FAILING  BuildFailed
//	FAILING   PASSING  BuildRecovered
//	PASSING   PASSING  BuildStable
//	absent    PASSING  BuildStable
//	FAILING   FAILING  NoChange
func Classify(previous *BuildState, current BuildState) Outcome {
	change := Change{Previous: previous, New: current}

	wasFailing := previous != nil && previous.State == Failing

	switch {
	case current.State == Failing && wasFailing:
		return Outcome{Kind: NoChange, Change: change}
	case current.State == Failing:
		return Outcome{Kind: BuildFailed, Change: change}
	case wasFailing:
		return Outcome{Kind: BuildRecovered, Change: change}
	default:
		return Outcome{Kind: BuildStable, Change: change}
	}
}
