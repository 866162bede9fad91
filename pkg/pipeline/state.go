package pipeline

import "fmt"

// State tracks how far a run has advanced through the processing ladder. Each
// stage method checks the state on entry, so calling stages out of order is a
// programming error surfaced immediately rather than a corrupt artefact
// discovered later.
type State int

const (
	// Uninitialized is a freshly constructed pipeline.
	Uninitialized State = iota

	// RawLoaded means the raw directory has been decoded.
	RawLoaded

	// L0Built means the merged timeseries exists.
	L0Built

	// L1Built means quality control flags have been attached.
	L1Built

	// Finalized means the dataset has been promoted into Final.
	Finalized
)

// String renders the state for logs and errors.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case RawLoaded:
		return "raw-loaded"
	case L0Built:
		return "l0-built"
	case L1Built:
		return "l1-built"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// InvalidTransitionError is returned when a stage method is called from a
// state it cannot follow.
type InvalidTransitionError struct {
	Stage string
	From  State
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot run %s from state %s", e.Stage, e.From)
}
