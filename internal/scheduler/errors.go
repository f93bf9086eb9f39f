package scheduler

import "errors"

var (
	// ErrIllegalTransition is returned by the transition functions for an
	// event that is not valid in the current state.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrDispatchHalted is the cause reported for targets that were not
	// started after a destination root failure.
	ErrDispatchHalted = errors.New("dispatch halted")
)
