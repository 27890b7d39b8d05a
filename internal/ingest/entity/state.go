package entity

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned by RunState.Advance for an edge the run
// state machine does not have.
var ErrInvalidTransition = errors.New("invalid run state transition")

// RunState is the lifecycle state of one upload run.
//
//	PLANNING -> UPLOADING -> (RETRYING)* -> COMPLETE | PARTIAL_FAILURE
//
// FAILED is the abort edge for pipeline-fatal errors and is reachable from
// every non-terminal state.
type RunState string

const (
	RunStatePlanning       RunState = "PLANNING"
	RunStateUploading      RunState = "UPLOADING"
	RunStateRetrying       RunState = "RETRYING"
	RunStateComplete       RunState = "COMPLETE"
	RunStatePartialFailure RunState = "PARTIAL_FAILURE"
	RunStateFailed         RunState = "FAILED"
)

//nolint:gochecknoglobals // transition table
var runTransitions = map[RunState][]RunState{
	RunStatePlanning:  {RunStateUploading, RunStateFailed},
	RunStateUploading: {RunStateRetrying, RunStateComplete, RunStateFailed},
	RunStateRetrying:  {RunStateRetrying, RunStateComplete, RunStatePartialFailure, RunStateFailed},
}

// Terminal reports whether no transition leaves s.
func (s RunState) Terminal() bool {
	_, ok := runTransitions[s]
	return !ok
}

// Advance returns next when s -> next is an edge of the state machine.
func (s RunState) Advance(next RunState) (RunState, error) {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return next, nil
		}
	}

	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}
