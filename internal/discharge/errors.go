package discharge

import (
	"errors"
	"fmt"
)

var (
	// ErrRelayFailure is returned when the discharge relay cannot be switched on.
	ErrRelayFailure = errors.New("relay failure")
	// ErrMalformedSample is returned for a sample that does not fit the configured cells.
	ErrMalformedSample = errors.New("malformed sample")

	// Hardware link error classes.
	ErrConnection = errors.New("hardware connection error")
	ErrActivation = errors.New("hardware activation error")
	ErrRead       = errors.New("hardware read error")

	// ErrNoMessage means the bench has not produced a sample yet.
	ErrNoMessage = errors.New("no message available")
	// ErrAborted is the cause recorded when a run is aborted.
	ErrAborted = errors.New("run aborted")

	errAlreadyRun = errors.New("sequencer has already run")
)

// FatalError is the error a run ends with when it enters the emergency state.
type FatalError struct {
	State State // state in which the fault happened
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error in state %s: %v", e.State, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }
