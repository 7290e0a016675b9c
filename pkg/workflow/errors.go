package workflow

import "fmt"

// Error wraps a failure that escaped a phase.
type Error struct {
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s phase: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func phaseError(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Phase: phase, Err: err}
}
