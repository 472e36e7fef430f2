package analyzer

import (
	"errors"
	"fmt"
	"time"
)

// Phase identifies which analysis phase produced a failure.
type Phase string

const (
	PhaseDecompile Phase = "decompilation"
	PhaseStorage   Phase = "storage extraction"
)

// ErrTimeout classifies deadline failures; match with errors.Is.
var ErrTimeout = errors.New("analysis timed out")

// ErrStopped is returned by a StorageExtractor that observed its cancel flag.
var ErrStopped = errors.New("analysis stopped by watchdog")

// TimeoutError reports that a phase exceeded its deadline.
type TimeoutError struct {
	Phase Phase
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Phase, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// FaultError reports a panic or internal failure caught at the isolation
// boundary.
type FaultError struct {
	Phase Phase
	Msg   string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s fault: %s", e.Phase, e.Msg)
}

// MalformedError reports input that could not be decoded at all.
type MalformedError struct {
	Msg string
}

func (e *MalformedError) Error() string {
	return "malformed bytecode: " + e.Msg
}

// IsTimeout reports whether err is a deadline failure of either phase.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
