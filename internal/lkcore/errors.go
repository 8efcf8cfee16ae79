package lkcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for the kinds enumerated in spec §7. Use errors.Is against
// these, not string comparison; StageError.Is matches its Kind against them.
var (
	ErrTransientDetectorMiss = errors.New("transient detector miss")
	ErrDetectorParseError    = errors.New("detector parse error")
	ErrSHMAttachTimeout      = errors.New("shm attach timeout")
	ErrSHMWriteTornRecovery  = errors.New("shm write torn recovery")
	ErrSimulatorTickTimeout  = errors.New("simulator tick timeout")
	ErrConfig                = errors.New("configuration error")
	ErrBroadcasterDropped    = errors.New("broadcaster dropped message")
)

// Fatal reports whether a sentinel (or anything wrapping it) should cause
// the owning process to shut down and exit non-zero, per spec §7.
func Fatal(err error) bool {
	switch {
	case errors.Is(err, ErrSimulatorTickTimeout):
		return true
	case errors.Is(err, ErrConfig):
		return true
	default:
		return false
	}
}

// StageError wraps one tick stage's outcome so the tick loop can match on
// Kind and decide whether to degrade or escalate, instead of using
// exceptions for control flow (spec §9's re-architecture note).
type StageError struct {
	Stage string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
}

func (e *StageError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is lets errors.Is(err, lkcore.ErrSHMAttachTimeout) succeed against a
// *StageError carrying that kind.
func (e *StageError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewStageError builds a StageError for the given stage and sentinel kind.
func NewStageError(stage string, kind error, cause error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: cause}
}
