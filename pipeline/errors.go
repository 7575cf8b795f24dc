package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownStageType is wrapped by errors for stages that are neither leaf nor
// nested (or claim to be both).
var ErrUnknownStageType = errors.New("unknown stage type")

// ErrNoAdapter is wrapped by errors for leaf stages appended to a pipeline that
// has no adapter bound.
var ErrNoAdapter = errors.New("leaf stage requires an adapter")

// IsUnknownStage reports whether err is (or wraps) a stage classification failure.
func IsUnknownStage(err error) bool { return errors.Is(err, ErrUnknownStageType) }

// Phase names the step of stage execution that failed.
type Phase string

const (
	PhaseClassify     Phase = "classify"
	PhasePrecondition Phase = "precondition"
	PhaseConfig       Phase = "config"
	PhaseRequest      Phase = "request"
	PhaseNested       Phase = "nested"
	PhaseResult       Phase = "result"
	PhaseMapper       Phase = "mapper"
	PhaseObserver     Phase = "observer"
)

// StageError reports a failure at one stage. The remaining stages never ran.
type StageError struct {
	Index int
	Name  string
	Phase Phase
	Err   error
}

func (e *StageError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("stage %d (%s) %s: %v", e.Index, e.Name, e.Phase, e.Err)
	}
	return fmt.Sprintf("stage %d %s: %v", e.Index, e.Phase, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsOperationFailure reports whether the adapter (or a nested pipeline) failed.
func (e *StageError) IsOperationFailure() bool {
	return e.Phase == PhaseRequest || e.Phase == PhaseResult || e.Phase == PhaseNested
}

// IsTransformationFailure reports whether stage-authored code (config factory,
// mapper, precondition) failed.
func (e *StageError) IsTransformationFailure() bool {
	return e.Phase == PhaseConfig || e.Phase == PhaseMapper || e.Phase == PhasePrecondition
}

func stageErr(index int, s Stage, phase Phase, err error) *StageError {
	return &StageError{Index: index, Name: s.Name, Phase: phase, Err: err}
}
