package task

import "fmt"

// Stage names the part of a run that failed.
type Stage string

const (
	StagePlan     Stage = "plan"
	StageCache    Stage = "cache"
	StageFetch    Stage = "fetch"
	StageAssemble Stage = "assemble"
	StageEncode   Stage = "encode"
)

// StageError tags an error with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: s, Err: err}
}
