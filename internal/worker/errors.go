package worker

import (
	"errors"
	"fmt"
)

// Stage names the step of the per-item protocol that failed.
type Stage string

const (
	StageTranscode Stage = "transcode"
	StageReplace   Stage = "replace"
	StageRecord    Stage = "record"
)

// ConversionError is a contained per-item failure. It is reported and
// counted, never returned from Run.
type ConversionError struct {
	Path  string
	Stage Stage
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ErrBusy is returned by Run when another run on the same orchestrator is
// still in progress.
var ErrBusy = errors.New("a run is already in progress")

// ErrTargetExists is wrapped when the output path is taken by another file.
var ErrTargetExists = errors.New("target already exists")
