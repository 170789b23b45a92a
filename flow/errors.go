package flow

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNoStages is returned when running a graph with no stages.
	ErrNoStages = errors.New("graph must have at least one stage")

	// ErrDuplicateStage is returned when multiple stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage name")

	// ErrSelfConnection is returned when a stage is connected to itself.
	ErrSelfConnection = errors.New("stage cannot connect to itself")

	// ErrCyclicGraph is returned when the graph contains a cycle.
	// Cycles would deadlock under bounded queues, so they are rejected
	// before any stage starts.
	ErrCyclicGraph = errors.New("cycle detected in graph")

	// ErrInvalidQueueCapacity is returned for a queue capacity below the minimum.
	ErrInvalidQueueCapacity = errors.New("queue capacity must be at least 1")
)

// StageError wraps an error with stage information.
type StageError struct {
	Stage string
	Shape Shape
	Err   error
}

// Error returns the error message.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage '%s' (%s) failed: %v", e.Stage, e.Shape, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stage string, shape Shape, err error) *StageError {
	return &StageError{
		Stage: stage,
		Shape: shape,
		Err:   err,
	}
}
