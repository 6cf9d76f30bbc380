package nnet

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch indicates an example or matrix whose shape disagrees
	// with the model.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrUnsupportedObjective indicates an unknown objective function name.
	ErrUnsupportedObjective = errors.New("unsupported objective")
	// ErrEmptyInput indicates a minibatch or data set with nothing to process.
	ErrEmptyInput = errors.New("empty input")
	// ErrInternalCompute indicates a numeric failure inside a stage.
	ErrInternalCompute = errors.New("internal compute failure")
)

// ComputeError wraps a failure raised while running backprop, together with
// the model summary logged for postmortem diagnosis. The cause stays
// reachable through errors.Is and errors.As.
type ComputeError struct {
	Info string
	Err  error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("backprop failed: %v", e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }
