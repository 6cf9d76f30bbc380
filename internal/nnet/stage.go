// Package nnet defines the layered model driven by the update engine and the
// contract every transformation stage must honor.
package nnet

import "gonum.org/v1/gonum/mat"

// Stage is one layer of a Model. Rows of every matrix passed to a stage are
// laid out chunk-major: numChunks consecutive groups of equal row count, one
// group per example of the minibatch.
type Stage interface {
	// Type returns a short name such as "Affine" or "Splice".
	Type() string

	InputDim() int
	OutputDim() int

	// Propagate computes the stage output for in. The returned matrix is
	// owned by the caller.
	Propagate(in *mat.Dense, numChunks int) (*mat.Dense, error)

	// Backprop returns the gradient of the loss with respect to in, given
	// the gradient with respect to out. If toUpdate is non-nil it must be a
	// stage of the same type, and its parameters receive the update. The
	// input gradient is computed before toUpdate is touched, so toUpdate may
	// be the receiver itself.
	//
	// in is only valid if BackpropNeedsInput reports true, and out only if
	// BackpropNeedsOutput does; otherwise they may be empty.
	Backprop(in, out, outDeriv *mat.Dense, numChunks int, toUpdate Stage) (*mat.Dense, error)

	BackpropNeedsInput() bool
	BackpropNeedsOutput() bool

	// ZeroStats clears any accumulated statistics (not parameters).
	ZeroStats()

	// Clone returns a deep copy.
	Clone() Stage

	// Info returns a one-line human readable summary.
	Info() string
}

// Contexter is implemented by stages that consume temporal context, making
// each chunk's output shorter than its input by left+right rows.
type Contexter interface {
	Context() (left, right int)
}

// Updatable is implemented by stages that hold trainable parameters.
type Updatable interface {
	Stage

	// SetZero zeroes the parameters. With treatAsGradient the stage becomes
	// an accumulator: later updates add the raw loss gradient instead of
	// taking a learning-rate scaled step.
	SetZero(treatAsGradient bool)

	LearningRate() float64
	SetLearningRate(lr float64)
}
