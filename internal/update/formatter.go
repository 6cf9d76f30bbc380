// Package update runs minibatches through a model: input formatting, forward
// propagation, objective evaluation and backpropagation, on one goroutine or
// many.
package update

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

// FormatInput assembles the model input for egs. Each example contributes
// LeftContext+1+RightContext consecutive rows of width InputDim: its frames
// followed by its speaker info. Leading frames beyond the model's left context
// are skipped. The examples are not modified.
func FormatInput(model *nnet.Model, egs []dataset.Example) (*mat.Dense, error) {
	if len(egs) == 0 {
		return nil, fmt.Errorf("format input: %w: no examples", nnet.ErrEmptyInput)
	}
	numSplice := model.LeftContext() + 1 + model.RightContext()
	input := mat.NewDense(numSplice*len(egs), model.InputDim(), nil)
	for chunk, eg := range egs {
		if eg.Frames == nil || eg.Frames.IsEmpty() {
			return nil, fmt.Errorf("format input: %w: example %q has no frames", nnet.ErrEmptyInput, eg.Key)
		}
		rows, featDim := eg.Frames.Dims()
		spkDim := len(eg.SpkInfo)
		if featDim+spkDim != model.InputDim() {
			return nil, fmt.Errorf("format input: %w: example %q has width %d+%d, model expects %d",
				nnet.ErrDimensionMismatch, eg.Key, featDim, spkDim, model.InputDim())
		}
		ignore := eg.LeftContext - model.LeftContext()
		if ignore < 0 {
			return nil, fmt.Errorf("format input: %w: example %q has left context %d, model needs %d",
				nnet.ErrDimensionMismatch, eg.Key, eg.LeftContext, model.LeftContext())
		}
		if rows-ignore < numSplice {
			return nil, fmt.Errorf("format input: %w: example %q has %d usable frames, model needs %d",
				nnet.ErrDimensionMismatch, eg.Key, rows-ignore, numSplice)
		}
		for t := 0; t < numSplice; t++ {
			dst := input.RawRowView(chunk*numSplice + t)
			copy(dst[:featDim], eg.Frames.RawRowView(ignore+t))
			copy(dst[featDim:], eg.SpkInfo)
		}
	}
	return input, nil
}
