package update

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/nnet"
)

// propagate fills u.forward[1..C] from u.forward[0]. Buffer c is released as
// soon as forward[c+1] exists unless stage c-1 needs its output or stage c
// needs its input for backprop. At most two buffers are live for a model of
// stages that need neither.
func (u *Updater) propagate() error {
	for c := 0; c < u.model.NumStages(); c++ {
		stage := u.model.Stage(c)
		out, err := stage.Propagate(u.forward[c], u.numChunks)
		if err != nil {
			return fmt.Errorf("propagate stage %d (%s): %w", c, stage.Type(), err)
		}
		if out == u.forward[c] {
			return fmt.Errorf("propagate stage %d (%s): output aliases input", c, stage.Type())
		}
		u.forward[c+1] = out
		if !retainedForBackprop(u.model, c) {
			// Drop the backing array; Reset would keep it reachable.
			u.forward[c] = &mat.Dense{}
		}
	}
	return nil
}

// retainedForBackprop reports whether the activation entering stage c must
// survive until the backward pass.
func retainedForBackprop(model *nnet.Model, c int) bool {
	return (c > 0 && model.Stage(c-1).BackpropNeedsOutput()) ||
		model.Stage(c).BackpropNeedsInput()
}
