package update

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/nnet"
)

// backprop walks the stages from last to first. deriv is handed from stage to
// stage: each step consumes the current gradient and replaces it with the
// gradient for that stage's input, so only one gradient buffer is live.
func (u *Updater) backprop(deriv *mat.Dense) error {
	for c := u.model.NumStages() - 1; c >= 0; c-- {
		stage := u.model.Stage(c)
		var target nnet.Stage
		if u.toUpdate != nil {
			target = u.toUpdate.Stage(c)
		}
		inDeriv, err := stage.Backprop(u.forward[c], u.forward[c+1], deriv, u.numChunks, target)
		if err != nil {
			return fmt.Errorf("backprop stage %d (%s): %w", c, stage.Type(), err)
		}
		deriv = inDeriv
	}
	return nil
}
