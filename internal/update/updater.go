package update

import (
	"errors"
	"fmt"
	"log"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

// Config selects the objective.
type Config struct {
	ObjFunc string
	// TargetDim is the target width for CrossEntropySum and SquaredError.
	TargetDim int
}

// DefaultConfig uses CrossEntropy.
func DefaultConfig() Config {
	return Config{ObjFunc: CrossEntropy}
}

// Updater runs one minibatch at a time through a model. Activations of a
// minibatch live from Forward until Backprop or ComputeForMinibatch returns.
// An Updater must not be shared between goroutines; several Updaters may
// share a model.
type Updater struct {
	model     *nnet.Model
	toUpdate  *nnet.Model
	objective Objective

	numChunks int
	forward   []*mat.Dense
}

// NewUpdater evaluates model. If toUpdate is non-nil it receives the
// parameter updates; it may be model itself or a separate accumulator with
// the same layout.
func NewUpdater(model *nnet.Model, cfg Config, toUpdate *nnet.Model) (*Updater, error) {
	obj, err := NewObjective(cfg.ObjFunc, cfg.TargetDim)
	if err != nil {
		return nil, err
	}
	if toUpdate != nil && toUpdate.NumStages() != model.NumStages() {
		return nil, fmt.Errorf("updater: %w: update target has %d stages, model %d",
			nnet.ErrDimensionMismatch, toUpdate.NumStages(), model.NumStages())
	}
	return &Updater{model: model, toUpdate: toUpdate, objective: obj}, nil
}

// ComputeForMinibatch formats egs, propagates, evaluates the objective and,
// if there is an update target, backpropagates into it. It returns the
// weight-summed objective. No activations survive the call.
func (u *Updater) ComputeForMinibatch(egs []dataset.Example) (float64, error) {
	defer u.Release()
	if err := u.Forward(egs); err != nil {
		return 0, err
	}
	objf, _, deriv, err := u.ComputeObjfAndDeriv(egs)
	if err != nil {
		return 0, err
	}
	if u.toUpdate != nil {
		if err := u.Backprop(deriv); err != nil {
			return 0, err
		}
	}
	return objf, nil
}

// Forward formats egs and propagates them through every stage.
func (u *Updater) Forward(egs []dataset.Example) error {
	input, err := FormatInput(u.model, egs)
	if err != nil {
		return err
	}
	u.numChunks = len(egs)
	u.forward = make([]*mat.Dense, u.model.NumStages()+1)
	u.forward[0] = input
	return u.propagate()
}

// ComputeObjfAndDeriv evaluates the objective on the output of the last
// Forward call.
func (u *Updater) ComputeObjfAndDeriv(egs []dataset.Example) (objf, weight float64, deriv *mat.Dense, err error) {
	output := u.Output()
	if output == nil {
		return 0, 0, nil, errors.New("updater: no forward pass")
	}
	rows, _ := output.Dims()
	if rows != u.numChunks || len(egs) != u.numChunks {
		return 0, 0, nil, fmt.Errorf("updater: %w: output has %d rows for %d examples",
			nnet.ErrDimensionMismatch, rows, len(egs))
	}
	return u.objective.Compute(output, BuildLabelTable(egs))
}

// Backprop propagates deriv, the gradient of the objective with respect to
// the output of the last Forward call, back through the model, then releases
// the activations.
func (u *Updater) Backprop(deriv *mat.Dense) error {
	if u.toUpdate == nil {
		return errors.New("updater: backprop without update target")
	}
	if u.Output() == nil {
		return errors.New("updater: no forward pass")
	}
	defer u.Release()
	return u.backprop(deriv)
}

// Release drops the activations of the last Forward call.
func (u *Updater) Release() {
	u.forward = nil
	u.numChunks = 0
}

// Output returns the model output of the last Forward call.
func (u *Updater) Output() *mat.Dense {
	if len(u.forward) == 0 {
		return nil
	}
	return u.forward[len(u.forward)-1]
}

// Activations returns the C+1 activation buffers of the last Forward call,
// or nil once they have been released. Buffers freed during the forward pass
// are empty.
func (u *Updater) Activations() []*mat.Dense {
	return u.forward
}

// ComputeObjf returns the weight-summed objective of model on egs without
// modifying anything.
func ComputeObjf(model *nnet.Model, egs []dataset.Example, cfg Config) (float64, error) {
	u, err := NewUpdater(model, cfg, nil)
	if err != nil {
		return 0, err
	}
	return u.ComputeForMinibatch(egs)
}

// DoBackprop evaluates model on egs and accumulates the updates into
// toUpdate, returning the weight-summed objective. With a nil toUpdate it is
// ComputeObjf. Failures are logged with the model summary and returned as
// *nnet.ComputeError.
func DoBackprop(model *nnet.Model, egs []dataset.Example, cfg Config, toUpdate *nnet.Model) (float64, error) {
	if toUpdate == nil {
		return ComputeObjf(model, egs, cfg)
	}
	u, err := NewUpdater(model, cfg, toUpdate)
	if err != nil {
		return 0, err
	}
	objf, err := u.ComputeForMinibatch(egs)
	if err != nil {
		return 0, ReportFailure(model, err)
	}
	return objf, nil
}

// ReportFailure logs err with the summary of model and wraps both in a
// *nnet.ComputeError.
func ReportFailure(model *nnet.Model, err error) error {
	info := model.Info()
	log.Printf("error doing backprop: %v; model info:\n%s", err, info)
	return &nnet.ComputeError{Info: info, Err: err}
}

// ComputeObjfBatched evaluates set in consecutive chunks of batchSize and
// returns the summed, unnormalized objective.
func ComputeObjfBatched(model *nnet.Model, set []dataset.Example, batchSize int, cfg Config) (float64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("update: batch size must be > 0 (got %d)", batchSize)
	}
	total := 0.0
	for start := 0; start < len(set); start += batchSize {
		objf, err := ComputeObjf(model, set[start:min(start+batchSize, len(set))], cfg)
		if err != nil {
			return 0, err
		}
		total += objf
	}
	return total, nil
}

// ComputeGradient zeroes gradient, turns it into a gradient accumulator and
// sums the gradient of the objective over set into it, batchSize examples at
// a time. It returns the objective normalized by the total label weight.
func ComputeGradient(model *nnet.Model, set []dataset.Example, batchSize int, cfg Config, gradient *nnet.Model) (float64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("update: batch size must be > 0 (got %d)", batchSize)
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("update: %w: empty set", nnet.ErrEmptyInput)
	}
	gradient.SetZero(true)
	total := 0.0
	for start := 0; start < len(set); start += batchSize {
		objf, err := DoBackprop(model, set[start:min(start+batchSize, len(set))], cfg, gradient)
		if err != nil {
			return 0, err
		}
		total += objf
	}
	weight := dataset.TotalWeight(set)
	if weight <= 0 {
		return 0, fmt.Errorf("update: %w: set has zero total weight", nnet.ErrEmptyInput)
	}
	return total / weight, nil
}
