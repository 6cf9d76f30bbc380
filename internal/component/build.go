package component

import (
	"fmt"
	"math/rand"

	"nnet-forge/internal/nnet"
)

// ModelSpec describes a feed-forward model built by BuildModel.
type ModelSpec struct {
	FeatDim      int
	SpkDim       int
	LeftContext  int
	RightContext int
	HiddenDims   []int
	NumClasses   int
	LearningRate float64
	Nonlinearity string
}

// BuildModel constructs Splice -> (Affine -> nonlinearity)* -> Affine with
// random weights drawn from seed.
func BuildModel(spec ModelSpec, seed int64) (*nnet.Model, error) {
	inputDim := spec.FeatDim + spec.SpkDim
	if inputDim <= 0 {
		return nil, fmt.Errorf("component: input dim must be > 0 (got %d)", inputDim)
	}
	if spec.NumClasses <= 0 {
		return nil, fmt.Errorf("component: num classes must be > 0 (got %d)", spec.NumClasses)
	}
	if spec.LeftContext < 0 || spec.RightContext < 0 {
		return nil, fmt.Errorf("component: context must be >= 0 (got %d, %d)", spec.LeftContext, spec.RightContext)
	}
	rng := rand.New(rand.NewSource(seed))

	splice := NewSplice(inputDim, spec.LeftContext, spec.RightContext)
	stages := []nnet.Stage{splice}
	dim := splice.OutputDim()
	for _, hidden := range spec.HiddenDims {
		if hidden <= 0 {
			return nil, fmt.Errorf("component: hidden dim must be > 0 (got %d)", hidden)
		}
		stages = append(stages, NewAffine(dim, hidden, spec.LearningRate, rng))
		switch spec.Nonlinearity {
		case "", "tanh":
			stages = append(stages, NewTanh(hidden))
		case "relu":
			stages = append(stages, NewReLU(hidden))
		default:
			return nil, fmt.Errorf("component: unknown nonlinearity %q", spec.Nonlinearity)
		}
		dim = hidden
	}
	stages = append(stages, NewAffine(dim, spec.NumClasses, spec.LearningRate, rng))
	return nnet.NewModel(stages...)
}
