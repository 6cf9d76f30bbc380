package update

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/component"
	"nnet-forge/internal/dataset"
	"nnet-forge/internal/nnet"
)

// identityStage copies its input and records whether backprop was handed a
// buffer it declared it needs after that buffer was released.
type identityStage struct {
	dim         int
	needsIn     bool
	needsOut    bool
	backpropErr error
}

func (s *identityStage) Type() string              { return "Identity" }
func (s *identityStage) InputDim() int             { return s.dim }
func (s *identityStage) OutputDim() int            { return s.dim }
func (s *identityStage) BackpropNeedsInput() bool  { return s.needsIn }
func (s *identityStage) BackpropNeedsOutput() bool { return s.needsOut }
func (s *identityStage) ZeroStats()                {}
func (s *identityStage) Clone() nnet.Stage {
	c := *s
	return &c
}

func (s *identityStage) Info() string {
	return fmt.Sprintf("Identity, dim=%d", s.dim)
}

func (s *identityStage) Propagate(in *mat.Dense, _ int) (*mat.Dense, error) {
	return mat.DenseCopyOf(in), nil
}

func (s *identityStage) Backprop(in, out, outDeriv *mat.Dense, _ int, _ nnet.Stage) (*mat.Dense, error) {
	if s.needsIn && released(in) {
		return nil, errors.New("identity: input was released")
	}
	if s.needsOut && released(out) {
		return nil, errors.New("identity: output was released")
	}
	if s.backpropErr != nil {
		return nil, s.backpropErr
	}
	return mat.DenseCopyOf(outDeriv), nil
}

func released(m *mat.Dense) bool { return m == nil || m.IsEmpty() }

// tinyModel is Splice(1,1) -> Affine -> Tanh -> Affine over 2-dim frames
// with 3 classes.
func tinyModel(t *testing.T, seed int64) *nnet.Model {
	t.Helper()
	m, err := component.BuildModel(component.ModelSpec{
		FeatDim:      2,
		LeftContext:  1,
		RightContext: 1,
		HiddenDims:   []int{4},
		NumClasses:   3,
		LearningRate: 0.1,
	}, seed)
	if err != nil {
		t.Fatalf("BuildModel error: %v", err)
	}
	return m
}

// randomExamples returns n examples of 3 frames by dim columns with a
// class in [0, classes).
func randomExamples(rng *rand.Rand, n, dim, classes int) []dataset.Example {
	egs := make([]dataset.Example, n)
	for i := range egs {
		frames := mat.NewDense(3, dim, nil)
		for r := 0; r < 3; r++ {
			for c := 0; c < dim; c++ {
				frames.Set(r, c, rng.NormFloat64())
			}
		}
		egs[i] = dataset.Example{
			Key:         fmt.Sprintf("eg-%d", i),
			Frames:      frames,
			LeftContext: 1,
			Labels:      []dataset.Label{{Class: rng.Intn(classes), Weight: 0.5 + rng.Float64()}},
		}
	}
	return egs
}
