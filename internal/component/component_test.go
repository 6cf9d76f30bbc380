package component

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"nnet-forge/internal/nnet"
)

func TestAffinePropagate(t *testing.T) {
	a, err := NewAffineFromParams(mat.NewDense(2, 3, []float64{1, 0, 0, 0, 1, 1}), []float64{0.5, -1}, 0.1)
	if err != nil {
		t.Fatalf("NewAffineFromParams error: %v", err)
	}
	out, err := a.Propagate(mat.NewDense(1, 3, []float64{2, 3, 4}), 1)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	if out.At(0, 0) != 2.5 || out.At(0, 1) != 6 {
		t.Fatalf("unexpected output %v", mat.Formatted(out))
	}
	if _, err := a.Propagate(mat.NewDense(1, 2, nil), 1); !errors.Is(err, nnet.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestAffineDetectsNaN(t *testing.T) {
	a, _ := NewAffineFromParams(mat.NewDense(1, 1, []float64{1}), []float64{0}, 0.1)
	_, err := a.Propagate(mat.NewDense(1, 1, []float64{math.NaN()}), 1)
	if !errors.Is(err, nnet.ErrInternalCompute) {
		t.Fatalf("expected ErrInternalCompute, got %v", err)
	}
}

// sumSquares is the loss 0.5*||out||^2 whose gradient is out itself.
func sumSquares(m *mat.Dense) float64 {
	raw := m.RawMatrix().Data
	return 0.5 * floats.Dot(raw, raw)
}

func TestAffineGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := NewAffine(3, 2, 0.1, rng)
	in := mat.NewDense(4, 3, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			in.Set(i, j, rng.NormFloat64())
		}
	}
	out, err := a.Propagate(in, 4)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	grad := a.Clone().(*Affine)
	grad.SetZero(true)
	if _, err := a.Backprop(in, out, out, 4, grad); err != nil {
		t.Fatalf("Backprop error: %v", err)
	}

	const eps = 1e-6
	for _, idx := range [][2]int{{0, 0}, {1, 2}} {
		w := a.Weights()
		orig := w.At(idx[0], idx[1])
		w.Set(idx[0], idx[1], orig+eps)
		plus, _ := a.Propagate(in, 4)
		w.Set(idx[0], idx[1], orig-eps)
		minus, _ := a.Propagate(in, 4)
		w.Set(idx[0], idx[1], orig)
		numeric := (sumSquares(plus) - sumSquares(minus)) / (2 * eps)
		analytic := grad.Weights().At(idx[0], idx[1])
		if !scalar.EqualWithinAbs(numeric, analytic, 1e-5) {
			t.Fatalf("w%v: numeric %g analytic %g", idx, numeric, analytic)
		}
	}
}

func TestAffineUpdateStepsAgainstGradient(t *testing.T) {
	a, _ := NewAffineFromParams(mat.NewDense(1, 1, []float64{1}), []float64{0}, 0.5)
	in := mat.NewDense(1, 1, []float64{2})
	deriv := mat.NewDense(1, 1, []float64{1})
	if _, err := a.Backprop(in, nil, deriv, 1, a); err != nil {
		t.Fatalf("Backprop error: %v", err)
	}
	if got := a.Weights().At(0, 0); got != 0 {
		t.Fatalf("expected weight 1 - 0.5*2 = 0, got %g", got)
	}
	if got := a.Bias()[0]; got != -0.5 {
		t.Fatalf("expected bias -0.5, got %g", got)
	}
}

func TestAffineFromStridedView(t *testing.T) {
	backing := mat.NewDense(3, 4, []float64{
		1, 2, 9, 9,
		3, 4, 9, 9,
		9, 9, 9, 9,
	})
	view := backing.Slice(0, 2, 0, 2).(*mat.Dense)
	a, err := NewAffineFromParams(view, []float64{0, 0}, 0.5)
	if err != nil {
		t.Fatalf("NewAffineFromParams error: %v", err)
	}
	in := mat.NewDense(1, 2, []float64{1, 1})
	deriv := mat.NewDense(1, 2, []float64{1, 2})
	if _, err := a.Backprop(in, nil, deriv, 1, a); err != nil {
		t.Fatalf("Backprop error: %v", err)
	}
	want := mat.NewDense(2, 2, []float64{0.5, 1.5, 2, 3})
	if !mat.Equal(a.Weights(), want) {
		t.Fatalf("unexpected weights\n%v", mat.Formatted(a.Weights()))
	}
	if backing.At(0, 0) != 1 || backing.At(0, 2) != 9 {
		t.Fatalf("update leaked into the caller's matrix")
	}
}

func TestSpliceRoundTrip(t *testing.T) {
	s := NewSplice(1, 1, 1)
	in := mat.NewDense(8, 1, []float64{0, 1, 2, 3, 10, 11, 12, 13})
	out, err := s.Propagate(in, 2)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	want := mat.NewDense(4, 3, []float64{
		0, 1, 2,
		1, 2, 3,
		10, 11, 12,
		11, 12, 13,
	})
	if !mat.Equal(out, want) {
		t.Fatalf("unexpected splice output\n%v", mat.Formatted(out))
	}

	ones := mat.NewDense(4, 3, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1})
	inDeriv, err := s.Backprop(nil, nil, ones, 2, nil)
	if err != nil {
		t.Fatalf("Backprop error: %v", err)
	}
	wantDeriv := mat.NewDense(8, 1, []float64{1, 2, 2, 1, 1, 2, 2, 1})
	if !mat.Equal(inDeriv, wantDeriv) {
		t.Fatalf("unexpected splice gradient\n%v", mat.Formatted(inDeriv))
	}
}

func TestSpliceShortChunk(t *testing.T) {
	s := NewSplice(1, 2, 2)
	if _, err := s.Propagate(mat.NewDense(4, 1, nil), 1); !errors.Is(err, nnet.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestTanhBackpropUsesOutput(t *testing.T) {
	th := NewTanh(2)
	in := mat.NewDense(1, 2, []float64{0, 1})
	out, err := th.Propagate(in, 1)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	deriv := mat.NewDense(1, 2, []float64{1, 1})
	inDeriv, err := th.Backprop(&mat.Dense{}, out, deriv, 1, th)
	if err != nil {
		t.Fatalf("Backprop error: %v", err)
	}
	y := math.Tanh(1)
	if inDeriv.At(0, 0) != 1 || !scalar.EqualWithinAbs(inDeriv.At(0, 1), 1-y*y, 1e-12) {
		t.Fatalf("unexpected gradient %v", mat.Formatted(inDeriv))
	}
	if th.Count() != 1 {
		t.Fatalf("expected stats count 1, got %g", th.Count())
	}
	th.ZeroStats()
	if th.Count() != 0 {
		t.Fatalf("ZeroStats did not reset count")
	}
}

func TestReLUMasksNegative(t *testing.T) {
	r := NewReLU(3)
	out, err := r.Propagate(mat.NewDense(1, 3, []float64{-1, 0, 2}), 1)
	if err != nil {
		t.Fatalf("Propagate error: %v", err)
	}
	inDeriv, err := r.Backprop(nil, out, mat.NewDense(1, 3, []float64{5, 5, 5}), 1, nil)
	if err != nil {
		t.Fatalf("Backprop error: %v", err)
	}
	if !mat.Equal(inDeriv, mat.NewDense(1, 3, []float64{0, 0, 5})) {
		t.Fatalf("unexpected gradient %v", mat.Formatted(inDeriv))
	}
}

func TestBuildModel(t *testing.T) {
	m, err := BuildModel(ModelSpec{
		FeatDim: 4, SpkDim: 2, LeftContext: 2, RightContext: 1,
		HiddenDims: []int{8, 6}, NumClasses: 5, Nonlinearity: "relu",
	}, 7)
	if err != nil {
		t.Fatalf("BuildModel error: %v", err)
	}
	if m.InputDim() != 6 || m.OutputDim() != 5 || m.NumStages() != 6 {
		t.Fatalf("unexpected model layout:\n%s", m.Info())
	}
	if m.LeftContext() != 2 || m.RightContext() != 1 {
		t.Fatalf("unexpected context %d/%d", m.LeftContext(), m.RightContext())
	}
	if _, err := BuildModel(ModelSpec{FeatDim: 1, HiddenDims: []int{2}, NumClasses: 2, Nonlinearity: "sigmoid"}, 1); err == nil {
		t.Fatal("expected error for unknown nonlinearity")
	}
}
